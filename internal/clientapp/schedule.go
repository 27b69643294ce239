package clientapp

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/phillip-england/asistencias/internal/apiclient"
)

const defaultTolerance = 15

type weekRow struct {
	Dia    int
	Nombre string
	Row    *apiclient.Schedule
}

func scheduleBack(id string) string {
	return "/panel/empleados/" + url.PathEscape(id) + "/horario"
}

func (s *server) schedulePage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	date := validDate(r.URL.Query().Get("fecha"), today())

	user, err := ws.client.GetUser(ctx, id)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	day, err := ws.client.ScheduleForDay(ctx, id, date)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	current, err := ws.client.CurrentSchedules(ctx, id, date)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	history, err := ws.client.ScheduleHistory(ctx, id)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "schedule.html", pageData{
		Title:       "Horario",
		Section:     "empleados",
		User:        user,
		UserID:      id,
		Date:        date,
		DaySchedule: day,
		Current:     current,
		History:     history,
		Week:        weekRows(current),
	})
}

func weekRows(current []apiclient.Schedule) []weekRow {
	rows := make([]weekRow, 0, len(weekdayNames))
	for day := 1; day <= len(weekdayNames); day++ {
		row := weekRow{Dia: day, Nombre: weekdayName(day)}
		for i := range current {
			if current[i].DiaSemana == day {
				row.Row = &current[i]
				break
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func optionalTime(r *http.Request, key string) *string {
	value := trimmedForm(r, key)
	if value == "" {
		return nil
	}
	return &value
}

// weekFromForm reads the seven day form. Working days need a start and an
// end, and a second shift needs both of its ends.
func weekFromForm(r *http.Request) (apiclient.WeekSchedule, error) {
	week := apiclient.WeekSchedule{FechaInicio: validDate(r.FormValue("fecha_inicio"), "")}
	if week.FechaInicio == "" {
		return week, fmt.Errorf("indique la fecha de inicio")
	}
	for day := 1; day <= len(weekdayNames); day++ {
		item := apiclient.WeekDay{
			Dia:           day,
			EsDescanso:    r.FormValue(fmt.Sprintf("descanso_%d", day)) != "",
			ToleranciaMin: defaultTolerance,
		}
		if tol := trimmedForm(r, fmt.Sprintf("tolerancia_%d", day)); tol != "" {
			item.ToleranciaMin = max(formInt(r, fmt.Sprintf("tolerancia_%d", day)), 0)
		}
		if !item.EsDescanso {
			item.HoraInicio = optionalTime(r, fmt.Sprintf("inicio_%d", day))
			item.HoraFin = optionalTime(r, fmt.Sprintf("fin_%d", day))
			item.HoraInicio2 = optionalTime(r, fmt.Sprintf("inicio2_%d", day))
			item.HoraFin2 = optionalTime(r, fmt.Sprintf("fin2_%d", day))

			name := weekdayName(day)
			switch {
			case item.HoraInicio == nil || item.HoraFin == nil:
				return week, fmt.Errorf("%s: indique hora de inicio y fin o márquelo como descanso", name)
			case *item.HoraInicio >= *item.HoraFin:
				return week, fmt.Errorf("%s: la hora de inicio debe ser anterior a la de fin", name)
			case (item.HoraInicio2 == nil) != (item.HoraFin2 == nil):
				return week, fmt.Errorf("%s: el segundo turno necesita inicio y fin", name)
			case item.HoraInicio2 != nil && *item.HoraInicio2 <= *item.HoraFin:
				return week, fmt.Errorf("%s: el segundo turno debe empezar después del primero", name)
			}
		}
		week.Items = append(week.Items, item)
	}
	return week, nil
}

func (s *server) setWeekSchedule(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	week, err := weekFromForm(r)
	if err != nil {
		redirectWithError(w, r, scheduleBack(id), err.Error())
		return
	}
	if err := ws.client.SetWeekSchedule(r.Context(), id, week); err != nil {
		s.actionFailed(w, r, scheduleBack(id), err)
		return
	}
	redirectWithMessage(w, r, scheduleBack(id), "Horario guardado")
}

func (s *server) closeSchedule(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	end := validDate(r.FormValue("fecha_fin"), "")
	if end == "" {
		redirectWithError(w, r, scheduleBack(id), "Indique la fecha de fin")
		return
	}
	if err := ws.client.CloseSchedule(r.Context(), id, end); err != nil {
		s.actionFailed(w, r, scheduleBack(id), err)
		return
	}
	redirectWithMessage(w, r, scheduleBack(id), "Vigencia cerrada al "+end)
}

func (s *server) addScheduleException(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	exc := apiclient.ScheduleException{
		Fecha:       validDate(r.FormValue("fecha"), ""),
		Tipo:        trimmedForm(r, "tipo"),
		EsLaborable: r.FormValue("es_laborable") != "",
		Observacion: optionalTime(r, "observacion"),
	}
	if exc.Fecha == "" {
		redirectWithError(w, r, scheduleBack(id), "Indique la fecha de la excepción")
		return
	}
	if exc.Tipo == "" {
		exc.Tipo = "Horario especial"
	}
	if exc.EsLaborable {
		exc.HoraInicio = optionalTime(r, "hora_inicio")
		exc.HoraFin = optionalTime(r, "hora_fin")
		if exc.HoraInicio == nil || exc.HoraFin == nil {
			redirectWithError(w, r, scheduleBack(id), "Un día laborable necesita hora de inicio y fin")
			return
		}
	}
	back := scheduleBack(id) + "?fecha=" + url.QueryEscape(exc.Fecha)
	if err := ws.client.AddScheduleException(r.Context(), id, exc); err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	redirectWithMessage(w, r, back, "Excepción registrada")
}

func (s *server) deleteScheduleException(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := ws.client.DeleteScheduleException(r.Context(), chi.URLParam(r, "excepcionId")); err != nil {
		s.actionFailed(w, r, scheduleBack(id), err)
		return
	}
	redirectWithMessage(w, r, scheduleBack(id), "Excepción eliminada")
}
