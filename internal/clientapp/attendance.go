package clientapp

import (
	"net/http"
	"net/url"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/phillip-england/asistencias/internal/apiclient"
)

// attendanceEvents are the events a supervisor may register by hand.
var attendanceEvents = []string{"JORNADA_IN", "REFRIGERIO_OUT", "REFRIGERIO_IN", "JORNADA_OUT"}

func timelineBack(userID, date string) string {
	return "/panel/empleados/asistencias/" + url.PathEscape(userID) + "/" + url.PathEscape(date)
}

func (s *server) validationPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	date := validDate(r.URL.Query().Get("fecha"), today())

	pending, err := ws.client.PendingDays(r.Context(), nil)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	summary, err := ws.client.DaySummary(r.Context(), date, nil)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "validation.html", pageData{
		Title:   "Validación de asistencias",
		Section: "validacion",
		Date:    date,
		Pending: pending,
		Summary: summary,
	})
}

func (s *server) timelinePage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	userID := chi.URLParam(r, "usuarioId")
	date := validDate(chi.URLParam(r, "fecha"), "")
	if date == "" {
		redirectWithError(w, r, "/panel/empleados/asistencias", "Fecha inválida")
		return
	}

	timeline, err := ws.client.Timeline(r.Context(), userID, date)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "timeline.html", pageData{
		Title:    "Marcaciones del " + date,
		Section:  "validacion",
		Date:     date,
		UserID:   userID,
		Timeline: timeline,
		Events:   attendanceEvents,
	})
}

func (s *server) createManualPunch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	in := apiclient.ManualPunch{
		UsuarioID: chi.URLParam(r, "usuarioId"),
		Fecha:     validDate(chi.URLParam(r, "fecha"), ""),
		Hora:      trimmedForm(r, "hora"),
		Evento:    trimmedForm(r, "evento"),
		Motivo:    trimmedForm(r, "motivo"),
	}
	back := timelineBack(in.UsuarioID, chi.URLParam(r, "fecha"))
	switch {
	case in.Fecha == "":
		redirectWithError(w, r, "/panel/empleados/asistencias", "Fecha inválida")
		return
	case in.Hora == "":
		redirectWithError(w, r, back, "La hora es obligatoria")
		return
	case in.Motivo == "":
		redirectWithError(w, r, back, "El motivo es obligatorio")
		return
	case !slices.Contains(attendanceEvents, in.Evento):
		redirectWithError(w, r, back, "Evento inválido")
		return
	}

	if err := ws.client.CreateManualPunch(r.Context(), in); err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	s.log.Info().
		Str("usuario", in.UsuarioID).
		Str("fecha", in.Fecha).
		Str("evento", in.Evento).
		Msg("manual punch created")
	redirectWithMessage(w, r, back, "Marcación manual registrada")
}

// reviewPunch approves, rejects or voids one punch. Rejecting and voiding
// need a reason.
func (s *server) reviewPunch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	back := timelineBack(chi.URLParam(r, "usuarioId"), chi.URLParam(r, "fecha"))
	punchID := chi.URLParam(r, "marcaId")
	reason := trimmedForm(r, "motivo")

	var (
		err error
		msg string
	)
	switch chi.URLParam(r, "accion") {
	case "aprobar":
		msg = "Marcación aprobada"
		err = ws.client.ApprovePunch(r.Context(), punchID, reason)
	case "rechazar":
		if reason == "" {
			redirectWithError(w, r, back, "El motivo es obligatorio para rechazar")
			return
		}
		msg = "Marcación rechazada"
		err = ws.client.RejectPunch(r.Context(), punchID, reason)
	case "anular":
		if reason == "" {
			redirectWithError(w, r, back, "El motivo es obligatorio para anular")
			return
		}
		msg = "Marcación anulada"
		err = ws.client.VoidPunch(r.Context(), punchID, reason)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	redirectWithMessage(w, r, back, msg)
}
