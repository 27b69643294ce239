package clientapp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/phillip-england/asistencias/internal/importsheet"
	"github.com/phillip-england/asistencias/internal/photo"
	"github.com/tidwall/gjson"
)

const employeesPerPage = 20

func (s *server) employeesPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	page := parsePositiveInt(r.URL.Query().Get("pagina"), 1)
	search := r.URL.Query().Get("buscar")

	list, err := ws.client.ListEmployees(r.Context(), page, employeesPerPage, search)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	data := pageData{
		Title:     "Empleados",
		Section:   "empleados",
		Search:    search,
		Employees: list,
		Page:      page,
		HasPrev:   page > 1,
		HasNext:   page < list.Pages(),
		PrevPage:  max(1, page-1),
		NextPage:  page + 1,
	}
	if err := s.loadCatalogs(r, &data); err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "employees.html", data)
}

// importEmployees creates one user per roster row, one request at a time.
// Row problems are reported back; a rejected session or an unreachable
// backend stops the import.
func (s *server) importEmployees(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	const back = "/panel/empleados"

	file, header, err := r.FormFile("archivo")
	if err != nil {
		redirectWithError(w, r, back, "Seleccione un archivo .xlsx o .xls")
		return
	}
	defer file.Close()

	rows, err := importsheet.ReadRows(file, header.Filename)
	if err != nil {
		redirectWithError(w, r, back, "No se pudo leer el archivo: "+err.Error())
		return
	}
	employees, problems, err := importsheet.ParseEmployees(rows)
	if err != nil {
		redirectWithError(w, r, back, err.Error())
		return
	}

	rolID, sedeID, areaID := trimmedForm(r, "rol_id"), trimmedForm(r, "sede_id"), trimmedForm(r, "area_id")
	var failures []string
	for _, p := range problems {
		failures = append(failures, p.Error())
	}

	created := 0
	for _, emp := range employees {
		in := apiclient.UserInput{
			Nombre:          emp.Nombre,
			ApellidoPaterno: emp.ApellidoPaterno,
			ApellidoMaterno: emp.ApellidoMaterno,
			NumeroDocumento: emp.NumeroDocumento,
			EmailPersonal:   emp.Email,
			TelefonoCelular: emp.Telefono,
			RolID:           rolID,
			SedeID:          sedeID,
			AreaID:          areaID,
			Activo:          true,
		}
		if emp.FechaNacimiento != "" {
			birthday := emp.FechaNacimiento
			in.FechaNacimiento = &birthday
		}
		if err := ws.client.CreateUser(r.Context(), in); err != nil {
			if errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrUnavailable) {
				s.log.Warn().Err(err).Int("created", created).Msg("employee import interrupted")
				s.actionFailed(w, r, back, err)
				return
			}
			failures = append(failures, fmt.Sprintf("fila %d: %s", emp.Line, apiclient.Message(err)))
			continue
		}
		created++
	}

	s.log.Info().
		Str("file", header.Filename).
		Int("created", created).
		Int("failed", len(failures)).
		Msg("employee import finished")

	target := withQuery(back, "message", fmt.Sprintf("%d empleados importados", created))
	if len(failures) > 0 {
		target = withQuery(target, "error", summarize(failures, 5))
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func summarize(lines []string, limit int) string {
	if len(lines) <= limit {
		return strings.Join(lines, "; ")
	}
	return strings.Join(lines[:limit], "; ") + fmt.Sprintf("; y %d más", len(lines)-limit)
}

func (s *server) employeePage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	record, err := ws.client.EmployeeRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "employee.html", pageData{
		Title:    record.Employee.FullName(),
		Section:  "empleados",
		Record:   record,
		Sections: recordSections(record.Raw),
	})
}

type recordRow struct {
	Label string
	Value string
}

type recordSection struct {
	Title string
	Rows  []recordRow
}

// recordSections lays out the parts of an employee record the page does not
// model: top-level scalars under "General" and each nested object as its own
// section. Lists are summarized by their size.
func recordSections(raw []byte) []recordSection {
	doc := gjson.ParseBytes(raw)
	if wrapped := doc.Get("empleado"); wrapped.IsObject() && len(doc.Map()) == 1 {
		doc = wrapped
	}

	general := recordSection{Title: "General"}
	var nested []recordSection
	doc.ForEach(func(key, value gjson.Result) bool {
		label := humanize(key.String())
		switch {
		case value.IsObject():
			section := recordSection{Title: label}
			value.ForEach(func(k, v gjson.Result) bool {
				if v.IsObject() || v.IsArray() || v.Type == gjson.Null {
					return true
				}
				section.Rows = append(section.Rows, recordRow{Label: humanize(k.String()), Value: v.String()})
				return true
			})
			if len(section.Rows) > 0 {
				nested = append(nested, section)
			}
		case value.IsArray():
			general.Rows = append(general.Rows, recordRow{Label: label, Value: strconv.Itoa(len(value.Array())) + " registros"})
		case value.Type == gjson.Null:
		default:
			general.Rows = append(general.Rows, recordRow{Label: label, Value: value.String()})
		}
		return true
	})

	if len(general.Rows) == 0 {
		return nested
	}
	return append([]recordSection{general}, nested...)
}

func humanize(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
	if key == "" {
		return key
	}
	first, size := utf8.DecodeRuneInString(key)
	return string(unicode.ToUpper(first)) + key[size:]
}

func (s *server) uploadEmployeePhoto(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	back := "/panel/empleados/" + url.PathEscape(id)

	file, _, err := r.FormFile("foto")
	if err != nil {
		redirectWithError(w, r, back, "Seleccione una foto")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, photo.MaxBytes+1))
	if err != nil {
		redirectWithError(w, r, back, "No se pudo leer la foto")
		return
	}
	normalized, err := photo.Normalize(raw, photo.Crop{
		X:    formInt(r, "crop_x"),
		Y:    formInt(r, "crop_y"),
		Size: formInt(r, "crop_size"),
	})
	if err != nil {
		redirectWithError(w, r, back, err.Error())
		return
	}

	if err := ws.client.UploadEmployeePhoto(r.Context(), id, "foto.png", normalized); err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	redirectWithMessage(w, r, back, "Foto actualizada")
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(trimmedForm(r, key))
	if err != nil {
		return 0
	}
	return n
}

func (s *server) employeeCard(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	dl, err := ws.client.EmployeeCardPDF(r.Context(), id)
	if err != nil {
		s.actionFailed(w, r, "/panel/empleados/"+url.PathEscape(id), err)
		return
	}
	s.stream(w, r, dl)
}
