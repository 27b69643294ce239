package clientapp

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/phillip-england/asistencias/internal/session"
)

var pages = []string{
	"login.html",
	"kiosk.html",
	"home.html",
	"users.html",
	"user.html",
	"catalog.html",
	"employees.html",
	"employee.html",
	"schedule.html",
	"validation.html",
	"timeline.html",
	"report_users.html",
	"report_summary.html",
	"report_detail.html",
	"error.html",
}

var templateFuncs = template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"derefInt": func(n *int) int {
		if n == nil {
			return 0
		}
		return *n
	},
	"weekday": weekdayName,
	"clock":   clockOf,
}

func parseTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.New(page).Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/partials.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		out[page] = tmpl
	}
	return out, nil
}

type pageData struct {
	Title       string
	Section     string
	CSRF        string
	Error       string
	Message     string
	Usuario     *session.Identity
	CanValidate bool

	Search   string
	Date     string
	Page     int
	HasPrev  bool
	HasNext  bool
	PrevPage int
	NextPage int

	Users     []apiclient.User
	User      *apiclient.User
	Areas     []apiclient.Catalog
	Sites     []apiclient.Catalog
	Catalog   catalogKind
	Items     []apiclient.Catalog
	Employees *apiclient.EmployeePage
	Record    *apiclient.EmployeeRecord
	Sections  []recordSection

	DaySchedule *apiclient.DaySchedule
	Current     []apiclient.Schedule
	History     []apiclient.Schedule
	Week        []weekRow

	Birthdays []apiclient.UpcomingBirthday
	Summary   *apiclient.DaySummary
	Pending   []apiclient.PendingDay
	Timeline  *apiclient.Timeline
	UserID    string
	Events    []string

	Punch   *apiclient.PunchResult
	Query   apiclient.ReportQuery
	Periods []string
	Report  *reportTable
}

// render executes a page inside the layout. Error and Message fall back to the
// query string so redirects can carry them.
func (s *server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	tmpl, ok := s.templates[page]
	if !ok {
		s.log.Error().Str("page", page).Msg("unknown template")
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}

	if ws := workspaceFrom(r.Context()); ws != nil {
		data.CSRF = ws.csrf
		data.Usuario = ws.session.CurrentIdentity()
		data.CanValidate = s.policy.Roles(ws.session, validationRoles...).Allow
	}
	if data.Error == "" {
		data.Error = r.URL.Query().Get("error")
	}
	if data.Message == "" {
		data.Message = r.URL.Query().Get("message")
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.log.Error().Err(err).Str("page", page).Msg("template render failed")
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// loadFailed answers a page whose data could not be fetched. A navigation
// requested by the pipeline wins over the error page.
func (s *server) loadFailed(w http.ResponseWriter, r *http.Request, err error) {
	if target, ok := navigationTarget(r); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	status := http.StatusBadGateway
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		status = apiErr.Status
	}
	s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("backend call failed")
	s.render(w, r, status, "error.html", pageData{Title: "Error", Error: apiclient.Message(err)})
}

// actionFailed sends the browser back to the form it came from with the
// error, unless the pipeline asked to navigate elsewhere.
func (s *server) actionFailed(w http.ResponseWriter, r *http.Request, back string, err error) {
	if target, ok := navigationTarget(r); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	s.log.Info().Err(err).Str("path", r.URL.Path).Msg("action rejected")
	redirectWithError(w, r, back, apiclient.Message(err))
}

func redirectWithError(w http.ResponseWriter, r *http.Request, back, msg string) {
	http.Redirect(w, r, withQuery(back, "error", msg), http.StatusFound)
}

func redirectWithMessage(w http.ResponseWriter, r *http.Request, back, msg string) {
	http.Redirect(w, r, withQuery(back, "message", msg), http.StatusFound)
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}

// stream copies a backend download to the browser as an attachment.
func (s *server) stream(w http.ResponseWriter, r *http.Request, dl *apiclient.Download) {
	defer dl.Close()
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	if dl.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, dl.Body); err != nil {
		s.log.Warn().Err(err).Str("file", dl.Filename).Msg("download interrupted")
	}
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func today() string {
	return time.Now().Format(time.DateOnly)
}

// validDate returns raw when it is a YYYY-MM-DD date, else fallback.
func validDate(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if _, err := time.Parse(time.DateOnly, raw); err != nil {
		return fallback
	}
	return raw
}

var weekdayNames = [...]string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado", "Domingo"}

// weekdayName names a backend weekday, 1 being Monday.
func weekdayName(day int) string {
	if day < 1 || day > len(weekdayNames) {
		return strconv.Itoa(day)
	}
	return weekdayNames[day-1]
}

// clockOf shows the HH:MM part of a backend timestamp.
func clockOf(value string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateTime} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("15:04")
		}
	}
	return value
}
