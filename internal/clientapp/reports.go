package clientapp

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/tidwall/gjson"
)

var reportPeriods = []string{"semana", "quincena", "mes", "bimestre", "trimestre", "semestre", "anual"}

type downloadFunc func(ctx context.Context) (*apiclient.Download, error)

// reportQueryFrom reads the report filters. A range wins over a period when
// the form asks for one.
func reportQueryFrom(r *http.Request) apiclient.ReportQuery {
	values := r.URL.Query()
	q := apiclient.ReportQuery{
		UserID: strings.TrimSpace(values.Get("usuarioId")),
		SiteID: strings.TrimSpace(values.Get("sedeId")),
	}
	if values.Get("modo") == "rango" || (values.Get("desde") != "" && values.Get("period") == "") {
		q.From = validDate(values.Get("desde"), "")
		q.To = validDate(values.Get("hasta"), "")
		return q
	}
	q.Period = values.Get("period")
	if !slices.Contains(reportPeriods, q.Period) {
		q.Period = "mes"
	}
	q.Ref = validDate(values.Get("ref"), today())
	return q
}

// reportTable is a backend report flattened for display.
type reportTable struct {
	Headers []string
	Rows    [][]string
}

// buildReportTable accepts either a list of objects or an object wrapping
// one. An object with no list becomes a two column table of its scalars.
func buildReportTable(raw []byte) *reportTable {
	doc := gjson.ParseBytes(raw)
	list := doc
	if !list.IsArray() {
		for _, key := range []string{"datos", "filas", "rows", "items", "data"} {
			if v := doc.Get(key); v.IsArray() {
				list = v
				break
			}
		}
	}

	if !list.IsArray() {
		if !doc.IsObject() {
			return nil
		}
		table := &reportTable{Headers: []string{"Campo", "Valor"}}
		doc.ForEach(func(key, value gjson.Result) bool {
			if !value.IsObject() && !value.IsArray() {
				table.Rows = append(table.Rows, []string{humanize(key.String()), cellText(value)})
			}
			return true
		})
		return table
	}

	index := map[string]int{}
	var keys []string
	list.ForEach(func(_, row gjson.Result) bool {
		row.ForEach(func(key, _ gjson.Result) bool {
			if _, ok := index[key.String()]; !ok {
				index[key.String()] = len(keys)
				keys = append(keys, key.String())
			}
			return true
		})
		return true
	})

	table := &reportTable{}
	for _, key := range keys {
		table.Headers = append(table.Headers, humanize(key))
	}
	list.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			return true
		}
		cells := make([]string, len(keys))
		row.ForEach(func(key, value gjson.Result) bool {
			cells[index[key.String()]] = cellText(value)
			return true
		})
		table.Rows = append(table.Rows, cells)
		return true
	})
	return table
}

func cellText(v gjson.Result) string {
	switch {
	case v.Type == gjson.Null:
		return ""
	case v.IsObject(), v.IsArray():
		return v.Raw
	default:
		return v.String()
	}
}

func (s *server) usersReportPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "report_users.html", pageData{Title: "Reporte de usuarios", Section: "reportes"})
}

func (s *server) usersReportDownload(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	s.download(w, r, "/panel/reportes/usuarios", map[string]downloadFunc{
		"excel": ws.client.UsersExcel,
		"pdf":   ws.client.UsersPDF,
	})
}

func (s *server) summaryReportPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := reportQueryFrom(r)
	data := pageData{Title: "Reporte de asistencias", Section: "reportes", Query: q, Periods: reportPeriods}

	sites, err := ws.client.ListActiveSites(r.Context())
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	data.Sites = sites

	if r.URL.Query().Has("ver") {
		raw, err := ws.client.ReportSummary(r.Context(), q)
		if err != nil {
			s.loadFailed(w, r, err)
			return
		}
		data.Report = buildReportTable(raw)
	}
	s.render(w, r, http.StatusOK, "report_summary.html", data)
}

func (s *server) summaryReportDownload(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := reportQueryFrom(r)
	s.download(w, r, "/panel/reportes/asistencias", map[string]downloadFunc{
		"excel": func(ctx context.Context) (*apiclient.Download, error) { return ws.client.ReportSummaryExcel(ctx, q) },
		"pdf":   func(ctx context.Context) (*apiclient.Download, error) { return ws.client.ReportSummaryPDF(ctx, q) },
	})
}

func (s *server) detailReportPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := reportQueryFrom(r)
	if q.From == "" && q.To == "" {
		q = apiclient.ReportQuery{From: today(), To: today(), UserID: q.UserID, SiteID: q.SiteID}
	}
	sites, err := ws.client.ListActiveSites(r.Context())
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "report_detail.html", pageData{
		Title:   "Detalle de asistencias",
		Section: "reportes",
		Query:   q,
		Sites:   sites,
	})
}

func (s *server) detailReportDownload(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := reportQueryFrom(r)
	q.Period, q.Ref = "", ""
	s.download(w, r, "/panel/reportes/asistencias-detalle", map[string]downloadFunc{
		"excel": func(ctx context.Context) (*apiclient.Download, error) { return ws.client.ReportDetailExcel(ctx, q) },
		"pdf":   func(ctx context.Context) (*apiclient.Download, error) { return ws.client.ReportDetailPDF(ctx, q) },
	})
}

// download streams the format named in the path. Failures go back to the
// report form with its filters kept.
func (s *server) download(w http.ResponseWriter, r *http.Request, back string, formats map[string]downloadFunc) {
	fetch, ok := formats[chi.URLParam(r, "formato")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.URL.RawQuery != "" {
		back += "?" + r.URL.RawQuery
	}
	dl, err := fetch(r.Context())
	if err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	s.log.Info().Str("file", dl.Filename).Str("path", r.URL.Path).Msg("report download")
	s.stream(w, r, dl)
}
