package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

func (c *Client) ListUsers(ctx context.Context, search string) ([]User, error) {
	query := url.Values{}
	if s := strings.TrimSpace(search); s != "" {
		query.Set("q", s)
	}
	var users []User
	if err := c.do(ctx, http.MethodGet, "/usuarios", query, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/usuarios/"+pathID(id), nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) CreateUser(ctx context.Context, in UserInput) error {
	if in.Password == "" {
		in.Password = in.NumeroDocumento
	}
	return c.do(ctx, http.MethodPost, "/usuarios", nil, in, nil)
}

func (c *Client) UpdateUser(ctx context.Context, id string, in UserInput) error {
	in.Password = ""
	return c.do(ctx, http.MethodPut, "/usuarios/"+pathID(id), nil, in, nil)
}

func (c *Client) SetUserActive(ctx context.Context, id string, active bool) error {
	return c.do(ctx, http.MethodPatch, "/usuarios/"+pathID(id)+"/estado", nil, map[string]bool{"activo": active}, nil)
}

func (c *Client) ListAreas(ctx context.Context, search string) ([]Catalog, error) {
	query := url.Values{}
	if s := strings.TrimSpace(search); s != "" {
		query.Set("q", s)
	}
	return c.listCatalog(ctx, "/areas", query)
}

func (c *Client) ListActiveAreas(ctx context.Context) ([]Catalog, error) {
	return c.listCatalog(ctx, "/areas/activas", nil)
}

func (c *Client) CreateArea(ctx context.Context, in CatalogInput) error {
	return c.do(ctx, http.MethodPost, "/areas", nil, in, nil)
}

func (c *Client) UpdateArea(ctx context.Context, id string, in CatalogInput) error {
	return c.do(ctx, http.MethodPut, "/areas/"+pathID(id), nil, in, nil)
}

func (c *Client) DeactivateArea(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/areas/"+pathID(id)+"/desactivar", nil, struct{}{}, nil)
}

func (c *Client) ListSites(ctx context.Context) ([]Catalog, error) {
	return c.listCatalog(ctx, "/sedes", nil)
}

func (c *Client) ListActiveSites(ctx context.Context) ([]Catalog, error) {
	return c.listCatalog(ctx, "/sedes/activas", nil)
}

func (c *Client) CreateSite(ctx context.Context, in CatalogInput) error {
	return c.do(ctx, http.MethodPost, "/sedes", nil, in, nil)
}

func (c *Client) UpdateSite(ctx context.Context, id string, in CatalogInput) error {
	return c.do(ctx, http.MethodPut, "/sedes/"+pathID(id), nil, in, nil)
}

// DeactivateSite is a POST on the backend, unlike areas.
func (c *Client) DeactivateSite(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sedes/"+pathID(id)+"/desactivar", nil, struct{}{}, nil)
}

func (c *Client) listCatalog(ctx context.Context, path string, query url.Values) ([]Catalog, error) {
	var items []Catalog
	if err := c.do(ctx, http.MethodGet, path, query, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ListEmployees(ctx context.Context, page, limit int, search string) (*EmployeePage, error) {
	query := url.Values{}
	query.Set("pagina", itoa(max(page, 1)))
	query.Set("limite", itoa(max(limit, 1)))
	if s := strings.TrimSpace(search); s != "" {
		query.Set("buscar", s)
	}
	var out EmployeePage
	if err := c.do(ctx, http.MethodGet, "/empleados", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EmployeeRecord(ctx context.Context, id string) (*EmployeeRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/empleados/"+pathID(id)+"/ficha", nil, nil, &raw); err != nil {
		return nil, err
	}
	record := &EmployeeRecord{Raw: raw}
	header := raw
	var wrapper struct {
		Empleado json.RawMessage `json:"empleado"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Empleado) > 0 {
		header = wrapper.Empleado
	}
	if err := json.Unmarshal(header, &record.Employee); err != nil {
		return nil, fmt.Errorf("decode employee record: %w", err)
	}
	return record, nil
}

// UploadEmployeePhoto sends an already normalized image as the "foto" field.
func (c *Client) UploadEmployeePhoto(ctx context.Context, id, filename string, content []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("foto", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/empleados/"+pathID(id)+"/foto", nil, nil)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(body.Bytes()))
	req.ContentLength = int64(body.Len())
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body.Bytes())), nil }
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) EmployeeCardPDF(ctx context.Context, id string) (*Download, error) {
	return c.download(ctx, "/empleados/"+pathID(id)+"/carnet-pdf", nil, "carnet.pdf")
}

func (c *Client) UpcomingBirthdays(ctx context.Context, days int) ([]UpcomingBirthday, error) {
	if days <= 0 {
		days = 5
	}
	var rows []UpcomingBirthday
	if err := c.do(ctx, http.MethodGet, "/empleados/cumpleanos-proximos", url.Values{"dias": {itoa(days)}}, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func dateQuery(date string) url.Values {
	if date == "" {
		return nil
	}
	return url.Values{"fecha": {date}}
}

func (c *Client) ScheduleForDay(ctx context.Context, userID, date string) (*DaySchedule, error) {
	var out DaySchedule
	if err := c.do(ctx, http.MethodGet, "/horarios/dia/"+pathID(userID), dateQuery(date), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CurrentSchedules(ctx context.Context, userID, date string) ([]Schedule, error) {
	var out []Schedule
	if err := c.do(ctx, http.MethodGet, "/horarios/vigente/"+pathID(userID), dateQuery(date), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ScheduleHistory(ctx context.Context, userID string) ([]Schedule, error) {
	var out []Schedule
	if err := c.do(ctx, http.MethodGet, "/horarios/historial/"+pathID(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetWeekSchedule defines a new seven day schedule; the backend closes the
// previous one.
func (c *Client) SetWeekSchedule(ctx context.Context, userID string, week WeekSchedule) error {
	return c.do(ctx, http.MethodPost, "/horarios/semana/"+pathID(userID), nil, week, nil)
}

func (c *Client) CloseSchedule(ctx context.Context, userID, endDate string) error {
	return c.do(ctx, http.MethodPut, "/horarios/cerrar/"+pathID(userID), nil, map[string]string{"fecha_fin": endDate}, nil)
}

func (c *Client) AddScheduleException(ctx context.Context, userID string, exc ScheduleException) error {
	exc.ID = ""
	return c.do(ctx, http.MethodPost, "/horarios/excepcion/"+pathID(userID), nil, exc, nil)
}

func (c *Client) DeleteScheduleException(ctx context.Context, exceptionID string) error {
	return c.do(ctx, http.MethodDelete, "/horarios/excepcion/"+pathID(exceptionID), nil, nil, nil)
}

// Punch registers a check-in or check-out for a known user.
func (c *Client) Punch(ctx context.Context, userID, kind, method string) (*PunchResult, error) {
	if method == "" {
		method = "scanner_barras"
	}
	body := map[string]string{"usuarioId": userID, "tipo": kind, "metodo": method}
	var out PunchResult
	if err := c.do(ctx, http.MethodPost, "/asistencias/marcar", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KioskPunch lets the backend decide which event the identifier is
// registering next.
func (c *Client) KioskPunch(ctx context.Context, identifier string) (*PunchResult, error) {
	var out PunchResult
	body := map[string]string{"identificador": strings.TrimSpace(identifier)}
	if err := c.do(ctx, http.MethodPost, "/asistencias/marcar-auto", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Timeline(ctx context.Context, userID, date string) (*Timeline, error) {
	var out Timeline
	query := url.Values{"usuarioId": {userID}, "fecha": {date}}
	if err := c.do(ctx, http.MethodGet, "/asistencias-admin/timeline", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateManualPunch(ctx context.Context, in ManualPunch) error {
	return c.do(ctx, http.MethodPost, "/asistencias-admin/manual", nil, in, nil)
}

func (c *Client) VoidPunch(ctx context.Context, id, reason string) error {
	body := map[string]any{"motivo": reason, "evidencia": nil}
	return c.do(ctx, http.MethodPut, "/asistencias-admin/"+pathID(id)+"/anular", nil, body, nil)
}

func (c *Client) ApprovePunch(ctx context.Context, id, reason string) error {
	var motivo *string
	if r := strings.TrimSpace(reason); r != "" {
		motivo = &r
	}
	return c.do(ctx, http.MethodPut, "/asistencias-admin/"+pathID(id)+"/aprobar", nil, map[string]*string{"motivo": motivo}, nil)
}

func (c *Client) RejectPunch(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPut, "/asistencias-admin/"+pathID(id)+"/rechazar", nil, map[string]string{"motivo": reason}, nil)
}

func idsQuery(ids []string) string {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			kept = append(kept, id)
		}
	}
	return strings.Join(kept, ",")
}

func (c *Client) PendingDays(ctx context.Context, userIDs []string) ([]PendingDay, error) {
	var out []PendingDay
	query := url.Values{"usuarioIds": {idsQuery(userIDs)}}
	if err := c.do(ctx, http.MethodGet, "/asistencias-admin/pendientes", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DaySummary(ctx context.Context, date string, userIDs []string) (*DaySummary, error) {
	var out DaySummary
	query := url.Values{"fecha": {date}, "usuarioIds": {idsQuery(userIDs)}}
	if err := c.do(ctx, http.MethodGet, "/asistencias-admin/resumen-dia", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportQuery selects the rows of an attendance report, either by period and
// reference date or by an explicit range.
type ReportQuery struct {
	Period string
	Ref    string
	From   string
	To     string
	UserID string
	SiteID string
}

func (q ReportQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	set("period", q.Period)
	set("ref", q.Ref)
	set("desde", q.From)
	set("hasta", q.To)
	set("usuarioId", q.UserID)
	set("sedeId", q.SiteID)
	return v
}

func (q ReportQuery) requireRange() error {
	if strings.TrimSpace(q.From) == "" || strings.TrimSpace(q.To) == "" {
		return &APIError{Status: http.StatusBadRequest, Message: "Debe indicar el rango desde/hasta"}
	}
	return nil
}

func (c *Client) ReportSummary(ctx context.Context, q ReportQuery) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/reportes/resumen", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReportSummaryExcel(ctx context.Context, q ReportQuery) (*Download, error) {
	return c.download(ctx, "/reportes/resumen-excel", q.values(), "reporte_asistencias_resumen.xlsx")
}

func (c *Client) ReportSummaryPDF(ctx context.Context, q ReportQuery) (*Download, error) {
	return c.download(ctx, "/reportes/resumen-pdf", q.values(), "reporte_asistencias_resumen.pdf")
}

func (c *Client) ReportDetailExcel(ctx context.Context, q ReportQuery) (*Download, error) {
	if err := q.requireRange(); err != nil {
		return nil, err
	}
	q.Period, q.Ref = "", ""
	return c.download(ctx, "/reportes/detalle-excel", q.values(), "reporte_asistencias_detalle.xlsx")
}

func (c *Client) ReportDetailPDF(ctx context.Context, q ReportQuery) (*Download, error) {
	if err := q.requireRange(); err != nil {
		return nil, err
	}
	q.Period, q.Ref = "", ""
	return c.download(ctx, "/reportes/detalle-pdf", q.values(), "reporte_asistencias_detalle.pdf")
}

func (c *Client) UsersExcel(ctx context.Context) (*Download, error) {
	return c.download(ctx, "/reportes/usuarios-excel", nil, "reporte-usuarios.xlsx")
}

func (c *Client) UsersPDF(ctx context.Context) (*Download, error) {
	return c.download(ctx, "/reportes/usuarios-pdf", nil, "reporte-usuarios.pdf")
}

// Download is a binary answer still being streamed from the backend. The
// caller must Close it.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

func (d *Download) Close() error {
	return d.Body.Close()
}

func (c *Client) download(ctx context.Context, path string, query url.Values, fallbackName string) (*Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}

	filename := fallbackName
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Download{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      filename,
	}, nil
}
