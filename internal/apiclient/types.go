package apiclient

import "encoding/json"

type User struct {
	ID                 ID      `json:"id"`
	Nombre             string  `json:"nombre"`
	ApellidoPaterno    string  `json:"apellido_paterno"`
	ApellidoMaterno    string  `json:"apellido_materno"`
	NumeroDocumento    string  `json:"numero_documento"`
	FechaNacimiento    *string `json:"fecha_nacimiento"`
	EmailPersonal      string  `json:"email_personal"`
	EmailInstitucional string  `json:"email_institucional"`
	TelefonoCelular    string  `json:"telefono_celular"`
	RolID              ID      `json:"rol_id"`
	Rol                string  `json:"rol"`
	SedeID             ID      `json:"sede_id"`
	Sede               string  `json:"sede"`
	AreaID             ID      `json:"area_id"`
	Area               string  `json:"area"`
	Activo             bool    `json:"activo"`
}

// UserInput is the create/update payload for a user. Password is only sent on
// creation.
type UserInput struct {
	Nombre             string  `json:"nombre"`
	ApellidoPaterno    string  `json:"apellido_paterno"`
	ApellidoMaterno    string  `json:"apellido_materno"`
	NumeroDocumento    string  `json:"numero_documento"`
	FechaNacimiento    *string `json:"fecha_nacimiento"`
	EmailPersonal      string  `json:"email_personal"`
	EmailInstitucional string  `json:"email_institucional,omitempty"`
	TelefonoCelular    string  `json:"telefono_celular,omitempty"`
	RolID              string  `json:"rol_id"`
	SedeID             string  `json:"sede_id"`
	AreaID             string  `json:"area_id"`
	Activo             bool    `json:"activo"`
	Password           string  `json:"password,omitempty"`
}

// Catalog is an area or a site.
type Catalog struct {
	ID     ID     `json:"id"`
	Nombre string `json:"nombre"`
	Activo bool   `json:"activo"`
}

type CatalogInput struct {
	Nombre string `json:"nombre"`
	Activo bool   `json:"activo"`
}

type Employee struct {
	ID              ID      `json:"id"`
	Nombre          string  `json:"nombre"`
	ApellidoPaterno string  `json:"apellido_paterno"`
	ApellidoMaterno string  `json:"apellido_materno"`
	NumeroDocumento string  `json:"numero_documento"`
	FotoURL         *string `json:"foto_url"`
	Sede            *string `json:"sede"`
	Area            *string `json:"area"`
	Rol             *string `json:"rol"`
	Activo          bool    `json:"activo"`
}

func (e Employee) FullName() string {
	return joinName(e.Nombre, e.ApellidoPaterno, e.ApellidoMaterno)
}

type EmployeePage struct {
	Datos  []Employee `json:"datos"`
	Total  int        `json:"total"`
	Pagina int        `json:"pagina"`
	Limite int        `json:"limite"`
}

// Pages is the number of pages needed for Total at Limite per page.
func (p EmployeePage) Pages() int {
	if p.Limite <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.Limite - 1) / p.Limite
}

// EmployeeRecord is the employee ficha. The backend composes it from several
// tables, so only the header is modelled and the rest is kept raw.
type EmployeeRecord struct {
	Employee Employee
	Raw      json.RawMessage
}

type UpcomingBirthday struct {
	ID              ID      `json:"id"`
	Nombre          string  `json:"nombre"`
	ApellidoPaterno string  `json:"apellido_paterno"`
	ApellidoMaterno string  `json:"apellido_materno"`
	NumeroDocumento *string `json:"numero_documento"`
	FechaNacimiento string  `json:"fecha_nacimiento"`
	ProximoCumple   string  `json:"proximo_cumple"`
	DiasFaltan      int     `json:"dias_faltan"`
}

func (b UpcomingBirthday) FullName() string {
	return joinName(b.Nombre, b.ApellidoPaterno, b.ApellidoMaterno)
}

// Schedule is one weekday row of a schedule version. Days run from 1 (Monday)
// to 7 (Sunday).
type Schedule struct {
	ID            ID      `json:"id"`
	DiaSemana     int     `json:"dia_semana"`
	EsDescanso    bool    `json:"es_descanso"`
	HoraInicio    *string `json:"hora_inicio"`
	HoraFin       *string `json:"hora_fin"`
	HoraInicio2   *string `json:"hora_inicio_2"`
	HoraFin2      *string `json:"hora_fin_2"`
	ToleranciaMin *int    `json:"tolerancia_min"`
	FechaInicio   string  `json:"fecha_inicio"`
	FechaFin      *string `json:"fecha_fin"`
}

type ScheduleException struct {
	ID          ID      `json:"id,omitempty"`
	Fecha       string  `json:"fecha"`
	Tipo        string  `json:"tipo"`
	EsLaborable bool    `json:"es_laborable"`
	HoraInicio  *string `json:"hora_inicio"`
	HoraFin     *string `json:"hora_fin"`
	Observacion *string `json:"observacion"`
}

// DaySchedule is the effective schedule of one user on one date.
type DaySchedule struct {
	Fecha     string             `json:"fecha"`
	Horario   *Schedule          `json:"horario"`
	Excepcion *ScheduleException `json:"excepcion"`
}

type WeekDay struct {
	Dia           int     `json:"dia"`
	EsDescanso    bool    `json:"es_descanso"`
	HoraInicio    *string `json:"hora_inicio"`
	HoraFin       *string `json:"hora_fin"`
	HoraInicio2   *string `json:"hora_inicio_2"`
	HoraFin2      *string `json:"hora_fin_2"`
	ToleranciaMin int     `json:"tolerancia_min"`
}

type WeekSchedule struct {
	FechaInicio string    `json:"fecha_inicio"`
	Items       []WeekDay `json:"items"`
}

type PunchGeo struct {
	OK        bool     `json:"ok"`
	Modo      string   `json:"modo"`
	Distancia *float64 `json:"distancia"`
	Radio     *float64 `json:"radio"`
}

type PunchEmployee struct {
	ID              ID      `json:"id"`
	Nombre          string  `json:"nombre"`
	ApellidoPaterno string  `json:"apellido_paterno"`
	ApellidoMaterno string  `json:"apellido_materno"`
	FotoURL         *string `json:"foto_url"`
	Sede            *string `json:"sede"`
	Area            *string `json:"area"`
}

func (e PunchEmployee) FullName() string {
	return joinName(e.Nombre, e.ApellidoPaterno, e.ApellidoMaterno)
}

// PunchResult is the answer to a check-in or check-out.
type PunchResult struct {
	OK           bool           `json:"ok"`
	Estado       string         `json:"estado"`
	Evento       string         `json:"evento"`
	Tipo         string         `json:"tipo"`
	Geo          PunchGeo       `json:"geo"`
	MinutosTarde *int           `json:"minutos_tarde"`
	Empleado     *PunchEmployee `json:"empleado"`
}

type AttendanceRow struct {
	ID               ID     `json:"id"`
	UsuarioID        ID     `json:"usuario_id"`
	FechaHora        string `json:"fecha_hora"`
	Evento           string `json:"evento"`
	Tipo             string `json:"tipo"`
	Metodo           string `json:"metodo"`
	EstadoValidacion string `json:"estado_validacion"`
	MinutosTarde     *int   `json:"minutos_tarde"`
}

type TimelineEmployee struct {
	ID              ID      `json:"id"`
	Nombre          string  `json:"nombre"`
	ApellidoPaterno *string `json:"apellido_paterno"`
	ApellidoMaterno *string `json:"apellido_materno"`
	NumeroDocumento *string `json:"numero_documento"`
	NombreCompleto  string  `json:"nombre_completo"`
}

type Timeline struct {
	Empleado TimelineEmployee `json:"empleado"`
	Timeline []AttendanceRow  `json:"timeline"`
}

type ManualPunch struct {
	UsuarioID string `json:"usuarioId"`
	Fecha     string `json:"fecha"`
	Hora      string `json:"hora"`
	Evento    string `json:"evento"`
	Motivo    string `json:"motivo"`
}

type PendingDay struct {
	UsuarioID      ID     `json:"usuario_id"`
	FechaPendiente string `json:"fecha_pendiente"`
}

type DayArrival struct {
	UsuarioID       ID      `json:"usuario_id"`
	NombreCompleto  string  `json:"nombre_completo"`
	NumeroDocumento *string `json:"numero_documento"`
	FechaHoraIn     string  `json:"fecha_hora_in"`
	MinutosTarde    int     `json:"minutos_tarde"`
}

type DaySummary struct {
	Fecha             string       `json:"fecha"`
	TotalEmpleados    int          `json:"total_empleados"`
	MarcaronIngreso   int          `json:"marcaron_ingreso"`
	NoMarcaronIngreso int          `json:"no_marcaron_ingreso"`
	Tardanzas         int          `json:"tardanzas"`
	Pendientes        int          `json:"pendientes"`
	Ingresos          []DayArrival `json:"ingresos"`
	TopTardanzas      []DayArrival `json:"top_tardanzas"`
}

func joinName(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
