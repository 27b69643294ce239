package clientapp

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/asistencias/internal/apiclient"
)

func formRequest(values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestRecordSections(t *testing.T) {
	raw := []byte(`{"empleado":{
		"nombre":"Ana",
		"numero_documento":"44556677",
		"foto_url":null,
		"contratos":[{"id":1},{"id":2}],
		"contacto_emergencia":{"nombre":"Luis","telefono":"999","extra":{"x":1}},
		"vacio":{"a":null}
	}}`)

	sections := recordSections(raw)
	require.Len(t, sections, 2)

	assert.Equal(t, "General", sections[0].Title)
	assert.Equal(t, []recordRow{
		{Label: "Nombre", Value: "Ana"},
		{Label: "Numero documento", Value: "44556677"},
		{Label: "Contratos", Value: "2 registros"},
	}, sections[0].Rows)

	assert.Equal(t, "Contacto emergencia", sections[1].Title)
	assert.Equal(t, []recordRow{
		{Label: "Nombre", Value: "Luis"},
		{Label: "Telefono", Value: "999"},
	}, sections[1].Rows)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Área de trabajo", humanize("área_de_trabajo"))
	assert.Equal(t, "", humanize("_"))
}

func TestBuildReportTable(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		table := buildReportTable([]byte(`[{"empleado":"Ana","tardanzas":2},{"empleado":"Luis","faltas":1,"tardanzas":null}]`))
		require.NotNil(t, table)
		assert.Equal(t, []string{"Empleado", "Tardanzas", "Faltas"}, table.Headers)
		assert.Equal(t, [][]string{{"Ana", "2", ""}, {"Luis", "", "1"}}, table.Rows)
	})
	t.Run("wrapped", func(t *testing.T) {
		table := buildReportTable([]byte(`{"periodo":"mes","filas":[{"sede":"Lima"}]}`))
		require.NotNil(t, table)
		assert.Equal(t, []string{"Sede"}, table.Headers)
		assert.Equal(t, [][]string{{"Lima"}}, table.Rows)
	})
	t.Run("totals only", func(t *testing.T) {
		table := buildReportTable([]byte(`{"total_marcas":10,"detalle":{"a":1}}`))
		require.NotNil(t, table)
		assert.Equal(t, []string{"Campo", "Valor"}, table.Headers)
		assert.Equal(t, [][]string{{"Total marcas", "10"}}, table.Rows)
	})
	t.Run("scalar", func(t *testing.T) {
		assert.Nil(t, buildReportTable([]byte(`"nada"`)))
	})
}

func TestReportQueryFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?period=quincena&ref=2026-10-01&sedeId=4", nil)
	assert.Equal(t, apiclient.ReportQuery{Period: "quincena", Ref: "2026-10-01", SiteID: "4"}, reportQueryFrom(r))

	r = httptest.NewRequest(http.MethodGet, "/?period=decada", nil)
	q := reportQueryFrom(r)
	assert.Equal(t, "mes", q.Period)
	assert.Equal(t, today(), q.Ref)

	r = httptest.NewRequest(http.MethodGet, "/?modo=rango&period=mes&desde=2026-10-01&hasta=2026-10-15&usuarioId=7", nil)
	assert.Equal(t, apiclient.ReportQuery{From: "2026-10-01", To: "2026-10-15", UserID: "7"}, reportQueryFrom(r))
}

func TestWeekFromForm(t *testing.T) {
	values := url.Values{"fecha_inicio": {"2026-10-19"}}
	for day := 1; day <= 5; day++ {
		d := string(rune('0' + day))
		values.Set("inicio_"+d, "08:00")
		values.Set("fin_"+d, "13:00")
		values.Set("inicio2_"+d, "14:00")
		values.Set("fin2_"+d, "17:00")
	}
	values.Set("tolerancia_1", "5")
	values.Set("descanso_6", "1")
	values.Set("descanso_7", "1")

	r := formRequest(values)
	week, err := weekFromForm(r)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", week.FechaInicio)
	require.Len(t, week.Items, 7)

	monday := week.Items[0]
	assert.Equal(t, 1, monday.Dia)
	assert.Equal(t, 5, monday.ToleranciaMin)
	require.NotNil(t, monday.HoraInicio2)
	assert.Equal(t, "14:00", *monday.HoraInicio2)
	assert.Equal(t, defaultTolerance, week.Items[1].ToleranciaMin)

	sunday := week.Items[6]
	assert.Equal(t, 7, sunday.Dia)
	assert.True(t, sunday.EsDescanso)
	assert.Nil(t, sunday.HoraInicio)
}

func TestWeekFromFormRejectsIncompleteDays(t *testing.T) {
	base := func() url.Values {
		v := url.Values{"fecha_inicio": {"2026-10-19"}}
		for _, d := range []string{"2", "3", "4", "5", "6", "7"} {
			v.Set("descanso_"+d, "1")
		}
		return v
	}
	cases := map[string]url.Values{
		"indique hora":       base(),
		"anterior a la de":   with(base(), "inicio_1", "18:00", "fin_1", "09:00"),
		"segundo turno nece": with(base(), "inicio_1", "08:00", "fin_1", "12:00", "inicio2_1", "13:00"),
		"después del primer": with(base(), "inicio_1", "08:00", "fin_1", "12:00", "inicio2_1", "11:00", "fin2_1", "15:00"),
	}
	for want, values := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := weekFromForm(formRequest(values))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Lunes")
			assert.Contains(t, err.Error(), want)
		})
	}

	_, err := weekFromForm(formRequest(url.Values{}))
	assert.Error(t, err)
}

func with(v url.Values, pairs ...string) url.Values {
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

func TestWeekRowsMatchesCurrentSchedule(t *testing.T) {
	start := "08:00"
	rows := weekRows([]apiclient.Schedule{{DiaSemana: 3, HoraInicio: &start}, {DiaSemana: 7, EsDescanso: true}})
	require.Len(t, rows, 7)
	assert.Equal(t, "Lunes", rows[0].Nombre)
	assert.Nil(t, rows[0].Row)
	require.NotNil(t, rows[2].Row)
	assert.Equal(t, "08:00", *rows[2].Row.HoraInicio)
	assert.Equal(t, "Domingo", rows[6].Nombre)
	assert.True(t, rows[6].Row.EsDescanso)
}

func TestDisplayHelpers(t *testing.T) {
	assert.Equal(t, "Miércoles", weekdayName(3))
	assert.Equal(t, "9", weekdayName(9))
	assert.Equal(t, "2026-02-03", validDate(" 2026-02-03 ", ""))
	assert.Equal(t, "x", validDate("03/02/2026", "x"))
	assert.Equal(t, "08:05", clockOf("2026-10-19T08:05:33.120Z"))
	assert.Equal(t, "08:05", clockOf("2026-10-19 08:05:00"))
	assert.Equal(t, "ayer", clockOf("ayer"))
	assert.Equal(t, 3, parsePositiveInt("3", 1))
	assert.Equal(t, 1, parsePositiveInt("-2", 1))
	assert.Equal(t, "/x?error=a+b", withQuery("/x", "error", "a b"))
	assert.Equal(t, "/x?a=1&message=ok", withQuery("/x?a=1", "message", "ok"))
	assert.Equal(t, "a; b; y 1 más", summarize([]string{"a", "b", "c"}, 2))
}

func TestPunchMessage(t *testing.T) {
	late := 7
	msg := punchMessage(&apiclient.PunchResult{
		Evento:       "JORNADA_IN",
		Estado:       "pendiente",
		MinutosTarde: &late,
		Empleado:     &apiclient.PunchEmployee{Nombre: "Ana", ApellidoPaterno: "Quispe"},
	})
	assert.Equal(t, "Ana Quispe: ENTRADA registrada correctamente. Tardanza de 7 minuto(s). Estado: pendiente", msg)
	assert.Equal(t, "SALIDA registrada correctamente.", punchMessage(&apiclient.PunchResult{Tipo: "OUT"}))
}

func TestPunchText(t *testing.T) {
	cases := map[string]string{
		"JORNADA_IN":     "ENTRADA registrada correctamente. Tardanza de 0 minuto(s).",
		"REFRIGERIO_OUT": "SALIDA A REFRIGERIO registrada correctamente.",
		"REFRIGERIO_IN":  "RETORNO DE REFRIGERIO registrado correctamente.",
		"JORNADA_OUT":    "SALIDA registrada correctamente.",
		"OTRO":           "Marcaje registrado correctamente.",
		"":               "Marcaje registrado correctamente.",
	}
	for event, want := range cases {
		assert.Equal(t, want, punchText(event, nil), event)
	}
}

func TestTemplatesParse(t *testing.T) {
	templates, err := parseTemplates()
	require.NoError(t, err)
	assert.Len(t, templates, len(pages))
}
