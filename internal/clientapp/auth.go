package clientapp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/phillip-england/asistencias/internal/guard"
	"github.com/phillip-england/asistencias/internal/security"
	"github.com/phillip-england/asistencias/internal/session"
)

const noPanelAccessMessage = "Su rol no tiene acceso al panel del sistema."

// panelRoles may sign in to the panel at all.
var panelRoles = []string{"RRHH", "Gerencia"}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	if ws.session.IsAuthenticated() {
		http.Redirect(w, r, guard.DefaultLandingPath, http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", pageData{Title: "Iniciar sesión"})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	documento := trimmedForm(r, "documento")
	password := r.FormValue("password")
	if documento == "" || password == "" {
		redirectWithError(w, r, apiclient.DefaultLoginPath, "Ingrese documento y contraseña")
		return
	}

	_, err := ws.session.Login(r.Context(), ws.client, documento, password)
	if err != nil {
		msg := apiclient.Message(err)
		if errors.Is(err, session.ErrInvalidCredentials) {
			msg = "Documento o contraseña incorrectos"
		}
		s.log.Info().Err(err).Str("workspace", shortID(ws.id)).Msg("login failed")
		redirectWithError(w, r, apiclient.DefaultLoginPath, msg)
		return
	}

	if decision := s.policy.Roles(ws.session, panelRoles...); !decision.Allow {
		if err := ws.session.Logout(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("workspace", shortID(ws.id)).Msg("logout storage cleanup failed")
		}
		s.log.Info().Str("workspace", shortID(ws.id)).Msg("login refused for role without panel access")
		redirectWithError(w, r, apiclient.DefaultLoginPath, noPanelAccessMessage)
		return
	}

	credential, _ := ws.session.CurrentCredential()
	s.log.Info().
		Str("workspace", shortID(ws.id)).
		Str("credential", security.Fingerprint(credential)).
		Msg("login")
	http.Redirect(w, r, guard.DefaultLandingPath, http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	if err := ws.session.Logout(r.Context()); err != nil {
		s.log.Warn().Err(err).Str("workspace", shortID(ws.id)).Msg("logout storage cleanup failed")
	}
	http.Redirect(w, r, apiclient.DefaultLoginPath, http.StatusFound)
}

func (s *server) kioskPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "kiosk.html", pageData{Title: "Kiosko de asistencia"})
}

// kioskPunch records attendance for whoever identifies at the kiosk. A
// rejected credential clears the session but keeps the kiosk on screen.
func (s *server) kioskPunch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	identifier := trimmedForm(r, "identificador")
	if identifier == "" {
		redirectWithError(w, r, "/kiosko", "Ingrese su número de documento")
		return
	}

	result, err := ws.client.KioskPunch(r.Context(), identifier)
	if err != nil {
		s.actionFailed(w, r, "/kiosko", err)
		return
	}
	redirectWithMessage(w, r, "/kiosko", punchMessage(result))
}

var punchTexts = map[string]string{
	"REFRIGERIO_OUT": "SALIDA A REFRIGERIO registrada correctamente.",
	"REFRIGERIO_IN":  "RETORNO DE REFRIGERIO registrado correctamente.",
	"JORNADA_OUT":    "SALIDA registrada correctamente.",
	"OUT":            "SALIDA registrada correctamente.",
}

// punchText describes a recorded punch. Entries always report lateness,
// zero minutes included.
func punchText(event string, lateMinutes *int) string {
	switch event {
	case "JORNADA_IN", "IN":
		late := 0
		if lateMinutes != nil {
			late = *lateMinutes
		}
		return fmt.Sprintf("ENTRADA registrada correctamente. Tardanza de %d minuto(s).", late)
	}
	if text, ok := punchTexts[event]; ok {
		return text
	}
	return "Marcaje registrado correctamente."
}

func punchMessage(result *apiclient.PunchResult) string {
	event := result.Evento
	if event == "" {
		event = result.Tipo
	}
	msg := punchText(event, result.MinutosTarde)
	if result.Empleado != nil {
		if name := result.Empleado.FullName(); name != "" {
			msg = name + ": " + msg
		}
	}
	if result.Estado != "" {
		msg += " Estado: " + result.Estado
	}
	return msg
}
