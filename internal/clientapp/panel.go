package clientapp

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/phillip-england/asistencias/internal/apiclient"
)

func (s *server) homePage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	data := pageData{Title: "Inicio", Section: "inicio", Date: today()}

	birthdays, err := ws.client.UpcomingBirthdays(r.Context(), 30)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	data.Birthdays = birthdays

	// The day summary is restricted to some roles; others still get the page.
	summary, err := ws.client.DaySummary(r.Context(), data.Date, nil)
	switch {
	case err == nil:
		data.Summary = summary
	case errors.Is(err, apiclient.ErrUnauthorized):
		s.loadFailed(w, r, err)
		return
	default:
		s.log.Debug().Err(err).Msg("day summary unavailable")
	}
	s.render(w, r, http.StatusOK, "home.html", data)
}

// selfPunch records a check-in or check-out for the logged-in user.
func (s *server) selfPunch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	identity := ws.session.CurrentIdentity()
	if identity == nil || identity.ID == "" {
		redirectWithError(w, r, "/panel/inicio", "La sesión no tiene un usuario asociado")
		return
	}
	kind := trimmedForm(r, "tipo")
	if kind != "IN" && kind != "OUT" {
		redirectWithError(w, r, "/panel/inicio", "Tipo de marcación inválido")
		return
	}
	result, err := ws.client.Punch(r.Context(), identity.ID, kind, "")
	if err != nil {
		s.actionFailed(w, r, "/panel/inicio", err)
		return
	}
	redirectWithMessage(w, r, "/panel/inicio", punchMessage(result))
}

func (s *server) usersPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	search := r.URL.Query().Get("buscar")
	users, err := ws.client.ListUsers(r.Context(), search)
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	data := pageData{Title: "Usuarios", Section: "usuarios", Search: search, Users: users}
	if err := s.loadCatalogs(r, &data); err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "users.html", data)
}

func (s *server) userPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	user, err := ws.client.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.loadFailed(w, r, err)
		return
	}
	data := pageData{Title: "Editar usuario", Section: "usuarios", User: user}
	if err := s.loadCatalogs(r, &data); err != nil {
		s.loadFailed(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "user.html", data)
}

func (s *server) loadCatalogs(r *http.Request, data *pageData) error {
	ws := workspaceFrom(r.Context())
	sites, err := ws.client.ListActiveSites(r.Context())
	if err != nil {
		return err
	}
	areas, err := ws.client.ListActiveAreas(r.Context())
	if err != nil {
		return err
	}
	data.Sites, data.Areas = sites, areas
	return nil
}

func userInputFromForm(r *http.Request) apiclient.UserInput {
	in := apiclient.UserInput{
		Nombre:             trimmedForm(r, "nombre"),
		ApellidoPaterno:    trimmedForm(r, "apellido_paterno"),
		ApellidoMaterno:    trimmedForm(r, "apellido_materno"),
		NumeroDocumento:    trimmedForm(r, "numero_documento"),
		EmailPersonal:      trimmedForm(r, "email_personal"),
		EmailInstitucional: trimmedForm(r, "email_institucional"),
		TelefonoCelular:    trimmedForm(r, "telefono_celular"),
		RolID:              trimmedForm(r, "rol_id"),
		SedeID:             trimmedForm(r, "sede_id"),
		AreaID:             trimmedForm(r, "area_id"),
		Activo:             r.FormValue("activo") != "false",
		Password:           r.FormValue("password"),
	}
	if birthday := validDate(r.FormValue("fecha_nacimiento"), ""); birthday != "" {
		in.FechaNacimiento = &birthday
	}
	return in
}

func (s *server) createUser(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	in := userInputFromForm(r)
	if in.Nombre == "" || in.ApellidoPaterno == "" || in.NumeroDocumento == "" {
		redirectWithError(w, r, "/panel/usuarios", "Nombre, apellido paterno y documento son obligatorios")
		return
	}
	if err := ws.client.CreateUser(r.Context(), in); err != nil {
		s.actionFailed(w, r, "/panel/usuarios", err)
		return
	}
	redirectWithMessage(w, r, "/panel/usuarios", "Usuario creado")
}

func (s *server) updateUser(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	id := chi.URLParam(r, "id")
	back := "/panel/usuarios/" + url.PathEscape(id)
	in := userInputFromForm(r)
	in.Password = ""
	if err := ws.client.UpdateUser(r.Context(), id, in); err != nil {
		s.actionFailed(w, r, back, err)
		return
	}
	redirectWithMessage(w, r, back, "Usuario actualizado")
}

func (s *server) setUserActive(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	active := r.FormValue("activo") == "true"
	if err := ws.client.SetUserActive(r.Context(), chi.URLParam(r, "id"), active); err != nil {
		s.actionFailed(w, r, "/panel/usuarios", err)
		return
	}
	msg := "Usuario desactivado"
	if active {
		msg = "Usuario activado"
	}
	redirectWithMessage(w, r, "/panel/usuarios", msg)
}

// catalogKind is one of the two name-only catalogs, areas and sites.
type catalogKind struct {
	Path     string
	Title    string
	Singular string
}

var (
	areasCatalog = catalogKind{Path: "/panel/areas", Title: "Áreas", Singular: "área"}
	sitesCatalog = catalogKind{Path: "/panel/sedes", Title: "Sedes", Singular: "sede"}
)

func (s *server) catalogPage(kind catalogKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspaceFrom(r.Context())
		search := r.URL.Query().Get("buscar")
		var (
			items []apiclient.Catalog
			err   error
		)
		if kind == areasCatalog {
			items, err = ws.client.ListAreas(r.Context(), search)
		} else {
			items, err = ws.client.ListSites(r.Context())
		}
		if err != nil {
			s.loadFailed(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "catalog.html", pageData{
			Title:   kind.Title,
			Section: kind.Path,
			Search:  search,
			Catalog: kind,
			Items:   items,
		})
	}
}

func (s *server) createCatalog(kind catalogKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspaceFrom(r.Context())
		in := apiclient.CatalogInput{Nombre: trimmedForm(r, "nombre"), Activo: true}
		if in.Nombre == "" {
			redirectWithError(w, r, kind.Path, "El nombre es obligatorio")
			return
		}
		var err error
		if kind == areasCatalog {
			err = ws.client.CreateArea(r.Context(), in)
		} else {
			err = ws.client.CreateSite(r.Context(), in)
		}
		if err != nil {
			s.actionFailed(w, r, kind.Path, err)
			return
		}
		redirectWithMessage(w, r, kind.Path, "Se creó la "+kind.Singular+" "+in.Nombre)
	}
}

func (s *server) updateCatalog(kind catalogKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspaceFrom(r.Context())
		id := chi.URLParam(r, "id")
		in := apiclient.CatalogInput{Nombre: trimmedForm(r, "nombre"), Activo: r.FormValue("activo") != "false"}
		if in.Nombre == "" {
			redirectWithError(w, r, kind.Path, "El nombre es obligatorio")
			return
		}
		var err error
		if kind == areasCatalog {
			err = ws.client.UpdateArea(r.Context(), id, in)
		} else {
			err = ws.client.UpdateSite(r.Context(), id, in)
		}
		if err != nil {
			s.actionFailed(w, r, kind.Path, err)
			return
		}
		redirectWithMessage(w, r, kind.Path, "Cambios guardados")
	}
}

func (s *server) deactivateCatalog(kind catalogKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspaceFrom(r.Context())
		id := chi.URLParam(r, "id")
		var err error
		if kind == areasCatalog {
			err = ws.client.DeactivateArea(r.Context(), id)
		} else {
			err = ws.client.DeactivateSite(r.Context(), id)
		}
		if err != nil {
			s.actionFailed(w, r, kind.Path, err)
			return
		}
		redirectWithMessage(w, r, kind.Path, "Se desactivó la "+kind.Singular)
	}
}
