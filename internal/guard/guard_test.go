package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phillip-england/asistencias/internal/session"
)

type fakeSession struct {
	authenticated bool
	identity      *session.Identity
}

func (f fakeSession) IsAuthenticated() bool { return f.authenticated }
func (f fakeSession) CurrentIdentity() *session.Identity { return f.identity }

func withRole(role string) fakeSession {
	return fakeSession{authenticated: true, identity: &session.Identity{ID: "u1", Role: role}}
}

func TestAuthenticated(t *testing.T) {
	p := Policy{}
	assert.Equal(t, Decision{Allow: true}, p.Authenticated(withRole("Empleado")))
	assert.Equal(t, Decision{Allow: true}, p.Authenticated(fakeSession{authenticated: true}), "credential without identity still counts")
	assert.Equal(t, Decision{Redirect: "/inicio-sesion"}, p.Authenticated(fakeSession{}))
	assert.Equal(t, Decision{Redirect: "/inicio-sesion"}, p.Authenticated(nil))
}

func TestRoles(t *testing.T) {
	allowed := []string{"RRHH", "Gerencia"}
	cases := []struct {
		name    string
		session Session
		want    Decision
	}{
		{"exact", withRole("RRHH"), Decision{Allow: true}},
		{"padded lower case", withRole("  rrhh "), Decision{Allow: true}},
		{"mixed case", withRole("gerENCIA"), Decision{Allow: true}},
		{"other role", withRole("Empleado"), Decision{Redirect: "/panel/inicio"}},
		{"blank role", withRole("   "), Decision{Redirect: "/panel/inicio"}},
		{"no identity", fakeSession{authenticated: true}, Decision{Redirect: "/panel/inicio"}},
		{"anonymous goes to login, not landing", fakeSession{identity: &session.Identity{Role: "RRHH"}}, Decision{Redirect: "/inicio-sesion"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Policy{}.Roles(tc.session, allowed...))
		})
	}
}

func TestAllowListIsNormalizedToo(t *testing.T) {
	assert.True(t, Policy{}.Roles(withRole("RRHH"), " rrhh ").Allow)
	assert.False(t, Policy{}.Roles(withRole("RRHH")).Allow, "empty allow list admits nobody")
}

func TestCustomPaths(t *testing.T) {
	p := Policy{LoginPath: "/entrar", LandingPath: "/inicio"}
	assert.Equal(t, "/entrar", p.Roles(fakeSession{}, "RRHH").Redirect)
	assert.Equal(t, "/inicio", p.Roles(withRole("Practicante"), "RRHH").Redirect)
}

func TestMiddlewareEvaluatesEveryRequest(t *testing.T) {
	current := fakeSession{}
	sessionFor := func(*http.Request) Session { return current }

	var reached int
	h := Policy{}.RequireRoles(sessionFor, "RRHH")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
	}))

	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panel/empleados/asistencias", nil))
		return rec
	}

	rec := serve()
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/inicio-sesion", rec.Header().Get("Location"))

	current = withRole(" rrhh")
	rec = serve()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reached)

	current = withRole("Empleado")
	rec = serve()
	assert.Equal(t, "/panel/inicio", rec.Header().Get("Location"))
	assert.Equal(t, 1, reached)
}

func TestRequireAuth(t *testing.T) {
	h := Policy{}.RequireAuth(func(*http.Request) Session { return nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("must not reach handler")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panel/inicio", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/inicio-sesion", rec.Header().Get("Location"))
}
