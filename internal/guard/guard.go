// Package guard decides whether a protected surface may be entered.
//
// Decisions are a pure function of the current session and the roles a route
// requires. They are evaluated on every request and never cached.
package guard

import (
	"net/http"
	"strings"

	"github.com/phillip-england/asistencias/internal/session"
)

const (
	DefaultLoginPath   = "/inicio-sesion"
	DefaultLandingPath = "/panel/inicio"
)

// Session is the read side of the session store.
type Session interface {
	IsAuthenticated() bool
	CurrentIdentity() *session.Identity
}

// Decision is either Allow or a redirect target.
type Decision struct {
	Allow    bool
	Redirect string
}

var allow = Decision{Allow: true}

// Policy holds the surfaces a denied request is sent to.
type Policy struct {
	LoginPath   string
	LandingPath string
}

func (p Policy) loginPath() string {
	if p.LoginPath == "" {
		return DefaultLoginPath
	}
	return p.LoginPath
}

func (p Policy) landingPath() string {
	if p.LandingPath == "" {
		return DefaultLandingPath
	}
	return p.LandingPath
}

// Authenticated allows any session holding a credential.
func (p Policy) Authenticated(s Session) Decision {
	if s == nil || !s.IsAuthenticated() {
		return Decision{Redirect: p.loginPath()}
	}
	return allow
}

// Roles allows an authenticated session whose role is in allowed. Anonymous
// sessions go to login; authenticated ones without a matching role go to the
// landing page.
func (p Policy) Roles(s Session, allowed ...string) Decision {
	if d := p.Authenticated(s); !d.Allow {
		return d
	}
	var role string
	if identity := s.CurrentIdentity(); identity != nil {
		role = NormalizeRole(identity.Role)
	}
	if role == "" {
		return Decision{Redirect: p.landingPath()}
	}
	for _, candidate := range allowed {
		if NormalizeRole(candidate) == role {
			return allow
		}
	}
	return Decision{Redirect: p.landingPath()}
}

// NormalizeRole makes role names comparable regardless of surrounding space
// and letter case.
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// SessionFunc resolves the session of the browser making a request.
type SessionFunc func(r *http.Request) Session

// RequireAuth redirects requests without a credential.
func (p Policy) RequireAuth(sessionFor SessionFunc) func(http.Handler) http.Handler {
	return p.require(sessionFor, func(s Session) Decision { return p.Authenticated(s) })
}

// RequireRoles redirects requests whose session lacks one of roles.
func (p Policy) RequireRoles(sessionFor SessionFunc, roles ...string) func(http.Handler) http.Handler {
	return p.require(sessionFor, func(s Session) Decision { return p.Roles(s, roles...) })
}

func (p Policy) require(sessionFor SessionFunc, decide func(Session) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := decide(sessionFor(r))
			if !d.Allow {
				http.Redirect(w, r, d.Redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
