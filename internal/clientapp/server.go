package clientapp

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/phillip-england/asistencias/internal/guard"
	"github.com/phillip-england/asistencias/internal/metrics"
	"github.com/phillip-england/asistencias/internal/middleware"
	"github.com/phillip-england/asistencias/internal/security"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	csrfHeaderName = "X-CSRF-Token"
	csrfFieldName  = "csrf_token"
	maxFormBytes   = 25 << 20
)

// validationRoles may review and correct attendance.
var validationRoles = []string{"RRHH", "Gerencia"}

//go:embed templates/*.html assets/app.css
var templatesFS embed.FS

type server struct {
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	registry  *registry
	policy    guard.Policy
	kiosk     *middleware.RateLimiter
	upgrader  websocket.Upgrader
	templates map[string]*template.Template
}

type serverDeps struct {
	Storage StorageFactory
	Metrics *metrics.Metrics
	// Transport reaches the backend. http.DefaultTransport when nil.
	Transport http.RoundTripper
	Log       zerolog.Logger
}

func newServer(cfg Config, deps serverDeps) (*server, error) {
	signer, err := security.NewSigner(cfg.CookieSecret)
	if err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Storage == nil {
		return nil, errors.New("session storage is required")
	}
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	return &server{
		cfg:       cfg,
		log:       deps.Log,
		metrics:   deps.Metrics,
		registry:  newRegistry(cfg, signer, deps.Storage, deps.Metrics.InstrumentTransport(deps.Transport), deps.Metrics, deps.Log),
		policy:    guard.Policy{LoginPath: apiclient.DefaultLoginPath, LandingPath: guard.DefaultLandingPath},
		kiosk:     middleware.NewRateLimiter(cfg.KioskRate, cfg.KioskBurst, proxies, deps.Log),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, HandshakeTimeout: 5 * time.Second},
		templates: templates,
	}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recover(s.log),
		middleware.RequestLog(s.log, s.metrics),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: contentSecurityPolicy}),
	)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/assets/app.css", s.appCSSFile)

	r.Group(func(r chi.Router) {
		r.Use(s.attachWorkspace, s.verifyCSRF)

		r.Get("/", redirectTo(apiclient.DefaultLoginPath))
		r.Get("/inicio-sesion", s.loginPage)
		r.Post("/inicio-sesion", s.login)
		r.Post("/cerrar-sesion", s.logout)
		r.Get("/kiosko", s.kioskPage)
		r.With(s.kiosk.Handler).Post("/kiosko/marcar", s.kioskPunch)

		r.Route("/panel", func(r chi.Router) {
			r.Use(s.policy.RequireAuth(sessionOf))

			r.Get("/", redirectTo(guard.DefaultLandingPath))
			r.Get("/inicio", s.homePage)
			r.Post("/marcar", s.selfPunch)

			r.Get("/usuarios", s.usersPage)
			r.Post("/usuarios", s.createUser)
			r.Get("/usuarios/{id}", s.userPage)
			r.Post("/usuarios/{id}", s.updateUser)
			r.Post("/usuarios/{id}/estado", s.setUserActive)

			r.Get("/areas", s.catalogPage(areasCatalog))
			r.Post("/areas", s.createCatalog(areasCatalog))
			r.Post("/areas/{id}", s.updateCatalog(areasCatalog))
			r.Post("/areas/{id}/desactivar", s.deactivateCatalog(areasCatalog))
			r.Get("/sedes", s.catalogPage(sitesCatalog))
			r.Post("/sedes", s.createCatalog(sitesCatalog))
			r.Post("/sedes/{id}", s.updateCatalog(sitesCatalog))
			r.Post("/sedes/{id}/desactivar", s.deactivateCatalog(sitesCatalog))

			r.Get("/empleados", s.employeesPage)
			r.Post("/empleados/importar", s.importEmployees)
			r.Get("/empleados/{id}", s.employeePage)
			r.Post("/empleados/{id}/foto", s.uploadEmployeePhoto)
			r.Get("/empleados/{id}/carnet.pdf", s.employeeCard)
			r.Get("/empleados/{id}/horario", s.schedulePage)
			r.Post("/empleados/{id}/horario/semana", s.setWeekSchedule)
			r.Post("/empleados/{id}/horario/cerrar", s.closeSchedule)
			r.Post("/empleados/{id}/horario/excepciones", s.addScheduleException)
			r.Post("/empleados/{id}/horario/excepciones/{excepcionId}/eliminar", s.deleteScheduleException)

			r.Group(func(r chi.Router) {
				r.Use(s.policy.RequireRoles(sessionOf, validationRoles...))
				r.Get("/empleados/asistencias", s.validationPage)
				r.Get("/empleados/asistencias/{usuarioId}/{fecha}", s.timelinePage)
				r.Post("/empleados/asistencias/{usuarioId}/{fecha}/marcas", s.createManualPunch)
				r.Post("/empleados/asistencias/{usuarioId}/{fecha}/marcas/{marcaId}/{accion}", s.reviewPunch)
			})

			r.Get("/reportes/usuarios", s.usersReportPage)
			r.Get("/reportes/usuarios/{formato}", s.usersReportDownload)
			r.Get("/reportes/asistencias", s.summaryReportPage)
			r.Get("/reportes/asistencias/{formato}", s.summaryReportDownload)
			r.Get("/reportes/asistencias-detalle", s.detailReportPage)
			r.Get("/reportes/asistencias-detalle/{formato}", s.detailReportDownload)

			r.Get("/estado", s.busyStatus)
			r.Get("/estado/ws", s.busyStream)
			r.Get("/kiosko-qr.png", s.kioskQR)
		})
	})

	r.NotFound(redirectTo(guard.DefaultLandingPath))
	return r
}

const contentSecurityPolicy = "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; " +
	"script-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'"

// attachWorkspace resolves the browser's workspace and prepares the request
// context every backend call made while serving it will carry.
func (s *server) attachWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.registry.resolve(w, r)
		if err != nil {
			s.log.Error().Err(err).Msg("open workspace")
			http.Error(w, "No se pudo iniciar la sesión del navegador", http.StatusInternalServerError)
			return
		}
		nav := &apiclient.Navigation{}
		ctx := withWorkspace(r.Context(), ws)
		ctx = withNavigation(ctx, nav)
		ctx = apiclient.WithSurface(ctx, r.URL.Path)
		ctx = apiclient.WithNavigator(ctx, nav)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) verifyCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		token := r.Header.Get(csrfHeaderName)
		if token == "" {
			token = r.FormValue(csrfFieldName)
		}
		ws := workspaceFrom(r.Context())
		if ws == nil || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(ws.csrf)) != 1 {
			s.log.Warn().Str("path", r.URL.Path).Msg("csrf token mismatch")
			http.Error(w, "Formulario vencido, recargue la página", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionOf(r *http.Request) guard.Session {
	ws := workspaceFrom(r.Context())
	if ws == nil {
		return nil
	}
	return ws.session
}

type navigationKey struct{}

func withNavigation(ctx context.Context, nav *apiclient.Navigation) context.Context {
	return context.WithValue(ctx, navigationKey{}, nav)
}

// navigationTarget is where a pipeline stage asked to send the browser while
// this request was served, if anywhere.
func navigationTarget(r *http.Request) (string, bool) {
	nav, _ := r.Context().Value(navigationKey{}).(*apiclient.Navigation)
	if nav == nil {
		return "", false
	}
	return nav.Target()
}

func redirectTo(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusFound)
	}
}

func (s *server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	data, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

// janitor evicts idle workspaces and rate limiter buckets until ctx ends.
func (s *server) janitor(ctx context.Context) error {
	interval := min(s.cfg.WorkspaceIdleTTL/4, time.Minute)
	ticker := time.NewTicker(max(interval, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.registry.sweep(); n > 0 {
				s.log.Debug().Int("evicted", n).Int("open", s.registry.size()).Msg("workspaces swept")
			}
			s.kiosk.Sweep()
		}
	}
}

// Run serves the web client until ctx is cancelled.
func Run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	storage, closeStorage, err := NewStorageFactory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			log.Warn().Err(err).Msg("close session storage")
		}
	}()

	s, err := newServer(cfg, serverDeps{Storage: storage, Log: log})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr).
			Str("api", cfg.APIBaseURL).
			Str("sessions", cfg.SessionBackend).
			Msg("client listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		s.registry.closeAll()
		log.Info().Msg("client stopped")
		return err
	})
	g.Go(func() error { return s.janitor(gctx) })
	return g.Wait()
}

func trimmedForm(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
