package clientapp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/phillip-england/asistencias/internal/apiclient"
	"github.com/phillip-england/asistencias/internal/busy"
	"github.com/phillip-england/asistencias/internal/security"
	"github.com/phillip-england/asistencias/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const workspaceCookieName = "asistencias_ws"

// workspace is everything one browser owns: its session, its busy tracker and
// the API client whose pipeline drives both.
type workspace struct {
	id      string
	csrf    string
	session *session.Store
	tracker *busy.Tracker
	client  *apiclient.Client

	mu       sync.Mutex
	lastSeen time.Time
	release  []func()
}

func (ws *workspace) touch(now time.Time) {
	ws.mu.Lock()
	ws.lastSeen = now
	ws.mu.Unlock()
}

func (ws *workspace) idleSince() time.Time {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.lastSeen
}

// close hides the busy indicator for good and drops subscriptions. The
// persisted session is kept so the browser is still logged in when it comes
// back.
func (ws *workspace) close() {
	ws.tracker.Reset()
	ws.mu.Lock()
	release := ws.release
	ws.release = nil
	ws.mu.Unlock()
	for _, fn := range release {
		fn()
	}
}

// StorageFactory returns the session storage of one workspace.
type StorageFactory func(workspaceID string) (session.Storage, error)

// NewStorageFactory picks the session backend named by cfg.
func NewStorageFactory(cfg Config) (StorageFactory, func() error, error) {
	switch cfg.SessionBackend {
	case "memory":
		// One storage per workspace for the life of the process, so an idle
		// eviction does not sign the browser out.
		var mu sync.Mutex
		stores := make(map[string]*session.MemoryStorage)
		factory := func(id string) (session.Storage, error) {
			mu.Lock()
			defer mu.Unlock()
			st, ok := stores[id]
			if !ok {
				st = session.NewMemoryStorage()
				stores[id] = st
			}
			return st, nil
		}
		return factory, func() error {
			mu.Lock()
			defer mu.Unlock()
			clear(stores)
			return nil
		}, nil
	case "file":
		return func(id string) (session.Storage, error) {
			return session.NewFileStorage(cfg.SessionDir, id)
		}, func() error { return nil }, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		return func(id string) (session.Storage, error) {
			return session.NewRedisStorage(client, cfg.RedisPrefix, id)
		}, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// workspaceObserver receives workspace lifecycle and busy events.
type workspaceObserver interface {
	BusyVisibility(visible bool)
	WorkspaceOpened()
	WorkspaceClosed()
	CredentialRejected()
}

type registry struct {
	cfg       Config
	signer    *security.Signer
	storage   StorageFactory
	transport http.RoundTripper
	observer  workspaceObserver
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	items map[string]*workspace
}

func newRegistry(cfg Config, signer *security.Signer, storage StorageFactory, transport http.RoundTripper, observer workspaceObserver, log zerolog.Logger) *registry {
	return &registry{
		cfg:       cfg,
		signer:    signer,
		storage:   storage,
		transport: transport,
		observer:  observer,
		log:       log,
		now:       time.Now,
		items:     make(map[string]*workspace),
	}
}

// resolve returns the workspace named by the request cookie, opening it when
// this process has not seen it yet. Requests without a valid cookie get a new
// workspace and the cookie is set on w.
func (reg *registry) resolve(w http.ResponseWriter, r *http.Request) (*workspace, error) {
	var id string
	if c, err := r.Cookie(workspaceCookieName); err == nil {
		if verified, err := reg.signer.Verify(c.Value); err == nil {
			id = verified
		} else {
			reg.log.Debug().Err(err).Msg("discarding workspace cookie")
		}
	}
	if id == "" {
		var value string
		id, value = reg.signer.NewID()
		http.SetCookie(w, &http.Cookie{
			Name:     workspaceCookieName,
			Value:    value,
			Path:     "/",
			MaxAge:   int((30 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   reg.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return reg.get(r.Context(), id)
}

func (reg *registry) get(ctx context.Context, id string) (*workspace, error) {
	now := reg.now()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if ws, ok := reg.items[id]; ok {
		ws.touch(now)
		return ws, nil
	}
	ws, err := reg.open(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	ws.touch(now)
	reg.items[id] = ws
	return ws, nil
}

func (reg *registry) open(ctx context.Context, id string) (*workspace, error) {
	log := reg.log.With().Str("workspace", shortID(id)).Logger()

	storage, err := reg.storage(id)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}
	store, err := session.Open(ctx, storage, session.WithLogger(log))
	if err != nil {
		return nil, err
	}
	csrf, err := security.GenerateSecret(24)
	if err != nil {
		return nil, err
	}

	tracker := busy.New(busy.WithDelays(reg.cfg.BusyDelayShow, reg.cfg.BusyMinVisible))
	pipeline := apiclient.NewPipeline(apiclient.PipelineConfig{
		Base:     reg.transport,
		Tracker:  tracker,
		Session:  store,
		Logger:   log,
		OnReject: reg.observer.CredentialRejected,
	})

	ws := &workspace{
		id:      id,
		csrf:    csrf,
		session: store,
		tracker: tracker,
		client:  apiclient.New(reg.cfg.APIBaseURL, pipeline, reg.cfg.APITimeout),
	}
	ws.release = append(ws.release, tracker.Subscribe(reg.observer.BusyVisibility))
	reg.observer.WorkspaceOpened()

	event := log.Debug()
	if identity := store.CurrentIdentity(); identity != nil {
		event = event.Object("usuario", identity)
	}
	event.Bool("authenticated", store.IsAuthenticated()).Msg("workspace opened")
	return ws, nil
}

// sweep closes workspaces idle for longer than the configured TTL.
func (reg *registry) sweep() int {
	cutoff := reg.now().Add(-reg.cfg.WorkspaceIdleTTL)

	reg.mu.Lock()
	var idle []*workspace
	for id, ws := range reg.items {
		if ws.idleSince().Before(cutoff) {
			idle = append(idle, ws)
			delete(reg.items, id)
		}
	}
	reg.mu.Unlock()

	for _, ws := range idle {
		ws.close()
		reg.observer.WorkspaceClosed()
		reg.log.Debug().Str("workspace", shortID(ws.id)).Msg("workspace evicted")
	}
	return len(idle)
}

func (reg *registry) closeAll() {
	reg.mu.Lock()
	items := reg.items
	reg.items = make(map[string]*workspace)
	reg.mu.Unlock()

	for _, ws := range items {
		ws.close()
		reg.observer.WorkspaceClosed()
	}
}

func (reg *registry) size() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.items)
}

type workspaceKey struct{}

func withWorkspace(ctx context.Context, ws *workspace) context.Context {
	return context.WithValue(ctx, workspaceKey{}, ws)
}

func workspaceFrom(ctx context.Context) *workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*workspace)
	return ws
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
