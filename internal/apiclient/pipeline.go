package apiclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	DefaultLoginPath    = "/inicio-sesion"
	DefaultPublicPrefix = "/kiosko"
)

// Tracker is the part of the busy tracker the pipeline drives.
type Tracker interface {
	Begin()
	End()
}

// Session is the part of the session store the pipeline reads and clears.
type Session interface {
	CurrentCredential() (string, bool)
	Logout(ctx context.Context) error
}

// Navigator moves the user to another surface.
type Navigator interface {
	Navigate(path string)
}

type ctxKey int

const (
	surfaceKey ctxKey = iota
	navigatorKey
	skipFailureKey
)

// WithSurface records the UI path the request is being made from.
func WithSurface(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, surfaceKey, path)
}

func SurfaceFrom(ctx context.Context) string {
	path, _ := ctx.Value(surfaceKey).(string)
	return path
}

func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey, nav)
}

func navigatorFrom(ctx context.Context) Navigator {
	nav, _ := ctx.Value(navigatorKey).(Navigator)
	return nav
}

// withoutFailureDetection marks a request whose 401 is an answer, not an
// expired session. Used for the login call.
func withoutFailureDetection(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipFailureKey, true)
}

func skipsFailureDetection(ctx context.Context) bool {
	skip, _ := ctx.Value(skipFailureKey).(bool)
	return skip
}

// Navigation records the last surface a pipeline stage asked to move to while
// one browser request was served.
type Navigation struct {
	mu     sync.Mutex
	target string
}

func (n *Navigation) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.target = path
}

func (n *Navigation) Target() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target, n.target != ""
}

type PipelineConfig struct {
	// Base performs the actual exchange. http.DefaultTransport when nil.
	Base    http.RoundTripper
	Tracker Tracker
	Session Session
	Logger  zerolog.Logger

	LoginPath      string
	PublicPrefixes []string

	// OnReject runs after a rejected credential has been cleared.
	OnReject func()
}

// NewPipeline wraps Base with, outermost first, the busy stage, the credential
// stage and the authentication failure stage.
func NewPipeline(cfg PipelineConfig) http.RoundTripper {
	next := cfg.Base
	if next == nil {
		next = http.DefaultTransport
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	public := cfg.PublicPrefixes
	if public == nil {
		public = []string{DefaultPublicPrefix}
	}

	if cfg.Session != nil {
		next = &failureTransport{
			next:      next,
			session:   cfg.Session,
			loginPath: loginPath,
			public:    public,
			onReject:  cfg.OnReject,
			log:       cfg.Logger,
		}
		next = &authTransport{next: next, session: cfg.Session}
	}
	if cfg.Tracker != nil {
		next = &busyTransport{next: next, tracker: cfg.Tracker}
	}
	return next
}

// busyTransport keeps the tracker informed for the whole life of a request,
// including reading the response body.
type busyTransport struct {
	next    http.RoundTripper
	tracker Tracker
}

func (t *busyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.tracker.Begin()
	end := sync.OnceFunc(t.tracker.End)
	stop := context.AfterFunc(req.Context(), end)
	finish := func() {
		stop()
		end()
	}

	handedOff := false
	defer func() {
		if !handedOff {
			finish()
		}
	}()

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	resp.Body = &finalizingBody{ReadCloser: resp.Body, finish: finish}
	handedOff = true
	return resp, nil
}

type finalizingBody struct {
	io.ReadCloser
	finish func()
}

func (b *finalizingBody) Close() error {
	defer b.finish()
	return b.ReadCloser.Close()
}

type authTransport struct {
	next    http.RoundTripper
	session Session
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	credential, ok := t.session.CurrentCredential()
	if !ok {
		return t.next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+credential)
	return t.next.RoundTrip(out)
}

type failureTransport struct {
	next      http.RoundTripper
	session   Session
	loginPath string
	public    []string
	onReject  func()
	log       zerolog.Logger
}

func (t *failureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	ctx := req.Context()
	if skipsFailureDetection(ctx) {
		return resp, nil
	}

	if err := t.session.Logout(context.WithoutCancel(ctx)); err != nil {
		t.log.Warn().Err(err).Msg("clear session after rejected credential")
	}
	if t.onReject != nil {
		t.onReject()
	}

	surface := SurfaceFrom(ctx)
	if t.isPublic(surface) {
		t.log.Debug().Str("surface", surface).Str("upstream", req.URL.Path).Msg("credential rejected on public surface")
		return resp, nil
	}
	t.log.Info().Str("surface", surface).Str("upstream", req.URL.Path).Msg("credential rejected, sending to login")
	if nav := navigatorFrom(ctx); nav != nil {
		nav.Navigate(t.loginPath)
	}
	return resp, nil
}

func (t *failureTransport) isPublic(surface string) bool {
	for _, prefix := range t.public {
		if prefix != "" && strings.HasPrefix(surface, prefix) {
			return true
		}
	}
	return false
}
