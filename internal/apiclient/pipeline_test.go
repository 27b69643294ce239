package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/asistencias/internal/session"
)

type countingTracker struct {
	mu     sync.Mutex
	begins int
	ends   int
}

func (t *countingTracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.begins++
}

func (t *countingTracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ends++
}

func (t *countingTracker) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.begins, t.ends
}

type fixture struct {
	server  *httptest.Server
	tracker *countingTracker
	store   *session.Store
	client  *Client
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := session.Open(context.Background(), session.NewMemoryStorage())
	require.NoError(t, err)

	tracker := &countingTracker{}
	pipeline := NewPipeline(PipelineConfig{Tracker: tracker, Session: store})
	return &fixture{
		server:  server,
		tracker: tracker,
		store:   store,
		client:  New(server.URL+"/api", pipeline, 5*time.Second),
	}
}

type staticGrant session.Grant

func (g staticGrant) Authenticate(context.Context, string, string) (session.Grant, error) {
	return session.Grant(g), nil
}

func (f *fixture) login(t *testing.T, credential string) {
	t.Helper()
	_, err := f.store.Login(context.Background(), staticGrant{
		Credential: credential,
		Identity:   []byte(`{"id":"u1","nombre":"Ana","rol":"RRHH"}`),
	}, "44556677", "x")
	require.NoError(t, err)
}

func TestAuthStageAttachesBearerCredential(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := f.client.ListSites(context.Background())
	require.NoError(t, err)

	f.login(t, "abc")
	_, err = f.client.ListSites(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer abc"}, seen)
}

func TestAuthStageDoesNotMutateCallerRequest(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.login(t, "abc")

	req, err := http.NewRequest(http.MethodGet, f.server.URL, nil)
	require.NoError(t, err)
	resp, err := f.client.http.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestUnauthorizedOnPanelClearsSessionAndNavigatesToLogin(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token expirado"}`))
	})
	f.login(t, "abc")

	var published []*session.Identity
	defer f.store.Subscribe(func(id *session.Identity) { published = append(published, id) })()

	nav := &Navigation{}
	ctx := WithNavigator(WithSurface(context.Background(), "/panel/empleados"), nav)
	_, err := f.client.ListEmployees(ctx, 1, 10, "")

	require.ErrorIs(t, err, ErrUnauthorized, "the failure is still propagated to the caller")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Token expirado", apiErr.Message)

	assert.False(t, f.store.IsAuthenticated())
	assert.Equal(t, []*session.Identity{nil}, published)
	target, ok := nav.Target()
	assert.True(t, ok)
	assert.Equal(t, DefaultLoginPath, target)
}

func TestUnauthorizedOnKioskClearsSessionWithoutNavigation(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f.login(t, "abc")

	nav := &Navigation{}
	ctx := WithNavigator(WithSurface(context.Background(), "/kiosko"), nav)
	_, err := f.client.KioskPunch(ctx, "44556677")

	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, f.store.IsAuthenticated())
	_, ok := nav.Target()
	assert.False(t, ok)
}

func TestNonAuthFailuresLeaveSessionAlone(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":["fecha inválida","motivo requerido"]}`))
	})
	f.login(t, "abc")

	nav := &Navigation{}
	ctx := WithNavigator(WithSurface(context.Background(), "/panel/inicio"), nav)
	err := f.client.RejectPunch(ctx, "a1", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "fecha inválida; motivo requerido", apiErr.Message)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.True(t, f.store.IsAuthenticated())
	_, ok := nav.Target()
	assert.False(t, ok)
}

func TestRejectedLoginKeepsPreviousSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Credenciales inválidas"}`))
	})
	f.login(t, "abc")

	nav := &Navigation{}
	ctx := WithNavigator(WithSurface(context.Background(), "/inicio-sesion"), nav)
	_, err := f.store.Login(ctx, f.client, "44556677", "mala")

	require.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Equal(t, "Credenciales inválidas", Message(err))
	credential, ok := f.store.CurrentCredential()
	assert.True(t, ok)
	assert.Equal(t, "abc", credential)
	_, navigated := nav.Target()
	assert.False(t, navigated)
}

func TestLoginValidationErrorIsNotInvalidCredentials(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"El documento debe tener 8 dígitos"}`))
	})

	_, err := f.store.Login(context.Background(), f.client, "123", "secreto")
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrInvalidCredentials)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "El documento debe tener 8 dígitos", Message(err))
	assert.False(t, f.store.IsAuthenticated())
}

func TestLoginThroughPipeline(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"documento": "44556677", "password": "secreto"}, body)
		_, _ = w.Write([]byte(`{"access_token":"tok-1","usuario":{"id":9,"nombre":"Luis","rol":{"nombre":"Gerencia"}}}`))
	})

	identity, err := f.store.Login(context.Background(), f.client, "44556677", "secreto")
	require.NoError(t, err)
	assert.Equal(t, "9", identity.ID)
	assert.Equal(t, "Gerencia", identity.Role)

	credential, _ := f.store.CurrentCredential()
	assert.Equal(t, "tok-1", credential)

	begins, ends := f.tracker.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestBusyStageEndsOnceOnSuccess(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"nombre":"Lima","activo":true}]`))
	})

	sites, err := f.client.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, ID("1"), sites[0].ID)

	begins, ends := f.tracker.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestBusyStageEndsOnTransportError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.server.Close()

	_, err := f.client.ListSites(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	begins, ends := f.tracker.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestBusyStageEndsOnCancellationWithoutBodyClose(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL, nil)
	require.NoError(t, err)
	resp, err := f.client.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, ends := f.tracker.counts()
	require.Zero(t, ends, "response body still open")

	cancel()
	assert.Eventually(t, func() bool {
		_, ends := f.tracker.counts()
		return ends == 1
	}, time.Second, 5*time.Millisecond)

	resp.Body.Close()
	_, ends = f.tracker.counts()
	assert.Equal(t, 1, ends, "closing after cancellation must not end twice")
}

type panickyTransport struct{}

func (panickyTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("boom")
}

func TestBusyStageEndsWhenInnerStagePanics(t *testing.T) {
	tracker := &countingTracker{}
	rt := NewPipeline(PipelineConfig{Base: panickyTransport{}, Tracker: tracker})
	req, err := http.NewRequest(http.MethodGet, "http://backend.invalid", nil)
	require.NoError(t, err)

	assert.Panics(t, func() { _, _ = rt.RoundTrip(req) })
	begins, ends := tracker.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

type erroringTransport struct{ err error }

func (e erroringTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, e.err }

func TestFailureStagePassesTransportErrorsThrough(t *testing.T) {
	store, err := session.Open(context.Background(), session.NewMemoryStorage())
	require.NoError(t, err)
	boom := errors.New("connection refused")
	rt := NewPipeline(PipelineConfig{Base: erroringTransport{err: boom}, Session: store})

	req, err := http.NewRequest(http.MethodGet, "http://backend.invalid", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
}

func TestCustomPublicPrefixes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store, err := session.Open(context.Background(), session.NewMemoryStorage())
	require.NoError(t, err)
	rt := NewPipeline(PipelineConfig{Session: store, LoginPath: "/entrar", PublicPrefixes: []string{"/publico"}})
	client := New(server.URL, rt, time.Second)

	for surface, want := range map[string]string{"/publico/x": "", "/kiosko": "/entrar"} {
		nav := &Navigation{}
		ctx := WithNavigator(WithSurface(context.Background(), surface), nav)
		_, _ = client.ListSites(ctx)
		got, _ := nav.Target()
		assert.Equal(t, want, got, surface)
	}
}

func TestFinalizingBodyReadsThrough(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "contenido")
	})
	req, err := http.NewRequest(http.MethodGet, f.server.URL, nil)
	require.NoError(t, err)
	resp, err := f.client.http.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "contenido", string(body))
}
