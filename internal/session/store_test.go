package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	grant Grant
	err   error
	calls int
}

func (a *stubAuthenticator) Authenticate(_ context.Context, identifier, secret string) (Grant, error) {
	a.calls++
	return a.grant, a.err
}

type failingStorage struct {
	Storage
	failSetKey string
	failRemove bool
}

func (f *failingStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == f.failSetKey {
		return errors.New("disk full")
	}
	return f.Storage.Set(ctx, key, value, ttl)
}

func (f *failingStorage) Remove(ctx context.Context, keys ...string) error {
	if f.failRemove {
		return errors.New("disk gone")
	}
	return f.Storage.Remove(ctx, keys...)
}

const rrhhIdentity = `{"id":7,"nombre":"Ana","apellido_paterno":"Quispe","numero_documento":"44556677","rol":"RRHH"}`

func signedCredential(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return s
}

func openStore(t *testing.T, storage Storage) *Store {
	t.Helper()
	s, err := Open(context.Background(), storage)
	require.NoError(t, err)
	return s
}

func TestLoginPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	s := openStore(t, storage)

	var published []*Identity
	defer s.Subscribe(func(id *Identity) { published = append(published, id) })()

	auth := &stubAuthenticator{grant: Grant{Credential: "abc", Identity: []byte(rrhhIdentity)}}
	identity, err := s.Login(ctx, auth, "44556677", "secreto")
	require.NoError(t, err)

	assert.Equal(t, "7", identity.ID)
	assert.Equal(t, "RRHH", identity.Role)
	assert.Equal(t, "Ana Quispe", identity.DisplayName())
	assert.True(t, s.IsAuthenticated())

	credential, ok := s.CurrentCredential()
	assert.True(t, ok)
	assert.Equal(t, "abc", credential)

	stored, ok, err := storage.Get(ctx, CredentialKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", stored)
	storedIdentity, ok, err := storage.Get(ctx, IdentityKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, rrhhIdentity, storedIdentity)

	require.Len(t, published, 1)
	assert.Same(t, identity, published[0])
}

func TestFailedLoginLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	s := openStore(t, storage)
	_, err := s.Login(ctx, &stubAuthenticator{grant: Grant{Credential: "old", Identity: []byte(rrhhIdentity)}}, "a", "b")
	require.NoError(t, err)

	var events int
	defer s.Subscribe(func(*Identity) { events++ })()

	_, err = s.Login(ctx, &stubAuthenticator{err: ErrInvalidCredentials}, "a", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	credential, ok := s.CurrentCredential()
	assert.True(t, ok)
	assert.Equal(t, "old", credential)
	assert.Equal(t, "7", s.CurrentIdentity().ID)
	assert.Zero(t, events)
}

func TestLoginWithoutCredentialFails(t *testing.T) {
	s := openStore(t, NewMemoryStorage())
	_, err := s.Login(context.Background(), &stubAuthenticator{grant: Grant{Identity: []byte(rrhhIdentity)}}, "a", "b")
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, s.IsAuthenticated())
}

func TestLoginRollsBackOnPartialWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	storage := &failingStorage{Storage: mem, failSetKey: IdentityKey}
	s := openStore(t, storage)

	_, err := s.Login(ctx, &stubAuthenticator{grant: Grant{Credential: "abc", Identity: []byte(rrhhIdentity)}}, "a", "b")
	require.Error(t, err)

	assert.False(t, s.IsAuthenticated())
	_, ok, _ := mem.Get(ctx, CredentialKey)
	assert.False(t, ok, "credential written before the failure must be rolled back")
}

func TestLogoutClearsAndAlwaysPublishes(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	s := openStore(t, storage)

	var published []*Identity
	defer s.Subscribe(func(id *Identity) { published = append(published, id) })()

	require.NoError(t, s.Logout(ctx))
	_, err := s.Login(ctx, &stubAuthenticator{grant: Grant{Credential: "abc", Identity: []byte(rrhhIdentity)}}, "a", "b")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.CurrentIdentity())
	_, ok, _ := storage.Get(ctx, CredentialKey)
	assert.False(t, ok)
	_, ok, _ = storage.Get(ctx, IdentityKey)
	assert.False(t, ok)

	require.Len(t, published, 3)
	assert.Nil(t, published[0])
	assert.NotNil(t, published[1])
	assert.Nil(t, published[2])
}

func TestLogoutClearsMemoryEvenWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	storage := &failingStorage{Storage: NewMemoryStorage()}
	s := openStore(t, storage)
	_, err := s.Login(ctx, &stubAuthenticator{grant: Grant{Credential: "abc"}}, "a", "b")
	require.NoError(t, err)

	storage.failRemove = true
	assert.Error(t, s.Logout(ctx))
	assert.False(t, s.IsAuthenticated())
}

func TestOpenRehydratesPersistedSession(t *testing.T) {
	ctx := context.Background()
	storage, err := NewFileStorage(t.TempDir(), "ws-rehydrate")
	require.NoError(t, err)
	first := openStore(t, storage)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	_, err = first.Login(ctx, &stubAuthenticator{grant: Grant{
		Credential: signedCredential(t, exp),
		Identity:   []byte(rrhhIdentity),
	}}, "a", "b")
	require.NoError(t, err)

	second := openStore(t, storage)
	assert.True(t, second.IsAuthenticated())
	require.NotNil(t, second.CurrentIdentity())
	assert.Equal(t, "RRHH", second.CurrentIdentity().Role)
	got, ok := second.ExpiresAt()
	assert.True(t, ok)
	assert.True(t, exp.Equal(got))
}

func TestOpenDropsCorruptIdentity(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, CredentialKey, "abc", 0))
	require.NoError(t, storage.Set(ctx, IdentityKey, "not json", 0))

	s := openStore(t, storage)
	assert.True(t, s.IsAuthenticated(), "credential presence alone is authenticated")
	assert.Nil(t, s.CurrentIdentity())
	_, ok, _ := storage.Get(ctx, IdentityKey)
	assert.False(t, ok)
}

func TestLoginDoesNotPersistExpiredCredential(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, CredentialKey, "older", 0))
	s := openStore(t, storage)

	stale := signedCredential(t, time.Now().Add(-time.Minute))
	_, err := s.Login(ctx, &stubAuthenticator{grant: Grant{Credential: stale, Identity: []byte(rrhhIdentity)}}, "a", "b")
	require.NoError(t, err)

	credential, ok := s.CurrentCredential()
	assert.True(t, ok)
	assert.Equal(t, stale, credential)
	_, ok, err = storage.Get(ctx, CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok, "expired credential is not written to storage")
	_, ok, err = storage.Get(ctx, IdentityKey)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, openStore(t, storage).IsAuthenticated())
}

func TestCredentialExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	got, ok := CredentialExpiry(signedCredential(t, exp))
	assert.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = CredentialExpiry("opaque-token")
	assert.False(t, ok)
}

func TestSubscribersSeeChangesInOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, NewMemoryStorage())

	var mu sync.Mutex
	var seen []bool
	defer s.Subscribe(func(id *Identity) {
		mu.Lock()
		seen = append(seen, id != nil)
		mu.Unlock()
	})()

	auth := &stubAuthenticator{grant: Grant{Credential: "abc", Identity: []byte(rrhhIdentity)}}
	for i := 0; i < 3; i++ {
		_, err := s.Login(ctx, auth, "a", "b")
		require.NoError(t, err)
		require.NoError(t, s.Logout(ctx))
	}
	assert.Equal(t, []bool{true, false, true, false, true, false}, seen)
}

func TestParseIdentityAliases(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want Identity
	}{
		"nested role": {
			raw:  `{"_id":"u1","nombres":"Luis","rol":{"nombre":"Gerencia"},"documento":"123"}`,
			want: Identity{ID: "u1", Name: "Luis", Role: "Gerencia", DocumentNumber: "123"},
		},
		"english": {
			raw:  `{"id":3,"name":"Eva","role":" rrhh "}`,
			want: Identity{ID: "3", Name: "Eva", Role: "rrhh"},
		},
		"null role": {
			raw:  `{"id":4,"rol":null}`,
			want: Identity{ID: "4"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseIdentity([]byte(tc.raw))
			require.NoError(t, err)
			got.Raw = nil
			assert.Equal(t, tc.want, *got)
		})
	}

	_, err := ParseIdentity([]byte(`[1,2]`))
	assert.ErrorIs(t, err, errIdentityNotObject)
}
