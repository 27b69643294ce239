// Package session holds who is logged in for one browser workspace.
//
// A Store is either anonymous or authenticated. It becomes authenticated after
// a successful Login and returns to anonymous on Logout, which is also what the
// request pipeline calls when the backend rejects the credential. The
// credential and the identity are persisted as two entries ("token" and
// "usuario") and read back by Open.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	CredentialKey = "token"
	IdentityKey   = "usuario"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredential  = errors.New("login response did not include a credential")
)

// Grant is what the backend hands out on a successful login.
type Grant struct {
	Credential string
	Identity   []byte
}

// Authenticator exchanges an identifier and secret for a Grant. Rejected
// credentials must be reported with an error wrapping ErrInvalidCredentials.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) (Grant, error)
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

type Store struct {
	storage Storage
	log     zerolog.Logger

	// pubMu serializes state changes with their publication so subscribers
	// observe changes in the order they were made.
	pubMu sync.Mutex

	mu         sync.RWMutex
	credential string
	identity   *Identity
	expiresAt  time.Time

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn func(*Identity)
}

// Open builds a Store and rehydrates it from storage. An unreadable identity
// entry is discarded; the credential alone still counts as authenticated.
func Open(ctx context.Context, storage Storage, opts ...Option) (*Store, error) {
	if storage == nil {
		return nil, errors.New("session storage is required")
	}
	s := &Store{storage: storage, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	credential, ok, err := storage.Get(ctx, CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if ok {
		s.credential = credential
		s.expiresAt, _ = CredentialExpiry(credential)
	}

	rawIdentity, ok, err := storage.Get(ctx, IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if ok {
		identity, err := ParseIdentity([]byte(rawIdentity))
		if err != nil {
			s.log.Warn().Err(err).Msg("discarding unreadable persisted identity")
			if err := storage.Remove(ctx, IdentityKey); err != nil {
				s.log.Warn().Err(err).Msg("remove unreadable identity")
			}
		} else {
			s.identity = identity
		}
	}

	return s, nil
}

// Login authenticates against the backend and, on success, persists and
// publishes the new identity. On failure the previous state is left as is.
func (s *Store) Login(ctx context.Context, auth Authenticator, identifier, secret string) (*Identity, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	grant, err := auth.Authenticate(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	if grant.Credential == "" {
		return nil, ErrMissingCredential
	}

	var identity *Identity
	if len(grant.Identity) > 0 {
		identity, err = ParseIdentity(grant.Identity)
		if err != nil {
			return nil, fmt.Errorf("decode identity: %w", err)
		}
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	expiresAt, _ := CredentialExpiry(grant.Credential)
	if !expiresAt.IsZero() && !time.Now().Before(expiresAt) {
		// An already expired credential is kept in memory only. A zero TTL
		// would persist it until removed.
		s.log.Warn().Time("expires_at", expiresAt).Msg("login returned an expired credential")
		if err := s.storage.Remove(ctx, CredentialKey, IdentityKey); err != nil {
			return nil, fmt.Errorf("clear persisted session: %w", err)
		}
	} else {
		var ttl time.Duration
		if !expiresAt.IsZero() {
			ttl = time.Until(expiresAt)
		}
		if err := s.storage.Set(ctx, CredentialKey, grant.Credential, ttl); err != nil {
			return nil, fmt.Errorf("persist credential: %w", err)
		}
		if identity != nil {
			err = s.storage.Set(ctx, IdentityKey, string(identity.Raw), ttl)
		} else {
			err = s.storage.Remove(ctx, IdentityKey)
		}
		if err != nil {
			s.restoreStorage(ctx)
			return nil, fmt.Errorf("persist identity: %w", err)
		}
	}

	s.mu.Lock()
	s.credential = grant.Credential
	s.identity = identity
	s.expiresAt = expiresAt
	s.mu.Unlock()

	if identity != nil {
		s.log.Info().Object("usuario", identity).Msg("session started")
	} else {
		s.log.Info().Msg("session started without identity")
	}
	s.publish(identity)
	return identity, nil
}

// restoreStorage puts the previous entries back after a partially failed
// Login write.
func (s *Store) restoreStorage(ctx context.Context) {
	s.mu.RLock()
	credential, identity, expiresAt := s.credential, s.identity, s.expiresAt
	s.mu.RUnlock()

	expired := !expiresAt.IsZero() && !time.Now().Before(expiresAt)
	if credential == "" || expired {
		_ = s.storage.Remove(ctx, CredentialKey, IdentityKey)
		return
	}
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
	}
	_ = s.storage.Set(ctx, CredentialKey, credential, ttl)
	if identity != nil {
		_ = s.storage.Set(ctx, IdentityKey, string(identity.Raw), ttl)
	}
}

// Logout clears the persisted entries and publishes an absent identity. The
// in-memory session is cleared even when storage fails.
func (s *Store) Logout(ctx context.Context) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	err := s.storage.Remove(ctx, CredentialKey, IdentityKey)

	s.mu.Lock()
	wasAuthenticated := s.credential != ""
	s.credential = ""
	s.identity = nil
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	if wasAuthenticated {
		s.log.Info().Msg("session cleared")
	}
	s.publish(nil)
	if err != nil {
		return fmt.Errorf("clear session storage: %w", err)
	}
	return nil
}

// CurrentIdentity returns the last published identity, or nil.
func (s *Store) CurrentIdentity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Store) CurrentCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

func (s *Store) IsAuthenticated() bool {
	_, ok := s.CurrentCredential()
	return ok
}

// ExpiresAt reports the credential expiry when the credential carries one.
func (s *Store) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt, !s.expiresAt.IsZero()
}

// Subscribe registers fn for identity changes; nil means logged out. fn runs
// synchronously in publication order and may read the Store, but must not
// call Login or Logout.
func (s *Store) Subscribe(fn func(*Identity)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) publish(identity *Identity) {
	s.subMu.Lock()
	subs := append([]subscriber(nil), s.subs...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(identity)
	}
}

// CredentialExpiry reads the exp claim of a JWT credential without verifying
// it. The client never holds the signing key; the backend stays the authority.
func CredentialExpiry(credential string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
