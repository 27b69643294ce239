package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	signatureVersion = "v1"
	minSecretLength  = 32
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signer issues and checks the opaque ids the browser keeps in its workspace
// cookie.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("cookie secret must be at least %d characters", minSecretLength)
	}
	return &Signer{secret: []byte(secret)}, nil
}

// NewID returns a fresh random workspace id and its signed cookie value.
func (s *Signer) NewID() (id string, value string) {
	id = uuid.NewString()
	return id, s.Sign(id)
}

func (s *Signer) Sign(id string) string {
	return fmt.Sprintf("%s.%s.%s", signatureVersion, id, s.mac(id))
}

// Verify returns the id carried by value when its signature matches.
func (s *Signer) Verify(value string) (string, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 || parts[0] != signatureVersion {
		return "", ErrInvalidSignature
	}
	id := parts[1]
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrInvalidSignature
	}
	expected, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidSignature
	}
	if !hmac.Equal(expected, s.sum(id)) {
		return "", ErrInvalidSignature
	}
	return id, nil
}

func (s *Signer) mac(id string) string {
	return base64.RawURLEncoding.EncodeToString(s.sum(id))
}

func (s *Signer) sum(id string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}

// GenerateSecret returns n random bytes, base64 encoded.
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// Fingerprint identifies a credential in logs without revealing it.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:6])
}
