package security

import (
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewSignerRequiresLongSecret(t *testing.T) {
	if _, err := NewSigner("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	id, value := s.NewID()
	got, err := s.Verify(value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != id {
		t.Fatalf("expected id %q, got %q", id, got)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, _ := NewSigner(testSecret)
	other, _ := NewSigner(strings.Repeat("x", 40))
	_, value := s.NewID()
	_, foreign := other.NewID()

	cases := map[string]string{
		"empty":          "",
		"other secret":   foreign,
		"swapped id":     "v1.6f1c1b43-3a0c-4b8e-9a55-1f0a2d3e4b5c." + strings.Split(value, ".")[2],
		"bad version":    "v2" + strings.TrimPrefix(value, "v1"),
		"not a uuid":     s.Sign("../../etc/passwd"),
		"truncated":      value[:len(value)-4],
		"extra segments": value + ".x",
	}
	for name, v := range cases {
		if _, err := s.Verify(v); err == nil {
			t.Fatalf("%s: expected verification to fail", name)
		}
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Fatalf("expected empty fingerprint for empty credential")
	}
	a, b := Fingerprint("token-a"), Fingerprint("token-b")
	if len(a) != 12 || a == b {
		t.Fatalf("unexpected fingerprints %q %q", a, b)
	}
	if strings.Contains(a, "token") {
		t.Fatalf("fingerprint leaks credential")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateSecret(32)
	if len(a) < minSecretLength || a == b {
		t.Fatalf("unexpected secrets %q %q", a, b)
	}
}
