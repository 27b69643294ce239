package clientapp

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/api")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("BUSY_DELAY_SHOW", "150ms")
	t.Setenv("KIOSK_BURST", "9")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.9")

	cfg, err := DefaultConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, "redis", cfg.SessionBackend)
	assert.Equal(t, 150*time.Millisecond, cfg.BusyDelayShow)
	assert.Equal(t, 500*time.Millisecond, cfg.BusyMinVisible)
	assert.Equal(t, 9, cfg.KioskBurst)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.9"}, cfg.TrustedProxies)
	assert.Equal(t, ":3000", cfg.Addr)
}

func TestDefaultConfigFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("API_TIMEOUT", "soon")
	_, err := DefaultConfigFromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := testConfig("http://127.0.0.1:8080")
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"COOKIE_SECRET":      func(c *Config) { c.CookieSecret = "short" },
		"API_BASE_URL":       func(c *Config) { c.APIBaseURL = " " },
		"SESSION_BACKEND":    func(c *Config) { c.SessionBackend = "disk" },
		"SESSION_DIR":        func(c *Config) { c.SessionBackend, c.SessionDir = "file", "" },
		"REDIS_URL":          func(c *Config) { c.SessionBackend, c.RedisURL = "redis", "" },
		"WORKSPACE_IDLE_TTL": func(c *Config) { c.WorkspaceIdleTTL = 0 },
		"KIOSK_RATE":         func(c *Config) { c.KioskBurst = 0 },
		"TRUSTED_PROXIES":    func(c *Config) { c.TrustedProxies = []string{"proxy.local"} },
	}
	for want, mutate := range cases {
		t.Run(want, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("workspace", "abc").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "abc", line["workspace"])

	_, err = NewLogger("loud", "json", &buf)
	assert.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	assert.Error(t, err)
}
