package clientapp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/phillip-england/asistencias/internal/middleware"
)

type Config struct {
	Addr       string `env:"CLIENT_ADDR" envDefault:":3000"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080/api"`
	// PublicURL is the address browsers reach this client at. The kiosk QR
	// code points there; the request host is used when empty.
	PublicURL string `env:"PUBLIC_URL"`

	SessionBackend string `env:"SESSION_BACKEND" envDefault:"file"`
	SessionDir     string `env:"SESSION_DIR" envDefault:"data/sesiones"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix    string `env:"REDIS_PREFIX" envDefault:"asistencias"`

	CookieSecret string `env:"COOKIE_SECRET"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	BusyDelayShow    time.Duration `env:"BUSY_DELAY_SHOW" envDefault:"200ms"`
	BusyMinVisible   time.Duration `env:"BUSY_MIN_VISIBLE" envDefault:"500ms"`
	APITimeout       time.Duration `env:"API_TIMEOUT" envDefault:"15s"`
	WorkspaceIdleTTL time.Duration `env:"WORKSPACE_IDLE_TTL" envDefault:"2h"`

	KioskRate  float64 `env:"KIOSK_RATE" envDefault:"0.5"`
	KioskBurst int     `env:"KIOSK_BURST" envDefault:"5"`
	// TrustedProxies lists the addresses or CIDR ranges of reverse proxies
	// whose X-Forwarded-For is believed. Empty means the peer address is the
	// client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	ReadTimeout  time.Duration `env:"CLIENT_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"CLIENT_WRITE_TIMEOUT" envDefault:"2m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

func DefaultConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIBaseURL) == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	if len(c.CookieSecret) < 32 {
		errs = append(errs, errors.New("COOKIE_SECRET must be at least 32 characters (run setup to generate one)"))
	}
	switch c.SessionBackend {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be memory, file or redis, got %q", c.SessionBackend))
	}
	if c.SessionBackend == "file" && strings.TrimSpace(c.SessionDir) == "" {
		errs = append(errs, errors.New("SESSION_DIR is required for the file backend"))
	}
	if c.SessionBackend == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
	}
	if c.WorkspaceIdleTTL <= 0 {
		errs = append(errs, errors.New("WORKSPACE_IDLE_TTL must be positive"))
	}
	if c.KioskRate <= 0 || c.KioskBurst <= 0 {
		errs = append(errs, errors.New("KIOSK_RATE and KIOSK_BURST must be positive"))
	}
	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("LOG_FORMAT must be console or json, got %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
