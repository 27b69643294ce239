package asistenciascli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/phillip-england/asistencias/internal/clientapp"
	"github.com/phillip-england/asistencias/internal/envutil"
	"github.com/phillip-england/asistencias/internal/security"
)

var ErrUsage = errors.New("usage")

const cookieSecretBytes = 48

func Execute(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return runSetup(args[1:], os.Stdout)
	case "run":
		return runCommand(args[1:])
	case "help", "-h", "--help":
		PrintUsage(os.Stdout)
		return nil
	default:
		return usageError()
	}
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: asistencias setup --api-url <url> [--session-backend file|redis|memory] [--env-file .env] [--force]")
	fmt.Fprintln(w, "       asistencias run [--env-file .env]")
}

func usageError() error {
	return fmt.Errorf("%w: asistencias <setup|run> [...]", ErrUsage)
}

func runSetup(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	apiURL := fs.String("api-url", "", "attendance API base URL, e.g. https://api.example.com/api")
	backend := fs.String("session-backend", "file", "where sessions persist: file, redis or memory")
	redisURL := fs.String("redis-url", "redis://localhost:6379/0", "redis URL for the redis backend")
	addr := fs.String("addr", ":3000", "client listen address")
	envPath := fs.String("env-file", ".env", "path to .env file")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if strings.TrimSpace(*apiURL) == "" {
		return errors.New("--api-url is required")
	}
	secret, err := security.GenerateSecret(cookieSecretBytes)
	if err != nil {
		return err
	}

	values := map[string]string{
		"API_BASE_URL":    strings.TrimRight(strings.TrimSpace(*apiURL), "/"),
		"CLIENT_ADDR":     *addr,
		"COOKIE_SECRET":   secret,
		"SESSION_BACKEND": *backend,
		"SESSION_DIR":     "data/sesiones",
		"LOG_LEVEL":       "info",
	}
	if *backend == "redis" {
		values["REDIS_URL"] = *redisURL
	}

	if err := validateValues(values); err != nil {
		return err
	}

	if err := ensureParentDirs(*envPath); err != nil {
		return err
	}
	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *envPath)
	return nil
}

// validateValues checks the generated settings the way run will, so a bad
// flag fails at setup rather than at startup.
func validateValues(values map[string]string) error {
	var cfg clientapp.Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: values}); err != nil {
		return err
	}
	return cfg.Validate()
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	envPath := fs.String("env-file", ".env", "path to .env file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if err := envutil.LoadDotEnv(*envPath); err != nil {
		return fmt.Errorf("load %s: %w", *envPath, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunClient(ctx)
}

// RunClient starts the web client from the process environment.
func RunClient(ctx context.Context) error {
	cfg, err := clientapp.DefaultConfigFromEnv()
	if err != nil {
		return err
	}
	log, err := clientapp.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	if cfg.SessionBackend == "file" {
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return fmt.Errorf("create session directory: %w", err)
		}
	}
	if err := clientapp.Run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
