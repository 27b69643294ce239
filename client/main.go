package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/phillip-england/asistencias/internal/asistenciascli"
	"github.com/phillip-england/asistencias/internal/envutil"
)

// Runs the web client alone, reading .env from the working directory.
func main() {
	if err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := asistenciascli.RunClient(ctx); err != nil {
		log.Fatal(err)
	}
}
