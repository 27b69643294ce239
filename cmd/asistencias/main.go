package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/asistencias/internal/asistenciascli"
)

func main() {
	if err := asistenciascli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, asistenciascli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr)
			asistenciascli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
