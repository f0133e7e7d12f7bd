package main

import (
	"log"

	"github.com/meadowbrook/clinisec/internal/accounts/app"
)

func main() {
	cfg := app.LoadConfig()

	// nil notifier logs deliveries; the records manager wires a real channel.
	application, err := app.New(cfg, nil)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
