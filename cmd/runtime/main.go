// Command runtime runs the Asya actor runtime: it loads the handler
// named by ASYA_HANDLER and serves it over a Unix socket until
// terminated.
package main

import (
	"context"
	"log"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/handler"
	"github.com/asya-run/asya/internal/runtime"
)

func main() {
	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}

	registry := handler.NewRegistry()
	if err := registry.RegisterPayload("asya.examples.echo", handler.Echo); err != nil {
		log.Fatalf("runtime: registering built-in handler: %v", err)
	}

	server := runtime.NewServer(cfg, registry)
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("runtime: %v", err)
	}
}
