// Command endactor runs the happy-end or error-end actor: an
// envelope-mode runtime whose handler persists the envelope to object
// storage instead of forwarding it further.
//
// Which outcome it records is chosen by ASYA_ENDACTOR_KIND ("happy" or
// "error"); everything else is configured the same way as cmd/runtime.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/endactor"
	"github.com/asya-run/asya/internal/handler"
	"github.com/asya-run/asya/internal/runtime"
	"github.com/asya-run/asya/internal/storage"
)

func main() {
	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatalf("endactor: %v", err)
	}
	if cfg.HandlerMode != "envelope" {
		log.Fatalf("endactor: ASYA_HANDLER_MODE must be envelope, got %q", cfg.HandlerMode)
	}

	ctx := context.Background()
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:  os.Getenv("ASYA_S3_ENDPOINT"),
		Bucket:    requireEnv("ASYA_S3_BUCKET"),
		AccessKey: requireEnv("ASYA_S3_ACCESS_KEY"),
		SecretKey: requireEnv("ASYA_S3_SECRET_KEY"),
		Region:    os.Getenv("ASYA_S3_REGION"),
	})
	if err != nil {
		log.Fatalf("endactor: %v", err)
	}

	spoolDir := os.Getenv("ASYA_ENDACTOR_SPOOL_DIR")
	var spool *endactor.Spooler
	if spoolDir != "" {
		spool, err = endactor.NewSpooler(spoolDir)
		if err != nil {
			log.Fatalf("endactor: %v", err)
		}
		go spool.Run(ctx, store, 30*time.Second)
	}

	registry := handler.NewRegistry()
	var fn handler.EnvelopeFunc
	switch kind := os.Getenv("ASYA_ENDACTOR_KIND"); kind {
	case "happy":
		fn = endactor.NewHappyEnd(store, spool)
	case "error":
		fn = endactor.NewErrorEnd(store, spool)
	default:
		log.Fatalf("endactor: ASYA_ENDACTOR_KIND must be happy or error, got %q", kind)
	}
	if err := registry.RegisterEnvelope(cfg.Handler, fn); err != nil {
		log.Fatalf("endactor: %v", err)
	}

	server := runtime.NewServer(cfg, registry)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("endactor: %v", err)
	}
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("endactor: %s is required", key)
	}
	return v
}
