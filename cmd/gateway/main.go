// Command gateway runs the envelope service: the HTTP boundary that
// accepts tool calls, creates envelopes, and reports their progress.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/gateway"
	"github.com/asya-run/asya/internal/transport"
)

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to the gateway's YAML config")
	badgerDir := flag.String("progress-db", "", "optional badger directory for durable progress snapshots")
	flag.Parse()

	cfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var store gateway.ProgressStore
	if *badgerDir != "" {
		badgerStore, err := gateway.NewBadgerStore(*badgerDir)
		if err != nil {
			log.Fatalf("gateway: %v", err)
		}
		defer badgerStore.Close()
		store = badgerStore
	}

	registry := gateway.NewProgressRegistry(cfg.ProgressTTL, store)
	go registry.RunEviction(ctx, time.Minute)

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	defer publisher.Close()

	svc := gateway.NewService(registry, publisher)
	if len(cfg.ToolSchemas) > 0 {
		schemas := gateway.NewSchemaSet()
		for tool, schemaJSON := range cfg.ToolSchemas {
			if err := schemas.Register(tool, schemaJSON); err != nil {
				log.Fatalf("gateway: %v", err)
			}
		}
		svc.Schemas = schemas
	}

	server := &http.Server{Addr: cfg.ListenAddr, Handler: svc.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway: listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("gateway: %v", err)
	}
}

func buildPublisher(ctx context.Context, cfg *config.GatewayConfig) (transport.Publisher, error) {
	switch cfg.Transport.Kind {
	case "sqs":
		return transport.NewSQS(ctx, cfg.Transport.SQS.QueueURL, cfg.Transport.SQS.Endpoint, cfg.Transport.SQS.Region)
	case "rabbitmq":
		return transport.NewRabbitMQ(cfg.Transport.RabbitMQ.URL, cfg.Transport.RabbitMQ.Exchange, "")
	default:
		return nil, errUnknownTransport(cfg.Transport.Kind)
	}
}

type errUnknownTransport string

func (e errUnknownTransport) Error() string {
	return "unknown transport kind " + string(e)
}
