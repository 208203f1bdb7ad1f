// Command sidecar bridges a transport queue to the local runtime
// socket for a single actor, as described by the YAML config file named
// by the -config flag.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/gateway"
	"github.com/asya-run/asya/internal/sidecar"
	"github.com/asya-run/asya/internal/transport"
)

func main() {
	configPath := flag.String("config", "sidecar.yaml", "path to the sidecar's YAML config")
	socketPath := flag.String("socket", "/var/run/asya/asya-runtime.sock", "path to the runtime's unix socket")
	readyPath := flag.String("ready", "/var/run/asya/runtime-ready", "path to the runtime's ready marker")
	flag.Parse()

	cfg, err := config.LoadSidecarConfig(*configPath)
	if err != nil {
		log.Fatalf("sidecar: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := sidecar.WaitForReady(ctx, *readyPath, cfg.Reconnect); err != nil {
		log.Fatalf("sidecar: %v", err)
	}

	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("sidecar: %v", err)
	}
	defer tr.Close()

	var reporter sidecar.ProgressReporter = sidecar.NopReporter{}
	if cfg.GatewayURL != "" {
		reporter = gateway.NewClient(cfg.GatewayURL)
	}

	runtimeClient := sidecar.NewRuntimeClient(*socketPath)
	sc := sidecar.New(cfg.ActorName, runtimeClient, tr, reporter, cfg.HopTimeout, cfg.Reconnect, cfg.HappyEndActor, cfg.ErrorEndActor)

	if err := sc.Run(ctx); err != nil {
		log.Fatalf("sidecar: %v", err)
	}
}

func buildTransport(ctx context.Context, cfg *config.SidecarConfig) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "sqs":
		return transport.NewSQS(ctx, cfg.Transport.SQS.QueueURL, cfg.Transport.SQS.Endpoint, cfg.Transport.SQS.Region)
	case "rabbitmq":
		return transport.NewRabbitMQ(cfg.Transport.RabbitMQ.URL, cfg.Transport.RabbitMQ.Exchange, cfg.ActorName)
	default:
		return nil, errUnknownTransport(cfg.Transport.Kind)
	}
}

type errUnknownTransport string

func (e errUnknownTransport) Error() string {
	return "unknown transport kind " + string(e)
}
