// Package sidecar implements the per-actor process that bridges a
// transport queue to the local runtime socket: it consumes envelopes
// addressed to its actor, forwards each to the runtime for handling,
// and publishes the runtime's output to the next hop(s) in the route.
//
// Grounded on the request/response correlation and reconnect style of
// the teacher's broker client, adapted from pub/sub topics to the
// transport.Transport abstraction.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/envelope"
	"github.com/asya-run/asya/internal/logging"
	"github.com/asya-run/asya/internal/transport"
)

// Sidecar consumes envelopes addressed to ActorName, runs them through
// the local runtime, and publishes the results onward.
type Sidecar struct {
	ActorName  string
	Runtime    *RuntimeClient
	Transport  transport.Transport
	Progress   ProgressReporter
	HopTimeout time.Duration
	Reconnect  config.Backoff

	// HappyEndActor receives a route-exhausted or empty-response
	// envelope instead of it being silently dropped. ErrorEndActor
	// receives the original envelope, annotated with the error that
	// ended the hop, whenever the runtime call itself fails or comes
	// back with a classified error.
	HappyEndActor string
	ErrorEndActor string

	log *logging.Logger
}

func New(actorName string, runtimeClient *RuntimeClient, tr transport.Transport, progress ProgressReporter, hopTimeout time.Duration, reconnect config.Backoff, happyEndActor, errorEndActor string) *Sidecar {
	if progress == nil {
		progress = NopReporter{}
	}
	if happyEndActor == "" {
		happyEndActor = "happy-end"
	}
	if errorEndActor == "" {
		errorEndActor = "error-end"
	}
	return &Sidecar{
		ActorName:     actorName,
		Runtime:       runtimeClient,
		Transport:     tr,
		Progress:      progress,
		HopTimeout:    hopTimeout,
		Reconnect:     reconnect,
		HappyEndActor: happyEndActor,
		ErrorEndActor: errorEndActor,
		log:           logging.New(fmt.Sprintf("sidecar[%s]", actorName), logging.LevelInfo),
	}
}

// Run consumes deliveries until ctx is canceled. Each delivery is
// handled in its own goroutine, so envelopes for this actor process in
// parallel up to the transport's own prefetch/concurrency limit; there
// is no ordering guarantee across envelopes.
func (s *Sidecar) Run(ctx context.Context) error {
	deliveries, err := s.Transport.Consume(ctx)
	if err != nil {
		return fmt.Errorf("sidecar: starting consume: %w", err)
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			go s.handle(ctx, d)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sidecar) handle(ctx context.Context, delivery transport.Delivery) {
	env, err := envelope.FromJSON(delivery.Body)
	if err != nil {
		s.log.Error("dropping malformed delivery: %v", err)
		delivery.Nack(ctx)
		return
	}

	s.reportReceived(ctx, env)

	if err := s.callRuntimeWithReconnect(ctx, env, delivery); err != nil {
		s.log.Error("envelope %s: %v", env.ID, err)
	}
}

func (s *Sidecar) reportReceived(ctx context.Context, env *envelope.Envelope) {
	s.Progress.Report(ctx, Update{EnvelopeID: env.ID, Actor: s.ActorName, Phase: PhaseReceived})
}

// callRuntimeWithReconnect dials the runtime, retrying on
// connection_error with the configured backoff until Reconnect's
// MaxElapsed is exceeded. An exhausted reconnect budget, any other
// failed runtime call, a classified error response from the runtime,
// or an output envelope that cannot be decoded is routed to
// ErrorEndActor rather than left for indefinite redelivery. A failed
// publish to the next hop or to HappyEndActor nacks the delivery
// instead.
func (s *Sidecar) callRuntimeWithReconnect(ctx context.Context, env *envelope.Envelope, delivery transport.Delivery) error {
	envJSON, err := env.ToJSON()
	if err != nil {
		return err
	}

	start := time.Now()
	var outcome Outcome
	attempt := 0
	for {
		s.Progress.Report(ctx, Update{EnvelopeID: env.ID, Actor: s.ActorName, Phase: PhaseProcessingStarted})

		outcome, err = s.Runtime.Call(ctx, envJSON, s.HopTimeout)
		if err == nil {
			break
		}
		if !isConnectionError(err) || time.Since(start) > s.Reconnect.MaxElapsed {
			kind, message := classifyHopFailure(err)
			if isConnectionError(err) {
				// The runtime itself is fine once it comes back; giving
				// up on reconnecting is a processing failure of this
				// hop, not a transient connection error.
				kind = envelope.ErrProcessing
			}
			return s.failHop(ctx, env, delivery, kind, message)
		}

		s.log.Warn("runtime unreachable, retrying: %v", err)
		select {
		case <-time.After(s.Reconnect.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}

	if outcome.IsError() {
		kind, message := envelope.ErrProcessing, string(outcome.ErrorRecord)
		var rec envelope.ErrorRecord
		if jsonErr := json.Unmarshal(outcome.ErrorRecord, &rec); jsonErr == nil {
			kind = rec.Error
			message = rec.Details.Message
		}
		return s.failHop(ctx, env, delivery, kind, message)
	}

	if err := s.forward(ctx, env, outcome.Envelopes); err != nil {
		kind, message := classifyHopFailure(err)
		if kind == envelope.ErrConnection {
			// A downstream publish failed; leave the input message for
			// the transport to redeliver rather than routing to
			// error-end, which would itself require a publish.
			s.reportFailure(ctx, env, err)
			delivery.Nack(ctx)
			return err
		}
		return s.failHop(ctx, env, delivery, kind, message)
	}

	// Ack only after every output envelope has been durably published:
	// forward progress has happened, so redelivering the input would
	// duplicate work rather than recover from a lost message.
	if err := delivery.Ack(ctx); err != nil {
		s.log.Error("envelope %s: ack failed: %v", env.ID, err)
	}
	s.Progress.Report(ctx, Update{EnvelopeID: env.ID, Actor: s.ActorName, Phase: PhaseFinished, Status: "succeeded"})
	return nil
}

// forward publishes the runtime's output envelopes to their next hop.
// An empty response, and any output whose route is already exhausted,
// is delivered to HappyEndActor instead of being dropped.
func (s *Sidecar) forward(ctx context.Context, env *envelope.Envelope, outputs []json.RawMessage) error {
	if len(outputs) == 0 {
		raw, err := env.ToJSON()
		if err != nil {
			return fmt.Errorf("processing_error: re-encoding original envelope for happy-end: %w", err)
		}
		return s.publishRaw(ctx, s.HappyEndActor, raw)
	}

	for _, raw := range outputs {
		out, err := envelope.FromJSON(raw)
		if err != nil {
			return fmt.Errorf("processing_error: decoding output envelope: %w", err)
		}
		nextActor := out.Route.CurrentActor()
		if nextActor == "" {
			// Route exhausted, including route.current > len(actors):
			// implicitly routed to happy-end.
			nextActor = s.HappyEndActor
		}
		if err := s.publishRaw(ctx, nextActor, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sidecar) publishRaw(ctx context.Context, actor string, raw []byte) error {
	if err := s.Transport.Publish(ctx, actor, raw); err != nil {
		return fmt.Errorf("connection_error: publishing to %q: %w", actor, err)
	}
	return nil
}

// failHop annotates env with the error that ended this hop and routes
// it to ErrorEndActor, acknowledging the input delivery once that
// publish succeeds (routing to error-end is itself forward progress).
// If the error-end publish fails, the delivery is nacked instead so
// the transport retries the whole hop.
func (s *Sidecar) failHop(ctx context.Context, env *envelope.Envelope, delivery transport.Delivery, kind envelope.ErrorKind, message string) error {
	err := fmt.Errorf("%s: %s", kind, message)
	s.reportFailure(ctx, env, err)

	annotated := env.Clone()
	annotated.Error = &envelope.EnvelopeError{Kind: kind, Message: message}
	data, marshalErr := annotated.ToJSON()
	if marshalErr != nil {
		delivery.Nack(ctx)
		return marshalErr
	}
	if pubErr := s.Transport.Publish(ctx, s.ErrorEndActor, data); pubErr != nil {
		s.log.Error("envelope %s: failed to publish to error-end: %v", env.ID, pubErr)
		delivery.Nack(ctx)
		return pubErr
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		s.log.Error("envelope %s: ack failed: %v", env.ID, ackErr)
	}
	return err
}

func (s *Sidecar) reportFailure(ctx context.Context, env *envelope.Envelope, err error) {
	s.Progress.Report(ctx, Update{
		EnvelopeID: env.ID,
		Actor:      s.ActorName,
		Phase:      PhaseFinished,
		Status:     "failed",
		Error:      err.Error(),
	})
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), string(envelope.ErrConnection))
}

// classifyHopFailure recovers the error kind a wrapped error was
// tagged with (connection_error, msg_parsing_error, processing_error,
// ...), falling back to processing_error for anything unrecognized.
func classifyHopFailure(err error) (envelope.ErrorKind, string) {
	msg := err.Error()
	kinds := []envelope.ErrorKind{
		envelope.ErrConnection,
		envelope.ErrMsgParsing,
		envelope.ErrProcessing,
		envelope.ErrTimeout,
		envelope.ErrOOM,
		envelope.ErrCUDAOOM,
	}
	for _, kind := range kinds {
		prefix := string(kind) + ": "
		if strings.HasPrefix(msg, prefix) {
			return kind, strings.TrimPrefix(msg, prefix)
		}
	}
	return envelope.ErrProcessing, msg
}
