// Package runtime implements the Unix-socket actor runtime: a
// single-threaded, cooperative server that accepts one connection at a
// time, reads a single framed envelope, runs the configured handler,
// and writes back a single framed JSON array of output envelopes (or a
// single-element error record).
//
// Grounded on asya_runtime.py's handle_requests/_handle_request loop.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/google/uuid"

	"github.com/asya-run/asya/internal/config"
	"github.com/asya-run/asya/internal/envelope"
	"github.com/asya-run/asya/internal/handler"
	"github.com/asya-run/asya/internal/logging"
)

// Server is the actor runtime's Unix-socket accept loop.
type Server struct {
	cfg      *config.RuntimeConfig
	registry *handler.Registry
	log      *logging.Logger

	listener net.Listener
}

func NewServer(cfg *config.RuntimeConfig, registry *handler.Registry) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		log:      logging.New("runtime", logging.ParseLevel(cfg.LogLevel)),
	}
}

// Start resolves the configured handler, binds the Unix socket, writes
// the ready marker, and blocks serving requests until ctx is canceled
// or a SIGTERM/SIGINT arrives.
func (s *Server) Start(ctx context.Context) error {
	resolved, err := s.registry.Resolve(s.cfg.Handler)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	if err := os.MkdirAll(s.cfg.SocketDir, 0o755); err != nil {
		return fmt.Errorf("runtime: creating socket dir: %w", err)
	}

	socketPath := s.cfg.SocketPath()
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runtime: removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("runtime: listening on %s: %w", socketPath, err)
	}
	s.listener = listener

	if s.cfg.SocketChmod != 0 {
		if err := os.Chmod(socketPath, s.cfg.SocketChmod); err != nil {
			s.log.Error("failed to chmod socket: %v", err)
		} else {
			s.log.Info("socket permissions set to %o", s.cfg.SocketChmod)
		}
	}
	s.log.Info("socket server listening on %s", socketPath)

	readyPath := s.cfg.ReadyPath()
	if err := writeReadyFile(readyPath); err != nil {
		s.log.Error("failed to create ready file %s: %v", readyPath, err)
	} else {
		s.log.Info("runtime ready signal created: %s", readyPath)
	}

	cleanup := func() {
		listener.Close()
		os.Remove(socketPath)
		os.Remove(readyPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			s.log.Info("received signal %v, shutting down", sig)
			cleanup()
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	defer close(done)
	defer cleanup()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Debug("accept error: %v", err)
			return nil
		}
		s.handleConnection(ctx, conn, resolved)
	}
}

// writeReadyFile writes via a temp file and rename so the sidecar never
// observes a partially written marker.
func writeReadyFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".runtime-ready-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString("ready"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, resolved *handler.Resolved) {
	defer conn.Close()

	responses := s.handleRequest(ctx, conn, resolved)

	data, err := json.Marshal(responses)
	if err != nil {
		s.log.Error("failed to marshal response: %v", err)
		return
	}
	if err := writeFrame(conn, data); err != nil {
		s.log.Warn("client disconnected before response was sent: %v", err)
	}
}

// handleRequest reads one framed envelope, dispatches it to the
// resolved handler, and returns the list of output envelopes (as raw
// JSON messages, ready to marshal) or a single-element error record.
func (s *Server) handleRequest(ctx context.Context, conn net.Conn, resolved *handler.Resolved) []json.RawMessage {
	frame, err := readFrame(conn, s.cfg.ChunkSize)
	if err != nil {
		return errorResponse(envelope.ErrConnection, err)
	}

	env, err := parseAndValidate(frame, s.cfg.EnableValidation, "", nil)
	if err != nil {
		return errorResponse(envelope.ErrMsgParsing, err)
	}
	s.log.Debug("received envelope: %d bytes", len(frame))

	return s.dispatch(ctx, env, resolved)
}

func (s *Server) dispatch(ctx context.Context, env *envelope.Envelope, resolved *handler.Resolved) (out []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			out = errorResponse(envelope.ErrProcessing, err)
		}
	}()

	switch s.cfg.HandlerMode {
	case "payload":
		return s.dispatchPayload(ctx, env, resolved)
	case "envelope":
		return s.dispatchEnvelope(ctx, env, resolved)
	default:
		return errorResponse(envelope.ErrProcessing, fmt.Errorf("invalid handler mode %q", s.cfg.HandlerMode))
	}
}

func (s *Server) dispatchPayload(ctx context.Context, env *envelope.Envelope, resolved *handler.Resolved) []json.RawMessage {
	if resolved.Payload == nil {
		return errorResponse(envelope.ErrProcessing, fmt.Errorf("handler is not registered in payload mode"))
	}

	payloads, err := resolved.Payload(ctx, env.Payload, env.Headers)
	if err != nil {
		return errorResponse(envelope.ErrProcessing, err)
	}

	outRoute := env.Route.Clone()
	outRoute.Current = env.Route.Current + 1

	// A single output continues the same envelope along its route. Fan-
	// out (more than one output) forks independent envelopes, each with
	// its own id and parent_id pointing back at env, so each lands on
	// its own storage key instead of colliding.
	fanOut := len(payloads) > 1

	out := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		id, parentID := env.ID, env.ParentID
		if fanOut {
			id, parentID = uuid.New().String(), env.ID
		}
		child := &envelope.Envelope{
			ID:       id,
			ParentID: parentID,
			Route:    outRoute.Clone(),
			Headers:  env.Headers,
			Payload:  p,
		}
		data, err := child.ToJSON()
		if err != nil {
			return errorResponse(envelope.ErrProcessing, err)
		}
		out = append(out, data)
	}
	return out
}

func (s *Server) dispatchEnvelope(ctx context.Context, env *envelope.Envelope, resolved *handler.Resolved) []json.RawMessage {
	if resolved.Envelope == nil && resolved.Payload == nil {
		return errorResponse(envelope.ErrProcessing, fmt.Errorf("handler is not registered in envelope mode"))
	}

	inputJSON, err := env.ToJSON()
	if err != nil {
		return errorResponse(envelope.ErrProcessing, err)
	}

	var rawOutputs [][]byte
	if resolved.Envelope != nil {
		rawOutputs, err = resolved.Envelope(ctx, inputJSON)
	} else {
		rawOutputs, err = resolved.Payload(ctx, inputJSON, env.Headers)
	}
	if err != nil {
		return errorResponse(envelope.ErrProcessing, err)
	}

	expectedActor := env.Route.CurrentActor()
	out := make([]json.RawMessage, 0, len(rawOutputs))
	for i, raw := range rawOutputs {
		// An output that omits headers inherits the input envelope's.
		if len(env.Headers) > 0 {
			var fields map[string]json.RawMessage
			if json.Unmarshal(raw, &fields) == nil {
				if _, ok := fields["headers"]; !ok {
					fields["headers"], _ = json.Marshal(env.Headers)
					if merged, err := json.Marshal(fields); err == nil {
						raw = merged
					}
				}
			}
		}
		if s.cfg.EnableValidation {
			if _, err := parseAndValidate(raw, true, expectedActor, &env.Route); err != nil {
				return errorResponse(envelope.ErrProcessing, fmt.Errorf("invalid output envelope[%d/%d]: %w", i, len(rawOutputs), err))
			}
		}
		out = append(out, json.RawMessage(raw))
	}
	return out
}

func errorResponse(kind envelope.ErrorKind, err error) []json.RawMessage {
	record := envelope.NewErrorRecord(kind, err.Error(), fmt.Sprintf("%T", err), "")
	data, marshalErr := json.Marshal(record[0])
	if marshalErr != nil {
		return []json.RawMessage{json.RawMessage(`{"error":"processing_error","details":{"message":"failed to marshal error"}}`)}
	}
	return []json.RawMessage{data}
}
