// Package handler resolves the ASYA_HANDLER descriptor to user code and
// dispatches a single envelope through it.
//
// A Python runtime can import an arbitrary dotted path at startup. Go's
// closed world has no equivalent: every handler a deployment might run
// must be compiled into the binary and registered under its descriptor
// before Start is called. The registry keeps the same fail-fast
// validation the dotted-path loader performed, just against a map
// instead of the import system.
package handler

import (
	"context"
	"fmt"
	"regexp"
)

// descriptorPattern matches the dotted-path shape the original loader
// required (module.function or module.Class.method), kept as a format
// check even though descriptors are now registry keys, not import paths.
var descriptorPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+$`)

// ValidDescriptor reports whether s has the expected dotted-path shape.
func ValidDescriptor(s string) bool {
	return descriptorPattern.MatchString(s)
}

// PayloadFunc handles a single payload-mode request: it receives the
// raw JSON payload and headers, and returns zero or more JSON payloads
// to fan out, or an error.
type PayloadFunc func(ctx context.Context, payload []byte, headers map[string]string) ([][]byte, error)

// EnvelopeFunc handles a single envelope-mode request: it receives the
// full input envelope (as raw JSON, to stay independent of the
// envelope package's exact shape) and returns zero or more output
// envelopes (as raw JSON), or an error.
type EnvelopeFunc func(ctx context.Context, envelope []byte) ([][]byte, error)

// StatefulHandlerFactory constructs a handler instance once per
// process lifetime. It must not require arguments beyond what it
// closes over; the equivalent of the original loader's all-defaults
// constructor check is that this type signature takes none.
type StatefulHandlerFactory func() (StatefulHandler, error)

// StatefulHandler is the class-handler equivalent: a long-lived
// instance whose Handle method is invoked once per request.
type StatefulHandler interface {
	Handle(ctx context.Context, payload []byte, headers map[string]string) ([][]byte, error)
}

// Registry maps a descriptor string to a callable handler.
type Registry struct {
	payload   map[string]PayloadFunc
	envelope  map[string]EnvelopeFunc
	statefuls map[string]StatefulHandlerFactory
}

func NewRegistry() *Registry {
	return &Registry{
		payload:   make(map[string]PayloadFunc),
		envelope:  make(map[string]EnvelopeFunc),
		statefuls: make(map[string]StatefulHandlerFactory),
	}
}

// RegisterPayload registers a function-style payload-mode handler.
func (r *Registry) RegisterPayload(descriptor string, fn PayloadFunc) error {
	if !ValidDescriptor(descriptor) {
		return fmt.Errorf("handler: %q is not a valid dotted handler descriptor", descriptor)
	}
	r.payload[descriptor] = fn
	return nil
}

// RegisterEnvelope registers a function-style envelope-mode handler.
func (r *Registry) RegisterEnvelope(descriptor string, fn EnvelopeFunc) error {
	if !ValidDescriptor(descriptor) {
		return fmt.Errorf("handler: %q is not a valid dotted handler descriptor", descriptor)
	}
	r.envelope[descriptor] = fn
	return nil
}

// RegisterStateful registers a class-handler-style factory. The
// instance is constructed lazily, the first time the descriptor is
// resolved, and reused for the remaining life of the process.
func (r *Registry) RegisterStateful(descriptor string, factory StatefulHandlerFactory) error {
	if !ValidDescriptor(descriptor) {
		return fmt.Errorf("handler: %q is not a valid dotted handler descriptor", descriptor)
	}
	r.statefuls[descriptor] = factory
	return nil
}

// Resolved is a handler instance ready to run, already constructed if
// it came from a stateful factory.
type Resolved struct {
	Payload  PayloadFunc
	Envelope EnvelopeFunc
}

// Resolve looks up descriptor, constructing its stateful instance on
// first use. It returns an error that mirrors the dotted-path loader's
// "module could not be imported" / "attribute not found" failures.
func (r *Registry) Resolve(descriptor string) (*Resolved, error) {
	if !ValidDescriptor(descriptor) {
		return nil, fmt.Errorf("handler: %q is not a valid dotted handler descriptor", descriptor)
	}

	if fn, ok := r.payload[descriptor]; ok {
		return &Resolved{Payload: fn}, nil
	}
	if fn, ok := r.envelope[descriptor]; ok {
		return &Resolved{Envelope: fn}, nil
	}
	if factory, ok := r.statefuls[descriptor]; ok {
		instance, err := factory()
		if err != nil {
			return nil, fmt.Errorf("handler: constructing %q: %w", descriptor, err)
		}
		fn := func(ctx context.Context, payload []byte, headers map[string]string) ([][]byte, error) {
			return instance.Handle(ctx, payload, headers)
		}
		r.payload[descriptor] = fn
		return &Resolved{Payload: fn}, nil
	}

	return nil, fmt.Errorf("handler: no handler registered for descriptor %q", descriptor)
}
