// Package envelope provides the core message structure that actors pass
// between hops.
//
// Every message that moves between a sidecar, a runtime, and the
// transport layer is wrapped in an Envelope. The envelope carries the
// route the message must follow, the headers attached along the way,
// and the payload a handler cares about. Hop-to-hop forwarding only
// ever appends to the route's processed prefix; it never rewrites what
// already happened.
//
// Called by: runtime, sidecar, end actors, gateway
// Calls: standard JSON marshaling, UUID generation
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind classifies why a hop failed to produce a normal result.
type ErrorKind string

const (
	ErrConnection ErrorKind = "connection_error"
	ErrMsgParsing ErrorKind = "msg_parsing_error"
	ErrProcessing ErrorKind = "processing_error"
	ErrTimeout    ErrorKind = "timeout_error"
	ErrOOM        ErrorKind = "oom_error"
	ErrCUDAOOM    ErrorKind = "cuda_oom_error"
)

// Route names the actors a message will visit and how far along it is.
//
// Actors is never empty. Current is the index of the actor that should
// process the envelope next; once Current reaches len(Actors) the
// envelope has reached the end of its route.
type Route struct {
	Actors  []string `json:"actors"`
	Current int      `json:"current"`
}

// Clone returns a deep copy of the route.
func (r Route) Clone() Route {
	actors := make([]string, len(r.Actors))
	copy(actors, r.Actors)
	return Route{Actors: actors, Current: r.Current}
}

// CurrentActor returns the actor at Current, or "" if the route is
// already exhausted.
func (r Route) CurrentActor() string {
	if r.Current < 0 || r.Current >= len(r.Actors) {
		return ""
	}
	return r.Actors[r.Current]
}

// Done reports whether the route has no more actors to visit.
func (r Route) Done() bool {
	return r.Current >= len(r.Actors)
}

// Envelope is the unit of work actors exchange.
//
// Thread safety: an Envelope is not safe for concurrent mutation. Hand
// off a Clone() before handing a reference to another goroutine that
// might mutate it.
type Envelope struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parent_id,omitempty"`
	Route    Route             `json:"route"`
	Headers  map[string]string `json:"headers,omitempty"`
	Payload  json.RawMessage   `json:"payload"`
	Error    *EnvelopeError    `json:"error,omitempty"`
}

// EnvelopeError is attached to an envelope redirected to error-end: the
// same kind/message/type/traceback a failed hop reports, carried along
// on the envelope itself so the persisted record exposes error.kind
// directly instead of needing a side-channel.
type EnvelopeError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	Traceback string    `json:"traceback,omitempty"`
}

// ErrorDetail carries the information a failed hop reports back.
type ErrorDetail struct {
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// ErrorRecord is the shape a failed hop returns instead of output
// envelopes: a single-element array of {"error": kind, "details": {...}}.
type ErrorRecord struct {
	Error   ErrorKind   `json:"error"`
	Details ErrorDetail `json:"details"`
}

// New creates a new envelope addressed to the given route of actors.
//
// Parameters:
//   - actors: ordered list of actor names the envelope will visit
//   - payload: message data to be JSON-marshaled
//
// Called by: gateway when accepting a tool-call.
func New(actors []string, payload interface{}) (*Envelope, error) {
	if len(actors) == 0 {
		return nil, fmt.Errorf("envelope: route must have at least one actor")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	routeActors := make([]string, len(actors))
	copy(routeActors, actors)
	return &Envelope{
		ID:      uuid.New().String(),
		Route:   Route{Actors: routeActors, Current: 0},
		Payload: payloadBytes,
	}, nil
}

// NewChild creates a fan-out envelope derived from parent, addressed to
// the given downstream route starting at current+1 onward from the
// processing actor. The child's ParentID links it back for tracing.
func NewChild(parent *Envelope, actors []string, payload interface{}) (*Envelope, error) {
	child, err := New(actors, payload)
	if err != nil {
		return nil, err
	}
	child.ParentID = parent.ID
	if parent.Headers != nil {
		child.Headers = make(map[string]string, len(parent.Headers))
		for k, v := range parent.Headers {
			child.Headers[k] = v
		}
	}
	return child, nil
}

// SetHeader sets a header value, creating the map if needed.
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}

// GetHeader retrieves a header value.
func (e *Envelope) GetHeader(key string) (string, bool) {
	if e.Headers == nil {
		return "", false
	}
	v, ok := e.Headers[key]
	return v, ok
}

// UnmarshalPayload unmarshals the payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Route = e.Route.Clone()

	if e.Headers != nil {
		clone.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			clone.Headers[k] = v
		}
	}

	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}

	if e.Error != nil {
		errCopy := *e.Error
		clone.Error = &errCopy
	}

	return &clone
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope.
func FromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Size returns the approximate wire size of the envelope in bytes.
func (e *Envelope) Size() int {
	data, err := e.ToJSON()
	if err != nil {
		return 0
	}
	return len(data)
}

// Validate checks the envelope's own shape, independent of any
// transition from a previous version of it.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "envelope id is required"}
	}
	if len(e.Route.Actors) == 0 {
		return &ValidationError{Field: "route.actors", Message: "route must name at least one actor"}
	}
	if e.Route.Current < 0 || e.Route.Current > len(e.Route.Actors) {
		return &ValidationError{Field: "route.current", Message: "route.current out of bounds"}
	}
	if e.Payload == nil {
		return &ValidationError{Field: "payload", Message: "payload is required"}
	}
	return nil
}

// ValidateTransition checks that out is a legal successor of in: the
// processed prefix (everything up to and including in's current actor)
// must be byte-for-byte identical, and current must not move backward.
//
// Grounded on the processed-prefix immutability rule enforced by the
// Python runtime's request validator: a handler may only extend what
// already happened, never rewrite it.
func ValidateTransition(in, out *Envelope) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if out.ID != in.ID {
		return &ValidationError{Field: "id", Message: "output envelope id must match input"}
	}
	if out.Route.Current < in.Route.Current {
		return &ValidationError{Field: "route.current", Message: "route.current must not move backward"}
	}

	// in.Route.Current == len(in.Route.Actors) is a legal, fully-processed
	// state per Validate()'s own bound check, so clamp rather than slice
	// past the end of the actors list.
	processed := in.Route.Actors[:min(in.Route.Current+1, len(in.Route.Actors))]
	if len(out.Route.Actors) < len(processed) {
		return &ValidationError{Field: "route.actors", Message: "output route is shorter than the processed prefix"}
	}
	for i, actor := range processed {
		if out.Route.Actors[i] != actor {
			return &ValidationError{Field: "route.actors", Message: fmt.Sprintf("processed actor at index %d was rewritten", i)}
		}
	}

	if in.Route.Current < len(in.Route.Actors) {
		wantActor := in.Route.Actors[in.Route.Current]
		if out.Route.Actors[in.Route.Current] != wantActor {
			return &ValidationError{Field: "route.actors", Message: "actor at the processing position must not change identity"}
		}
	}

	return nil
}

// ValidationError reports a single envelope validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewErrorRecord builds the single-element error response a failed hop
// returns instead of output envelopes.
func NewErrorRecord(kind ErrorKind, message, errType, traceback string) []ErrorRecord {
	return []ErrorRecord{{
		Error: kind,
		Details: ErrorDetail{
			Message:   message,
			Type:      errType,
			Traceback: traceback,
		},
	}}
}
