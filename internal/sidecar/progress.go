package sidecar

import "context"

// Phase names the three progress snapshots the sidecar reports per
// envelope, matching the gateway's polling/SSE contract.
type Phase string

const (
	PhaseReceived           Phase = "received"
	PhaseProcessingStarted  Phase = "processing-started"
	PhaseFinished           Phase = "finished"
)

// Update is one progress snapshot for a single envelope hop.
type Update struct {
	EnvelopeID string `json:"envelope_id"`
	Actor      string `json:"actor"`
	Phase      Phase  `json:"phase"`
	Status     string `json:"status,omitempty"` // "succeeded" | "failed", set on PhaseFinished
	Error      string `json:"error,omitempty"`
}

// ProgressReporter delivers an Update to the gateway's progress
// registry. A nil reporter is valid and simply drops updates, so a
// sidecar can run without a gateway in tests.
type ProgressReporter interface {
	Report(ctx context.Context, update Update) error
}

// NopReporter drops every update.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Update) error { return nil }
