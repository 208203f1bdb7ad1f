package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/asya-run/asya/internal/envelope"
	"github.com/asya-run/asya/internal/logging"
	"github.com/asya-run/asya/internal/transport"
)

// Service is the gateway's envelope HTTP surface: accept a tool call,
// create the envelope, publish it to its first actor, and let callers
// read status back by polling or by SSE.
type Service struct {
	Registry  *ProgressRegistry
	Publisher transport.Publisher
	// Schemas validates /tools/call arguments before an envelope is
	// created. Nil means no tool has a registered schema.
	Schemas *SchemaSet
	log     *logging.Logger
}

func NewService(registry *ProgressRegistry, publisher transport.Publisher) *Service {
	return &Service{Registry: registry, Publisher: publisher, log: logging.New("gateway", logging.LevelInfo)}
}

// Router builds the mux.Router exposing the envelope service's HTTP
// surface: tool invocation, status, SSE streaming, and the
// sidecar-facing progress ingest endpoint.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tools/call", s.handleToolCall).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/envelopes/{id}/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/internal/progress", s.handleProgressIngest).Methods(http.MethodPost)
	return r
}

// toolCallRequest is the MCP-style tool invocation body: a tool name
// and its arguments, the same shape asya_testing/utils/gateway.py
// posts to /tools/call.
type toolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallResponse struct {
	EnvelopeID string `json:"envelope_id"`
	StatusURL  string `json:"status_url"`
	StreamURL  string `json:"stream_url"`
}

func (s *Service) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tool-call body: "+err.Error())
		return
	}

	route, ok := routeForTool(req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", req.Name))
		return
	}

	if s.Schemas != nil {
		if err := s.Schemas.Validate(req.Name, req.Arguments); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	env, err := envelope.New(route, json.RawMessage(req.Arguments))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := env.ToJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.Publisher.Publish(r.Context(), env.Route.CurrentActor(), data); err != nil {
		writeError(w, http.StatusBadGateway, "publishing envelope: "+err.Error())
		return
	}

	s.Registry.Ingest(env.ID, Snapshot{EnvelopeID: env.ID, Status: "queued", UpdatedAt: time.Now()})

	resp := toolCallResponse{
		EnvelopeID: env.ID,
		StatusURL:  "/envelopes/" + env.ID,
		StreamURL:  "/envelopes/" + env.ID + "/stream",
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, s.Registry.Get(id))
}

// handleStream serves progress updates for one envelope as SSE, the
// same event/data framing and flusher loop Chartly's gateway uses for
// its own event feed.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := s.Registry.Subscribe(r.Context(), id)

	current := s.Registry.Get(id)
	writeSSE(w, "update", current)
	flusher.Flush()
	if isTerminal(current.Status) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			writeSSE(w, "update", snap)
			flusher.Flush()
			if isTerminal(snap.Status) {
				return
			}
		}
	}
}

// progressIngestRequest is what the sidecar posts after each hop.
type progressIngestRequest struct {
	EnvelopeID string `json:"envelope_id"`
	Actor      string `json:"actor"`
	Phase      string `json:"phase"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Service) handleProgressIngest(w http.ResponseWriter, r *http.Request) {
	var req progressIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := "running"
	switch req.Phase {
	case "finished":
		if req.Status == "succeeded" {
			status = "succeeded"
		} else {
			status = "failed"
		}
	}

	s.Registry.Ingest(req.EnvelopeID, Snapshot{
		EnvelopeID: req.EnvelopeID,
		Actor:      req.Actor,
		Status:     status,
		Error:      req.Error,
		UpdatedAt:  time.Now(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func isTerminal(status string) bool {
	return status == "succeeded" || status == "failed"
}

func writeSSE(w http.ResponseWriter, event string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// routeForTool maps a tool name to the route its envelope should
// start on. In this reference wiring every tool name is itself the
// entry actor; a real deployment would load this mapping from the
// same cell-style configuration the sidecar and runtime read.
func routeForTool(name string) ([]string, bool) {
	if name == "" {
		return nil, false
	}
	return []string{name}, true
}
