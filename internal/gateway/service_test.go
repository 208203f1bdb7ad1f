package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asya-run/asya/internal/transport"
)

func TestHandleToolCallPublishesAndReturnsAccepted(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	svc := NewService(registry, publisher)

	body := `{"name":"summarize","arguments":{"text":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(body))
	rec := httptest.NewRecorder()

	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp toolCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.EnvelopeID == "" {
		t.Fatal("expected a generated envelope id")
	}

	published := publisher.Published("summarize")
	if len(published) != 1 {
		t.Fatalf("expected envelope published to the summarize actor, got %d", len(published))
	}
}

func TestHandleToolCallRejectsEmptyName(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	svc := NewService(registry, publisher)

	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{"name":"","arguments":{}}`))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unroutable tool name, got %d", rec.Code)
	}
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	registry.Ingest("e1", Snapshot{EnvelopeID: "e1", Status: "running", UpdatedAt: time.Now()})
	svc := NewService(registry, publisher)

	req := httptest.NewRequest(http.MethodGet, "/envelopes/e1", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Status != "running" {
		t.Fatalf("expected running, got %s", snap.Status)
	}
}

func TestHandleProgressIngestUpdatesRegistry(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	svc := NewService(registry, publisher)

	body := `{"envelope_id":"e1","actor":"worker","phase":"finished","status":"succeeded"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/progress", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if registry.Get("e1").Status != "succeeded" {
		t.Fatalf("expected ingest to mark envelope succeeded, got %s", registry.Get("e1").Status)
	}
}

func TestHandleStreamSendsInitialSnapshotAndClosesOnTerminal(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	registry.Ingest("e1", Snapshot{EnvelopeID: "e1", Status: "succeeded", UpdatedAt: time.Now()})
	svc := NewService(registry, publisher)

	req := httptest.NewRequest(http.MethodGet, "/envelopes/e1/stream", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %s", rec.Header().Get("Content-Type"))
	}

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			found = true
			var snap Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(scanner.Text(), "data: ")), &snap); err != nil {
				t.Fatalf("unmarshal sse data: %v", err)
			}
			if snap.Status != "succeeded" {
				t.Fatalf("expected succeeded snapshot, got %s", snap.Status)
			}
		}
	}
	if !found {
		t.Fatal("expected at least one SSE data line")
	}
}

func TestHandleStreamReturnsOnContextCancel(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	registry.Ingest("e1", Snapshot{EnvelopeID: "e1", Status: "running", UpdatedAt: time.Now()})
	svc := NewService(registry, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/envelopes/e1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		svc.Router().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected handler to return after context cancellation")
	}
}
