package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asya-run/asya/internal/transport"
)

const summarizeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "text": { "type": "string" }
  },
  "required": ["text"]
}`

func TestSchemaSetRegisterRejectsInvalidSchema(t *testing.T) {
	schemas := NewSchemaSet()
	if err := schemas.Register("summarize", `{not json}`); err == nil {
		t.Fatal("expected Register to reject a malformed schema")
	}
}

func TestSchemaSetValidateAcceptsMatchingArguments(t *testing.T) {
	schemas := NewSchemaSet()
	if err := schemas.Register("summarize", summarizeSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := schemas.Validate("summarize", []byte(`{"text":"hello"}`)); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
}

func TestSchemaSetValidateRejectsMissingRequiredField(t *testing.T) {
	schemas := NewSchemaSet()
	if err := schemas.Register("summarize", summarizeSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := schemas.Validate("summarize", []byte(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestSchemaSetValidateIgnoresUnregisteredTool(t *testing.T) {
	schemas := NewSchemaSet()
	if err := schemas.Validate("unregistered", []byte(`{}`)); err != nil {
		t.Fatalf("expected unregistered tool to pass through unchecked, got %v", err)
	}
}

func TestHandleToolCallRejectsArgumentsFailingSchema(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	svc := NewService(registry, publisher)
	svc.Schemas = NewSchemaSet()
	if err := svc.Schemas.Register("summarize", summarizeSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{"name":"summarize","arguments":{}}`))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for arguments failing schema validation, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(publisher.Published("summarize")) != 0 {
		t.Fatal("expected no envelope to be published when schema validation fails")
	}
}

func TestHandleToolCallPassesWhenArgumentsMatchSchema(t *testing.T) {
	hub := transport.NewFakeHub()
	publisher := hub.ForActor("gateway")
	registry := NewProgressRegistry(time.Minute, nil)
	svc := NewService(registry, publisher)
	svc.Schemas = NewSchemaSet()
	if err := svc.Schemas.Register("summarize", summarizeSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{"name":"summarize","arguments":{"text":"hello"}}`))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(publisher.Published("summarize")) != 1 {
		t.Fatal("expected envelope to be published when arguments satisfy the schema")
	}
}
