package runtime

import (
	"testing"

	"github.com/asya-run/asya/internal/envelope"
)

func TestParseAndValidateDefaultsCurrentToZero(t *testing.T) {
	data := []byte(`{"id":"e1","route":{"actors":["a","b"]},"payload":{"x":1}}`)

	env, err := parseAndValidate(data, true, "", nil)
	if err != nil {
		t.Fatalf("parseAndValidate: %v", err)
	}
	if env.Route.Current != 0 {
		t.Fatalf("expected current=0, got %d", env.Route.Current)
	}
}

func TestParseAndValidateRejectsMissingPayload(t *testing.T) {
	data := []byte(`{"id":"e1","route":{"actors":["a"]}}`)
	if _, err := parseAndValidate(data, true, "", nil); err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestParseAndValidateRejectsEmptyActors(t *testing.T) {
	data := []byte(`{"id":"e1","route":{"actors":[]},"payload":1}`)
	if _, err := parseAndValidate(data, true, "", nil); err == nil {
		t.Fatal("expected error for empty actors")
	}
}

func TestParseAndValidateRejectsRewrittenPrefix(t *testing.T) {
	inputRoute := &envelope.Route{Actors: []string{"a", "b"}, Current: 1}
	data := []byte(`{"id":"e1","route":{"actors":["rewritten","b","c"],"current":2},"payload":1}`)

	if _, err := parseAndValidate(data, true, "b", inputRoute); err == nil {
		t.Fatal("expected error for rewritten processed prefix")
	}
}

func TestParseAndValidateAllowsLegalExtension(t *testing.T) {
	inputRoute := &envelope.Route{Actors: []string{"a", "b"}, Current: 1}
	data := []byte(`{"id":"e1","route":{"actors":["a","b","c"],"current":2},"payload":1}`)

	if _, err := parseAndValidate(data, true, "b", inputRoute); err != nil {
		t.Fatalf("expected legal extension to pass: %v", err)
	}
}

func TestParseAndValidateSkipsChecksWhenDisabled(t *testing.T) {
	data := []byte(`{"id":"e1","route":{"actors":[]},"payload":null}`)
	if _, err := parseAndValidate(data, false, "", nil); err != nil {
		t.Fatalf("expected validation to be skipped: %v", err)
	}
}
