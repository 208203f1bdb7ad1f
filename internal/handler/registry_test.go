package handler

import (
	"context"
	"errors"
	"testing"
)

func TestValidDescriptor(t *testing.T) {
	cases := map[string]bool{
		"module.function":        true,
		"pkg.Class.method":       true,
		"nodots":                 false,
		".leadingdot":            false,
		"trailing.":              false,
		"has space.function":     false,
		"module123.func_name_2": true,
	}
	for descriptor, want := range cases {
		if got := ValidDescriptor(descriptor); got != want {
			t.Errorf("ValidDescriptor(%q) = %v, want %v", descriptor, got, want)
		}
	}
}

func TestRegisterPayloadRejectsBadDescriptor(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterPayload("not-a-descriptor", Echo); err == nil {
		t.Fatal("expected error for malformed descriptor")
	}
}

func TestResolveUnknownDescriptor(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("nothing.here"); err == nil {
		t.Fatal("expected error for unregistered descriptor")
	}
}

func TestResolvePayloadHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterPayload("test.echo", Echo); err != nil {
		t.Fatalf("RegisterPayload: %v", err)
	}
	resolved, err := r.Resolve("test.echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Payload == nil {
		t.Fatal("expected a payload handler")
	}
	if resolved.Envelope != nil {
		t.Fatal("did not expect an envelope handler")
	}
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) Handle(ctx context.Context, payload []byte, headers map[string]string) ([][]byte, error) {
	h.calls++
	return [][]byte{payload}, nil
}

func TestStatefulHandlerConstructedOnce(t *testing.T) {
	r := NewRegistry()
	constructions := 0
	instance := &countingHandler{}
	if err := r.RegisterStateful("test.stateful", func() (StatefulHandler, error) {
		constructions++
		return instance, nil
	}); err != nil {
		t.Fatalf("RegisterStateful: %v", err)
	}

	for i := 0; i < 3; i++ {
		resolved, err := r.Resolve("test.stateful")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if _, err := resolved.Payload(context.Background(), []byte("x"), nil); err != nil {
			t.Fatalf("Payload: %v", err)
		}
	}

	if constructions != 1 {
		t.Fatalf("expected factory to run once, ran %d times", constructions)
	}
	if instance.calls != 3 {
		t.Fatalf("expected 3 handle calls, got %d", instance.calls)
	}
}

func TestStatefulConstructorErrorPropagates(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	r.RegisterStateful("test.broken", func() (StatefulHandler, error) {
		return nil, wantErr
	})

	if _, err := r.Resolve("test.broken"); err == nil {
		t.Fatal("expected constructor error to propagate")
	}
}
