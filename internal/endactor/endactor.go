// Package endactor implements the happy-end and error-end handlers:
// terminal, envelope-mode actors that persist a finished envelope to
// object storage and return no further hops.
//
// Grounded on the persistence contract in asya_testing/utils/s3.py:
// a bucket is created on demand, a document is written per envelope,
// and any reader finds it by treating "key contains the envelope id"
// as ownership.
package endactor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/asya-run/asya/internal/envelope"
	"github.com/asya-run/asya/internal/logging"
	"github.com/asya-run/asya/internal/storage"
)

// Record is the document written to object storage. The envelope's
// own fields (id, parent_id, route, headers, payload, and - for
// error-end - error) are embedded directly so a reader sees
// `record.error.kind` the same way it sees `record.payload`, with
// Outcome/Compressed as the only metadata added on top. When the
// envelope is large the stored copy is zstd-compressed and
// base64-encoded into CompressedEnvelope instead, so the record stays
// valid JSON without duplicating a huge payload in plain text.
type Record struct {
	Outcome            string          `json:"outcome"` // "happy" or "error"
	Compressed         bool            `json:"compressed,omitempty"`
	CompressedEnvelope json.RawMessage `json:"envelope,omitempty"`
	*envelope.Envelope
}

// NewHappyEnd returns an envelope-mode handler that persists the
// envelope to store and returns no output, ending the route. When
// spool is non-nil, a store failure is spooled locally instead of
// failing the request, so a transient object-storage outage doesn't
// turn into a processing_error for every in-flight envelope.
func NewHappyEnd(store storage.ObjectStore, spool *Spooler) func(ctx context.Context, env []byte) ([][]byte, error) {
	return newEndHandler("happy", store, spool, "happy-end")
}

// NewErrorEnd returns an envelope-mode handler for envelopes that
// failed elsewhere in the route and were redirected here instead of
// their original next hop.
func NewErrorEnd(store storage.ObjectStore, spool *Spooler) func(ctx context.Context, env []byte) ([][]byte, error) {
	return newEndHandler("error", store, spool, "error-end")
}

func newEndHandler(outcome string, store storage.ObjectStore, spool *Spooler, name string) func(context.Context, []byte) ([][]byte, error) {
	log := logging.New(name, logging.LevelInfo)

	return func(ctx context.Context, envJSON []byte) ([][]byte, error) {
		env, err := envelope.FromJSON(envJSON)
		if err != nil {
			return nil, fmt.Errorf("%s: decoding envelope: %w", name, err)
		}
		if env.ID == "" {
			return nil, fmt.Errorf("%s: envelope has no id to key the persisted record on", name)
		}

		record := Record{Outcome: outcome, Envelope: env}
		if len(envJSON) > storage.CompressThreshold {
			compressed, err := storage.Compress(envJSON)
			if err != nil {
				return nil, fmt.Errorf("%s: compressing envelope %s: %w", name, env.ID, err)
			}
			encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(compressed))
			if err != nil {
				return nil, fmt.Errorf("%s: encoding compressed envelope %s: %w", name, env.ID, err)
			}
			record.Compressed = true
			record.Envelope = nil
			record.CompressedEnvelope = json.RawMessage(encoded)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling record for %s: %w", name, env.ID, err)
		}

		key, err := store.Put(ctx, env.ID, data)
		if err != nil {
			if spool == nil {
				return nil, fmt.Errorf("%s: persisting envelope %s: %w", name, env.ID, err)
			}
			if spoolErr := spool.Write(env.ID, data); spoolErr != nil {
				return nil, fmt.Errorf("%s: persisting envelope %s failed (%v) and spooling failed: %w", name, env.ID, err, spoolErr)
			}
			log.Warn("object storage unreachable, spooled envelope %s for retry: %v", env.ID, err)
			return nil, nil
		}
		log.Info("persisted envelope %s at %s", env.ID, key)

		// Terminal actor: empty result means no further routing.
		return nil, nil
	}
}
