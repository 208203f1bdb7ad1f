package endactor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/asya-run/asya/internal/logging"
	"github.com/asya-run/asya/internal/storage"
)

// spooledRecord is the on-disk form a record takes while object
// storage is unreachable. msgpack keeps the local spool compact; the
// canonical, wire/storage format stays JSON, per the persistence
// contract end actors are held to.
type spooledRecord struct {
	EnvelopeID string `msgpack:"envelope_id"`
	Data       []byte `msgpack:"data"`
}

// Spooler holds records an end actor could not persist to object
// storage, and retries them once the store is reachable again.
type Spooler struct {
	dir string
	log *logging.Logger
}

func NewSpooler(dir string) (*Spooler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("endactor: creating spool dir: %w", err)
	}
	return &Spooler{dir: dir, log: logging.New("endactor-spool", logging.LevelInfo)}, nil
}

// Write persists data to the local spool, keyed by envelope id.
func (s *Spooler) Write(envelopeID string, data []byte) error {
	record := spooledRecord{EnvelopeID: envelopeID, Data: data}
	encoded, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("endactor: encoding spooled record: %w", err)
	}
	return os.WriteFile(s.path(envelopeID), encoded, 0o644)
}

func (s *Spooler) path(envelopeID string) string {
	return filepath.Join(s.dir, envelopeID+".spool")
}

// DrainOnce attempts to flush every spooled record into store, deleting
// each one that succeeds.
func (s *Spooler) DrainOnce(ctx context.Context, store storage.ObjectStore) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("endactor: reading spool dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Error("reading spooled file %s: %v", path, err)
			continue
		}

		var record spooledRecord
		if err := msgpack.Unmarshal(raw, &record); err != nil {
			s.log.Error("decoding spooled file %s: %v", path, err)
			continue
		}

		if _, err := store.Put(ctx, record.EnvelopeID, record.Data); err != nil {
			s.log.Warn("spooled record %s still cannot be flushed: %v", record.EnvelopeID, err)
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Error("removing flushed spool file %s: %v", path, err)
		}
	}
	return nil
}

// Run drains the spool on interval until ctx is canceled.
func (s *Spooler) Run(ctx context.Context, store storage.ObjectStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.DrainOnce(ctx, store)
		case <-ctx.Done():
			return
		}
	}
}
