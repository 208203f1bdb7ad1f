package gateway

import (
	"testing"
	"time"
)

func TestBadgerStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer store.Close()

	snap := Snapshot{EnvelopeID: "e1", Status: "running", UpdatedAt: time.Now()}
	if err := store.Save("e1", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, found, err := store.Load("e1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected saved snapshot to be found")
	}
	if loaded.Status != "running" {
		t.Fatalf("expected running, got %s", loaded.Status)
	}
}

func TestBadgerStoreLoadMissingKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer store.Close()

	_, found, err := store.Load("missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected missing key to report not found")
	}
}
