package keyvalstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/arguslabs/argus-store/pkg/contentid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWriteRead(t *testing.T) {
	store := newTestStore(t)

	key := []byte("some:key")
	content := []byte("some content")

	if err := store.Write(key, content); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := store.Read(key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("expected %q, got %q", content, got)
	}
}

func TestRead_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read([]byte("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	key := []byte("to-delete")
	if err := store.Write(key, []byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Read(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := store.Delete([]byte("never-existed")); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	store := newTestStore(t)

	key := []byte("key")
	if err := store.Write(key, []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(key, []byte("second")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := store.Read(key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestGarbageCollect(t *testing.T) {
	store := newTestStore(t)

	// A fresh store has nothing to rewrite; that must not be an error.
	if err := store.GarbageCollect(); err != nil {
		t.Errorf("GarbageCollect failed: %v", err)
	}
}

func TestPayloadKey(t *testing.T) {
	cid := contentid.Identify([]byte("payload"))

	network := PayloadKey("network", cid)
	user := PayloadKey("user", cid)

	if bytes.Equal(network, user) {
		t.Error("scopes must produce distinct keys")
	}
	if string(network) != "payload:network:"+string(cid) {
		t.Errorf("unexpected key layout %q", network)
	}
}
