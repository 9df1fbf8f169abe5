// Package placement distributes ciphertext copies across providers and
// tracks where every payload lives.
package placement

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/dgraph-io/badger/v4"
)

// prefixRecord is the BadgerDB key prefix for placement records.
const prefixRecord = "placement:record:"

// Record maps a ContentID to the providers holding a copy, the chunking
// parameters used, and the expected Merkle root. Created at store time,
// consulted at every challenge and retrieval, removed on deletion.
type Record struct {
	// ContentID identifies the item as the user handed it over.
	ContentID contentid.ContentID
	// CipherID identifies the custodial ciphertext the providers hold;
	// it is the key providers know the payload by.
	CipherID contentid.ContentID
	// Providers lists the identities that acknowledged the store.
	Providers []string
	// ChunkSize and ChunkCount fix the Merkle geometry for challenges.
	ChunkSize  int
	ChunkCount int
	// MerkleRoot is the expected root, hex encoded.
	MerkleRoot string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Failures records providers that failed the initial store, for
	// diagnostics.
	Failures map[string]string
}

// Tracker persists placement records in BadgerDB. Mutation is serialized
// per ContentID: callers take the per-item lock before writing.
type Tracker struct {
	db *badger.DB

	mu    sync.Mutex
	locks map[contentid.ContentID]*sync.Mutex
}

// NewTracker creates a tracker on the given database handle.
func NewTracker(db *badger.DB) *Tracker {
	return &Tracker{
		db:    db,
		locks: make(map[contentid.ContentID]*sync.Mutex),
	}
}

// Lock acquires the single-writer lock for an item and returns the
// release function.
func (t *Tracker) Lock(cid contentid.ContentID) func() {
	t.mu.Lock()
	l, ok := t.locks[cid]
	if !ok {
		l = &sync.Mutex{}
		t.locks[cid] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Save persists a record.
func (t *Tracker) Save(record *Record) error {
	record.UpdatedAt = time.Now()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return fmt.Errorf("placement: encode record: %w", err)
	}

	key := []byte(prefixRecord + string(record.ContentID))
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}

// Get loads the record for an item, or ErrNoRecord.
func (t *Tracker) Get(cid contentid.ContentID) (*Record, error) {
	key := []byte(prefixRecord + string(cid))
	var record Record

	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return gob.NewDecoder(bytes.NewReader(v)).Decode(&record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, cid.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("placement: load record: %w", err)
	}
	return &record, nil
}

// Delete removes the record for an item.
func (t *Tracker) Delete(cid contentid.ContentID) error {
	key := []byte(prefixRecord + string(cid))
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// List returns all tracked ContentIDs.
func (t *Tracker) List() ([]contentid.ContentID, error) {
	var cids []contentid.ContentID
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			cids = append(cids, contentid.ContentID(key[len(prefix):]))
		}
		return nil
	})
	return cids, err
}

// ErrNoRecord is returned when no placement record exists for an item.
var ErrNoRecord = errors.New("placement: no record")
