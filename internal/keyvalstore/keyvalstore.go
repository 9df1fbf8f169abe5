// Package keyvalstore wraps BadgerDB as the persistent key-value store used
// for placement records and encryption payload descriptors.
package keyvalstore

import (
	"errors"
	"fmt"

	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("keyvalstore: key not found")

// StoreConfig configures the store.
type StoreConfig struct {
	// Path is the data directory.
	Path string
	// MinimumFreeGB is the free-space threshold checked before opening.
	MinimumFreeGB int
	// Logger is optional; a default is created when nil.
	Logger *logrus.Logger
}

// Store is a BadgerDB-backed key-value store.
type Store struct {
	config StoreConfig
	db     *badger.DB
	log    *logrus.Logger
}

// New opens the store after validating the configured path.
func New(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	if err := checkPath(config.Path, config.MinimumFreeGB, config.Logger); err != nil {
		return nil, fmt.Errorf("keyvalstore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("keyvalstore: open badger: %w", err)
	}

	return &Store{
		config: config,
		db:     db,
		log:    config.Logger,
	}, nil
}

// DB exposes the underlying badger handle for components that keep their
// own key namespaces in the same store.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Write sets key to content.
func (s *Store) Write(key, content []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
}

// Read returns the content stored at key, or ErrNotFound.
func (s *Store) Read(key []byte) ([]byte, error) {
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyvalstore: read: %w", err)
	}
	return content, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// GarbageCollect runs one badger value-log GC pass.
func (s *Store) GarbageCollect() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PayloadKey builds the key for a persisted encryption payload descriptor.
// The scope distinguishes the network-custodial descriptor from the
// user-facing one.
func PayloadKey(scope string, cid contentid.ContentID) []byte {
	return []byte(fmt.Sprintf("payload:%s:%s", scope, cid))
}
