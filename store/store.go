// Package store persists projects, entries and settings in a bbolt database.
//
// Handles cannot be serialized, so the store keeps them in an in-memory table and attaches
// them to records on read. Bulk replacements run in a single write transaction while holding
// the handle table lock, so a reader sees either the whole previous set or the whole new one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects    = []byte("projects")
	bucketEntries     = []byte("entries")
	bucketEntryByPath = []byte("entries_by_path")
	bucketSettings    = []byte("settings")

	settingsKey = []byte("app")
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePath is returned when a write would give two entries the same path.
	ErrDuplicatePath = errors.New("duplicate path")
)

// Store is the persistent entry store.
type Store struct {
	db *bolt.DB

	mu      sync.RWMutex
	handles map[string]capability.Handle    // entry ID -> handle
	roots   map[string]capability.DirHandle // project ID -> root handle
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProjects, bucketEntries, bucketEntryByPath, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		handles: make(map[string]capability.Handle),
		roots:   make(map[string]capability.DirHandle),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return b.Put(key, data)
}
