package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	bolt "go.etcd.io/bbolt"
)

// Entries returns every stored entry, hidden ones included, sorted by path.
func (s *Store) Entries() ([]*entry.Entry, error) {
	return s.filter(func(*entry.Entry) bool { return true })
}

// EntriesByStatus returns entries with the given status, sorted by path.
func (s *Store) EntriesByStatus(status entry.Status) ([]*entry.Entry, error) {
	return s.filter(func(e *entry.Entry) bool { return e.Status == status })
}

// EntriesByProject returns entries owned by a project, sorted by path.
func (s *Store) EntriesByProject(projectID string) ([]*entry.Entry, error) {
	return s.filter(func(e *entry.Entry) bool { return e.ProjectID == projectID })
}

// EntriesWithin returns entries whose path equals prefix or lies below it.
func (s *Store) EntriesWithin(prefix string) ([]*entry.Entry, error) {
	return s.filter(func(e *entry.Entry) bool { return entry.Within(e.Path, prefix) })
}

func (s *Store) filter(keep func(*entry.Entry) bool) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*entry.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := loadAll(tx)
		if err != nil {
			return err
		}
		for _, e := range all {
			if keep(e) {
				s.attach(e)
				result = append(result, e)
			}
		}
		return nil
	})
	return result, err
}

// Entry returns the entry with the given ID.
func (s *Store) Entry(id string) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *entry.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		e, err := getEntry(tx, id)
		if err != nil {
			return err
		}
		s.attach(e)
		result = e
		return nil
	})
	return result, err
}

// EntryByPath returns the entry stored under path.
func (s *Store) EntryByPath(path string) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *entry.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketEntryByPath).Get([]byte(path))
		if id == nil {
			return fmt.Errorf("entry %s: %w", path, ErrNotFound)
		}
		e, err := getEntry(tx, string(id))
		if err != nil {
			return err
		}
		s.attach(e)
		result = e
		return nil
	})
	return result, err
}

// Put inserts or replaces entries in one transaction.
func (s *Store) Put(entries ...*entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, e := range entries {
			if err := putEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.remember(e)
	}
	return nil
}

// Update applies fn to the current record inside one transaction and stores the result.
// If fn returns an error nothing is written.
func (s *Store) Update(id string, fn func(e *entry.Entry) error) (*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *entry.Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		e, err := getEntry(tx, id)
		if err != nil {
			return err
		}
		s.attach(e)
		if err := fn(e); err != nil {
			return err
		}
		if e.ID != id {
			return fmt.Errorf("update of %s changed the entry id", id)
		}
		if err := putEntry(tx, e); err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.remember(result)
	return result, nil
}

// Swap replaces the whole entry set atomically. fn receives the current set (sorted by path,
// handles attached) and returns the complete replacement. fn runs inside the write transaction
// and must not do I/O. If fn fails or the replacement has duplicate paths, nothing changes.
func (s *Store) Swap(fn func(current []*entry.Entry) ([]*entry.Entry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replacement []*entry.Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadAll(tx)
		if err != nil {
			return err
		}
		for _, e := range current {
			s.attach(e)
		}
		replacement, err = fn(current)
		if err != nil {
			return err
		}

		seen := make(map[string]string, len(replacement))
		for _, e := range replacement {
			if e.ID == "" {
				return fmt.Errorf("entry %s has no id", e.Path)
			}
			if other, ok := seen[e.Path]; ok && other != e.ID {
				return fmt.Errorf("entry %s: %w", e.Path, ErrDuplicatePath)
			}
			seen[e.Path] = e.ID
		}

		for _, name := range [][]byte{bucketEntries, bucketEntryByPath} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("clearing %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating %s: %w", name, err)
			}
		}
		for _, e := range replacement {
			if err := putEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	handles := make(map[string]capability.Handle, len(replacement))
	for _, e := range replacement {
		if h := e.Handle(); h != nil {
			handles[e.ID] = h
		} else if h, ok := s.handles[e.ID]; ok && !e.IsWebOnly {
			handles[e.ID] = h
		}
	}
	s.handles = handles
	return nil
}

// BindHandles attaches live handles to entries by ID.
func (s *Store) BindHandles(handles map[string]capability.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range handles {
		s.handles[id] = h
	}
}

// attach must be called with s.mu held.
func (s *Store) attach(e *entry.Entry) {
	if h, ok := s.handles[e.ID]; ok {
		e.SetHandle(h)
	}
}

// remember must be called with s.mu held for writing.
func (s *Store) remember(e *entry.Entry) {
	switch {
	case e.Handle() != nil:
		s.handles[e.ID] = e.Handle()
	case e.IsWebOnly:
		delete(s.handles, e.ID)
	}
}

func loadAll(tx *bolt.Tx) ([]*entry.Entry, error) {
	var all []*entry.Entry
	err := tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
		var e entry.Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decoding entry %s: %w", k, err)
		}
		all = append(all, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	return all, nil
}

func getEntry(tx *bolt.Tx, id string) (*entry.Entry, error) {
	data := tx.Bucket(bucketEntries).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	var e entry.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding entry %s: %w", id, err)
	}
	return &e, nil
}

func putEntry(tx *bolt.Tx, e *entry.Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry %s has no id", e.Path)
	}
	entries := tx.Bucket(bucketEntries)
	byPath := tx.Bucket(bucketEntryByPath)

	if owner := byPath.Get([]byte(e.Path)); owner != nil && string(owner) != e.ID {
		return fmt.Errorf("entry %s: %w", e.Path, ErrDuplicatePath)
	}
	if previous, err := getEntry(tx, e.ID); err == nil && previous.Path != e.Path {
		if string(byPath.Get([]byte(previous.Path))) == e.ID {
			if err := byPath.Delete([]byte(previous.Path)); err != nil {
				return err
			}
		}
	}
	if err := putJSON(entries, []byte(e.ID), e); err != nil {
		return err
	}
	return byPath.Put([]byte(e.Path), []byte(e.ID))
}
