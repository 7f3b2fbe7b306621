package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	bolt "go.etcd.io/bbolt"
)

// PutProject inserts or replaces a project record. A non-nil Dir is attached in memory.
func (s *Store) PutProject(p *entry.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketProjects), []byte(p.ID), p)
	})
	if err != nil {
		return fmt.Errorf("storing project %s: %w", p.Name, err)
	}
	if p.Dir != nil {
		s.roots[p.ID] = p.Dir
	}
	return nil
}

// AttachRoot binds a live root handle to a project for the lifetime of the process.
func (s *Store) AttachRoot(projectID string, dir capability.DirHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[projectID] = dir
}

// Project returns a project by ID with its root handle attached when available.
func (s *Store) Project(id string) (*entry.Project, error) {
	projects, err := s.projects(func(p *entry.Project) bool { return p.ID == id })
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return projects[0], nil
}

// ProjectByName returns the project whose root folder has the given name.
func (s *Store) ProjectByName(name string) (*entry.Project, error) {
	projects, err := s.projects(func(p *entry.Project) bool { return p.Name == name })
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	return projects[0], nil
}

// Projects returns all projects, most recently opened first.
func (s *Store) Projects() ([]*entry.Project, error) {
	return s.projects(func(*entry.Project) bool { return true })
}

func (s *Store) projects(keep func(*entry.Project) bool) ([]*entry.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*entry.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p entry.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decoding project %s: %w", k, err)
			}
			if !keep(&p) {
				return nil
			}
			p.Dir = s.roots[p.ID]
			result = append(result, &p)
			return nil
		})
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastOpenedAt.After(result[j].LastOpenedAt)
	})
	return result, err
}

// Settings returns the stored settings, normalized, or the defaults if none are stored.
func (s *Store) Settings() (entry.Settings, error) {
	settings := entry.DefaultSettings()
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(settingsKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &settings)
	})
	if err != nil {
		return entry.DefaultSettings(), fmt.Errorf("loading settings: %w", err)
	}
	return settings.Normalize(), nil
}

// PutSettings stores the settings record.
func (s *Store) PutSettings(settings entry.Settings) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSettings), settingsKey, settings.Normalize())
	})
	if err != nil {
		return fmt.Errorf("storing settings: %w", err)
	}
	return nil
}
