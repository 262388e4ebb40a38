package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by operations naming a session id the store has
// no record of.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store owns the on-disk session index plus one document per session,
// under dir ($XDG_CONFIG_HOME/openmux/sessions).
type Store struct {
	dir string

	mu    sync.Mutex
	index Index
}

// Open loads (or initializes) the index at dir/index.json.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessionstore: mkdir: %w", err)
	}
	s := &Store{dir: dir}
	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *Store) docPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) loadIndexLocked() error {
	raw, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		s.index = Index{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("sessionstore: read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("sessionstore: parse index: %w", err)
	}
	s.index = idx
	return nil
}

func (s *Store) saveIndexLocked() error {
	return atomicWriteJSON(s.indexPath(), s.index)
}

// List returns every known session's metadata, in index order.
func (s *Store) List() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metadata, len(s.index.Sessions))
	copy(out, s.index.Sessions)
	return out
}

// ActiveSessionID returns the id of the session marked active in the
// index, or "" if none is.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.ActiveSessionID
}

// Create makes a new empty session named name and writes both its document
// and the updated index.
func (s *Store) Create(name string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	meta := Metadata{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	doc := Document{Metadata: meta}

	if err := atomicWriteJSON(s.docPath(meta.ID), doc); err != nil {
		return Metadata{}, err
	}
	s.index.Sessions = append(s.index.Sessions, meta)
	if s.index.ActiveSessionID == "" {
		s.index.ActiveSessionID = meta.ID
	}
	if err := s.saveIndexLocked(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Load reads a session's full document.
func (s *Store) Load(id string) (Document, error) {
	raw, err := os.ReadFile(s.docPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("sessionstore: read session %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("sessionstore: parse session %s: %w", id, err)
	}
	return doc, nil
}

// Save overwrites a session's document and bumps its UpdatedAt in the
// index. Used both for explicit saves and the auto-save loop.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findIndexLocked(doc.Metadata.ID)
	if idx < 0 {
		return ErrNotFound
	}
	doc.Metadata.UpdatedAt = time.Now()
	if err := atomicWriteJSON(s.docPath(doc.Metadata.ID), doc); err != nil {
		return err
	}
	s.index.Sessions[idx] = doc.Metadata
	return s.saveIndexLocked()
}

// Rename updates a session's display name in both the index and its document.
func (s *Store) Rename(id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findIndexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}

	doc, err := s.Load(id)
	if err != nil {
		return err
	}
	doc.Metadata.Name = newName
	doc.Metadata.UpdatedAt = time.Now()
	if err := atomicWriteJSON(s.docPath(id), doc); err != nil {
		return err
	}
	s.index.Sessions[idx] = doc.Metadata
	return s.saveIndexLocked()
}

// Delete removes a session's document and its index entry. Deleting the
// active session clears ActiveSessionID; the caller is responsible for
// picking and switching to a replacement.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findIndexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if err := os.Remove(s.docPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sessionstore: remove session %s: %w", id, err)
	}
	s.index.Sessions = append(s.index.Sessions[:idx], s.index.Sessions[idx+1:]...)
	if s.index.ActiveSessionID == id {
		s.index.ActiveSessionID = ""
	}
	return s.saveIndexLocked()
}

func (s *Store) findIndexLocked(id string) int {
	for i, m := range s.index.Sessions {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// setActiveLocked records id as the active session in the index.
func (s *Store) setActiveLocked(id string) error {
	s.index.ActiveSessionID = id
	return s.saveIndexLocked()
}

func atomicWriteJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("sessionstore: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sessionstore: rename %s: %w", path, err)
	}
	return nil
}
