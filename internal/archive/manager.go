package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openmux/openmux/internal/wire"
)

// Manager coordinates scrollback archives across every live PTY, enforcing
// a single global byte budget (spec §4.C, §8): when the sum of all
// archives' Bytes() exceeds the budget, the manager repeatedly drops the
// oldest chunk from whichever archive's oldest chunk has the smallest
// CreatedAt, tie-breaking by registration order, until the sum fits.
type Manager struct {
	root      string
	maxBytes  int64
	chunkOpts Options

	mu       sync.Mutex
	archives map[string]*Archive
	order    []string // registration order, for tie-break
}

// NewManager creates a manager rooted at root (one subdirectory per PTY id)
// enforcing a combined maxBytes across all archives it opens.
func NewManager(root string, maxBytes int64, chunkOpts Options) *Manager {
	return &Manager{
		root:      root,
		maxBytes:  maxBytes,
		chunkOpts: chunkOpts,
		archives:  make(map[string]*Archive),
	}
}

// Open returns the archive for ptyID, opening it from disk (or creating a
// fresh one) if this is the first reference.
func (m *Manager) Open(ptyID string) (*Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.archives[ptyID]; ok {
		return a, nil
	}
	dir := filepath.Join(m.root, ptyID)
	a, err := Open(dir, m.chunkOpts)
	if err != nil {
		return nil, err
	}
	m.archives[ptyID] = a
	m.order = append(m.order, ptyID)
	return a, nil
}

// Get returns the already-open archive for ptyID, or false if none exists.
func (m *Manager) Get(ptyID string) (*Archive, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[ptyID]
	return a, ok
}

// Close disposes of and removes the archive for ptyID (called when a PTY
// is permanently destroyed, not merely detached).
func (m *Manager) Close(ptyID string) error {
	m.mu.Lock()
	a, ok := m.archives[ptyID]
	if ok {
		delete(m.archives, ptyID)
		m.order = removeString(m.order, ptyID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := a.Dispose(); err != nil {
		return fmt.Errorf("archive manager: dispose %s: %w", ptyID, err)
	}
	return os.RemoveAll(filepath.Join(m.root, ptyID))
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// TotalBytes sums Bytes() across every open archive.
func (m *Manager) TotalBytes() int64 {
	m.mu.Lock()
	archives := make([]*Archive, 0, len(m.archives))
	for _, a := range m.archives {
		archives = append(archives, a)
	}
	m.mu.Unlock()

	var total int64
	for _, a := range archives {
		total += a.Bytes()
	}
	return total
}

// Append writes rows to ptyID's archive (opening it if needed) and then
// enforces the global budget across all archives.
func (m *Manager) Append(ptyID string, rows []wire.Row) error {
	a, err := m.Open(ptyID)
	if err != nil {
		return err
	}
	if err := a.Append(rows); err != nil {
		return err
	}
	return m.EnforceGlobalLimit()
}

// EnforceGlobalLimit drops oldest chunks, across whichever archive is
// globally oldest, until TotalBytes fits maxBytes (or nothing is left to
// drop). Selection: smallest OldestCreatedAt wins; ties broken by earliest
// registration.
func (m *Manager) EnforceGlobalLimit() error {
	if m.maxBytes <= 0 {
		return nil
	}
	for {
		m.mu.Lock()
		total := int64(0)
		for _, a := range m.archives {
			total += a.Bytes()
		}
		if total <= m.maxBytes {
			m.mu.Unlock()
			return nil
		}

		victimID, victim := m.pickEvictionVictimLocked()
		m.mu.Unlock()

		if victim == nil {
			return nil // nothing left to drop anywhere
		}
		if err := victim.DropOldestChunk(); err != nil {
			return fmt.Errorf("archive manager: drop oldest chunk for %s: %w", victimID, err)
		}
		slog.Debug("[archive] dropped oldest chunk to satisfy global budget", "ptyId", victimID)
	}
}

// pickEvictionVictimLocked must be called with m.mu held.
func (m *Manager) pickEvictionVictimLocked() (string, *Archive) {
	var victimID string
	var victim *Archive
	var victimTime int64
	haveVictim := false

	for _, id := range m.order {
		a, ok := m.archives[id]
		if !ok || a.ChunkCount() == 0 {
			continue
		}
		t, ok := a.OldestCreatedAt()
		if !ok {
			continue
		}
		ts := t.UnixNano()
		if !haveVictim || ts < victimTime {
			haveVictim = true
			victimID = id
			victim = a
			victimTime = ts
		}
	}
	return victimID, victim
}
