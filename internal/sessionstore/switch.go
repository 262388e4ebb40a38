package sessionstore

import "fmt"

// PTYCoordinator is the shim-side seam a Switch needs: it owns the
// sessionId -> paneId -> ptyId mapping and the PTY lifecycle itself, which
// the session store has no business touching directly.
type PTYCoordinator interface {
	// SuspendSession pauses update delivery for every PTY belonging to
	// sessionID without destroying them; the mapping is retained so a
	// later switch back can adopt the same PTYs.
	SuspendSession(sessionID string) error
	// Adopt looks up the PTY already mapped to (sessionID, paneID) and
	// resumes it, returning its id. ok is false when no such mapping
	// exists, meaning the caller must create a new PTY lazily instead.
	Adopt(sessionID, paneID string) (ptyID string, ok bool, err error)
}

// Switch implements spec §4.H's session-switch contract: write the
// outgoing session, suspend its PTYs, then load the incoming session so
// the caller can resolve each of its panes against the shim's PTY mapping
// (adopting an existing PTY or, if Adopt reports none, creating one).
//
// Switch does not create PTYs itself — that decision (and the resulting
// ptyId) belongs to the caller, since only the caller knows how to spawn
// one. Switch returns the loaded document and, for each pane that already
// had a live PTY, its adopted id.
func (s *Store) Switch(outgoing Document, targetID string, coord PTYCoordinator) (Document, map[string]string, error) {
	if err := s.Save(outgoing); err != nil {
		return Document{}, nil, fmt.Errorf("sessionstore: switch: save outgoing: %w", err)
	}
	if err := coord.SuspendSession(outgoing.Metadata.ID); err != nil {
		return Document{}, nil, fmt.Errorf("sessionstore: switch: suspend outgoing: %w", err)
	}

	incoming, err := s.Load(targetID)
	if err != nil {
		return Document{}, nil, fmt.Errorf("sessionstore: switch: load incoming: %w", err)
	}

	adopted := make(map[string]string)
	for _, wd := range incoming.Workspaces {
		for _, pane := range wd.Panes {
			if ptyID, ok, err := coord.Adopt(targetID, pane.ID); err != nil {
				return Document{}, nil, fmt.Errorf("sessionstore: switch: adopt pane %s: %w", pane.ID, err)
			} else if ok {
				adopted[pane.ID] = ptyID
			}
		}
	}

	s.mu.Lock()
	err = s.setActiveLocked(targetID)
	s.mu.Unlock()
	if err != nil {
		return Document{}, nil, fmt.Errorf("sessionstore: switch: set active: %w", err)
	}

	return incoming, adopted, nil
}
