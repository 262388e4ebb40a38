package shimclient

import (
	"log/slog"
	"sync"

	"github.com/openmux/openmux/internal/wire"
)

// PtyState is the client-side replica of one PTY's terminal screen,
// reconstructed from the shim's pushed full/dirty updates without ever
// needing to re-fetch the whole grid on every change.
type PtyState struct {
	mu sync.RWMutex

	cols, rows  int
	cursor      wire.Cursor
	modeFlags   uint8
	grid        []wire.Row
	scrollState wire.ScrollState
}

// newPtyState builds an empty replica; it has no usable grid until the
// first update (always a full snapshot on attach) arrives.
func newPtyState() *PtyState {
	return &PtyState{}
}

// ApplyFull replaces the entire cached grid and scroll state.
func (p *PtyState) ApplyFull(h wire.UpdateHeader, grid []wire.Row) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = h.Cols, h.Rows
	p.cursor, p.modeFlags = h.Cursor, h.ModeFlags
	p.grid = grid
	p.scrollState = h.Scroll
}

// ApplyDirty patches the cached grid's changed rows in place and updates
// scroll state. Rows referencing an index outside the current grid are
// ignored (can happen transiently around a resize racing with in-flight
// updates).
func (p *PtyState) ApplyDirty(h wire.UpdateHeader, dirty map[int]wire.Row) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = h.Cols, h.Rows
	p.cursor, p.modeFlags = h.Cursor, h.ModeFlags
	for idx, row := range dirty {
		if idx < 0 || idx >= len(p.grid) {
			continue
		}
		p.grid[idx] = row
	}
	p.scrollState = h.Scroll
}

// ScrollState returns the replica's cached scroll viewport position,
// updated on every applied full or dirty update per §4.F step 3.
func (p *PtyState) ScrollState() wire.ScrollState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scrollState
}

// Snapshot returns a point-in-time copy of the replica's visible screen.
func (p *PtyState) Snapshot() wire.FullState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	grid := make([]wire.Row, len(p.grid))
	copy(grid, p.grid)
	return wire.FullState{
		Cols: p.cols, Rows: p.rows,
		Cursor:    p.cursor,
		ModeFlags: p.modeFlags,
		Grid:      grid,
	}
}

// stateFor returns (creating if necessary) the replica for ptyID.
func (c *Client) stateFor(ptyID string) *PtyState {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	st, ok := c.states[ptyID]
	if !ok {
		st = newPtyState()
		c.states[ptyID] = st
	}
	return st
}

// State returns the (possibly not-yet-populated) replica for ptyID.
func (c *Client) State(ptyID string) *PtyState {
	return c.stateFor(ptyID)
}

// ForgetState drops the cached replica for a PTY that has exited or been
// closed, so it does not linger in memory across the session.
func (c *Client) ForgetState(ptyID string) {
	c.statesMu.Lock()
	delete(c.states, ptyID)
	c.statesMu.Unlock()
}

// applyUpdateFrame decodes a ptyUpdate event payload and applies it to the
// named PTY's replica.
func (c *Client) applyUpdateFrame(ptyID string, payload []byte) {
	h, dirty, grid, err := wire.UnpackUpdate(payload)
	if err != nil {
		slog.Warn("[shimclient] malformed update payload", "ptyId", ptyID, "error", err)
		return
	}
	st := c.stateFor(ptyID)
	if h.IsFull {
		st.ApplyFull(h, grid)
		return
	}
	st.ApplyDirty(h, dirty)
}
