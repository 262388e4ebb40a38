package shimclient

import (
	"context"
	"encoding/json"

	"github.com/openmux/openmux/internal/wire"
)

// ptyIDParams is the request payload shape shared by every method that
// only needs to name a PTY.
type ptyIDParams struct {
	PtyID string `json:"ptyId"`
}

// GetTerminalStateSync fetches a fresh full snapshot of ptyID directly from
// the shim, bypassing (and not updating) the locally cached PtyState — used
// when a caller needs a guaranteed-current read rather than the replica,
// e.g. right after attach before any update event has arrived.
func (c *Client) GetTerminalStateSync(ctx context.Context, ptyID string) (wire.FullState, error) {
	raw, err := c.RequestRaw(ctx, "getTerminalState", marshalPtyID(ptyID))
	if err != nil {
		return wire.FullState{}, err
	}
	return wire.UnpackFullState(raw)
}

// GetScrollStateSync fetches a PTY's current scroll viewport position
// directly from the shim, bypassing the cached PtyState — used the same
// way GetTerminalStateSync is, right after attach or whenever a caller
// needs a guaranteed-current read rather than the replica.
func (c *Client) GetScrollStateSync(ctx context.Context, ptyID string) (wire.ScrollState, error) {
	var result wire.ScrollState
	err := c.Request(ctx, "getScrollState", ptyIDParams{PtyID: ptyID}, &result)
	return result, err
}

// SetScrollOffset asks the shim to move ptyID's scrollback viewport to
// offset lines back from live (0 = bottom).
func (c *Client) SetScrollOffset(ctx context.Context, ptyID string, offset int) error {
	return c.Request(ctx, "setScrollOffset", struct {
		PtyID  string `json:"ptyId"`
		Offset int    `json:"offset"`
	}{PtyID: ptyID, Offset: offset}, nil)
}

// Resume asks the shim to resume update delivery for ptyID (e.g. after the
// client attaches or un-minimizes a pane) and returns the full snapshot the
// shim sends to resynchronize the replica.
func (c *Client) Resume(ctx context.Context, ptyID string) (wire.FullState, error) {
	raw, err := c.RequestRaw(ctx, "pty.resume", marshalPtyID(ptyID))
	if err != nil {
		return wire.FullState{}, err
	}
	full, err := wire.UnpackFullState(raw)
	if err != nil {
		return wire.FullState{}, err
	}
	st := c.stateFor(ptyID)
	st.ApplyFull(wire.UpdateHeader{Cols: full.Cols, Rows: full.Rows, Cursor: full.Cursor, ModeFlags: full.ModeFlags, IsFull: true}, full.Grid)
	return full, nil
}

// Suspend asks the shim to stop delivering incremental updates for ptyID
// (the PTY itself keeps running) — used when a pane scrolls out of view.
func (c *Client) Suspend(ctx context.Context, ptyID string) error {
	return c.Request(ctx, "pty.suspend", ptyIDParams{PtyID: ptyID}, nil)
}

func marshalPtyID(ptyID string) []byte {
	b, _ := json.Marshal(ptyIDParams{PtyID: ptyID})
	return b
}
