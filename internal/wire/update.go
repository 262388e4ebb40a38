package wire

import (
	"encoding/binary"
	"fmt"
)

// ScrollState is a PTY's scrollback viewport position, per §3's
// `(viewportOffset ≥ 0, scrollbackLength ≥ 0, isAtBottom)` with the
// invariant isAtBottom ↔ viewportOffset == 0.
type ScrollState struct {
	ViewportOffset   int  `json:"viewportOffset"`
	ScrollbackLength int  `json:"scrollbackLength"`
	IsAtBottom       bool `json:"isAtBottom"`
}

// UpdateHeader carries the scalar fields that accompany every ptyUpdate
// event payload, whether it wraps a full snapshot or an incremental dirty
// set: the cursor and mode flags change independently of which cells
// changed, so a client must be able to apply them even when Dirty is empty.
// Scroll travels with every update so the client's cached PtyState.scrollState
// never goes stale between explicit getScrollState round trips (§4.F step 3).
type UpdateHeader struct {
	Cols, Rows int
	Cursor     Cursor
	ModeFlags  uint8
	IsFull     bool
	Scroll     ScrollState
}

const updateHeaderSize = 28

// PackUpdate encodes one ptyUpdate payload: the 28-byte scalar header
// followed by either the full grid (IsFull) or a PackDirty-encoded row set.
func PackUpdate(h UpdateHeader, full *FullState, dirty map[int]Row) []byte {
	hdr := make([]byte, updateHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(h.Cols))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(h.Rows))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(h.Cursor.X))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(h.Cursor.Y))
	if h.Cursor.Visible {
		hdr[16] = 1
	}
	hdr[17] = h.ModeFlags
	if h.IsFull {
		hdr[18] = 1
	}
	binary.LittleEndian.PutUint32(hdr[19:23], uint32(h.Scroll.ViewportOffset))
	binary.LittleEndian.PutUint32(hdr[23:27], uint32(h.Scroll.ScrollbackLength))
	if h.Scroll.IsAtBottom {
		hdr[27] = 1
	}

	if h.IsFull {
		var grid []Row
		if full != nil {
			grid = full.Grid
		}
		buf := append([]byte(nil), hdr...)
		for _, row := range grid {
			buf = PackRow(buf, row)
		}
		return buf
	}
	return append(hdr, PackDirty(dirty)...)
}

// UnpackUpdate decodes a payload produced by PackUpdate. Exactly one of the
// returned grid or dirty map is populated, per h.IsFull.
func UnpackUpdate(src []byte) (h UpdateHeader, dirty map[int]Row, grid []Row, err error) {
	if len(src) < updateHeaderSize {
		return UpdateHeader{}, nil, nil, fmt.Errorf("wire: update payload truncated (have %d bytes)", len(src))
	}
	h = UpdateHeader{
		Cols: int(binary.LittleEndian.Uint32(src[0:4])),
		Rows: int(binary.LittleEndian.Uint32(src[4:8])),
		Cursor: Cursor{
			X:       int(binary.LittleEndian.Uint32(src[8:12])),
			Y:       int(binary.LittleEndian.Uint32(src[12:16])),
			Visible: src[16] != 0,
		},
		ModeFlags: src[17],
		IsFull:    src[18] != 0,
		Scroll: ScrollState{
			ViewportOffset:   int(binary.LittleEndian.Uint32(src[19:23])),
			ScrollbackLength: int(binary.LittleEndian.Uint32(src[23:27])),
			IsAtBottom:       src[27] != 0,
		},
	}
	rest := src[updateHeaderSize:]

	if h.IsFull {
		grid = make([]Row, 0, h.Rows)
		offset := 0
		for i := 0; i < h.Rows; i++ {
			if offset >= len(rest) {
				return UpdateHeader{}, nil, nil, fmt.Errorf("wire: update payload truncated at row %d", i)
			}
			row, n, rerr := UnpackRow(rest[offset:])
			if rerr != nil {
				return UpdateHeader{}, nil, nil, fmt.Errorf("wire: update payload row %d: %w", i, rerr)
			}
			grid = append(grid, row)
			offset += n
		}
		return h, nil, grid, nil
	}

	dirty, err = UnpackDirty(rest)
	if err != nil {
		return UpdateHeader{}, nil, nil, err
	}
	return h, dirty, nil, nil
}
