package wire

import (
	"encoding/binary"
	"fmt"
)

// Cell flag bits, per the wire ABI (§4.B of the design spec).
const (
	FlagBold uint8 = 1 << iota
	FlagItalic
	FlagUnderline
	FlagStrike
	FlagInverse
	FlagBlink
	FlagDim
	FlagWide
)

// CellSize is the fixed on-wire size of one packed cell.
const CellSize = 16

// Cell is the atomic screen unit. Width is 0 for the continuation column of
// a wide glyph, 1 for a normal glyph, 2 for the leading column of a wide
// glyph. HyperlinkID is 0 when the cell carries no hyperlink.
type Cell struct {
	Codepoint   rune
	FgR, FgG, FgB uint8
	BgR, BgG, BgB uint8
	Bold, Italic, Underline, Strike, Inverse, Blink, Dim bool
	Width       uint8
	HyperlinkID uint32
}

func (c Cell) flags() uint8 {
	var f uint8
	if c.Bold {
		f |= FlagBold
	}
	if c.Italic {
		f |= FlagItalic
	}
	if c.Underline {
		f |= FlagUnderline
	}
	if c.Strike {
		f |= FlagStrike
	}
	if c.Inverse {
		f |= FlagInverse
	}
	if c.Blink {
		f |= FlagBlink
	}
	if c.Dim {
		f |= FlagDim
	}
	if c.Width == 2 {
		f |= FlagWide
	}
	return f
}

// PackCell writes one cell's 16-byte wire encoding into dst[0:16].
func PackCell(dst []byte, c Cell) {
	_ = dst[CellSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(c.Codepoint))
	dst[4], dst[5], dst[6] = c.FgR, c.FgG, c.FgB
	dst[7], dst[8], dst[9] = c.BgR, c.BgG, c.BgB
	dst[10] = c.flags()
	dst[11] = c.Width
	binary.LittleEndian.PutUint32(dst[12:16], c.HyperlinkID)
}

// UnpackCell reads one cell from its 16-byte wire encoding.
func UnpackCell(src []byte) Cell {
	_ = src[CellSize-1]
	flags := src[10]
	return Cell{
		Codepoint:   rune(binary.LittleEndian.Uint32(src[0:4])),
		FgR:         src[4],
		FgG:         src[5],
		FgB:         src[6],
		BgR:         src[7],
		BgG:         src[8],
		BgB:         src[9],
		Bold:        flags&FlagBold != 0,
		Italic:      flags&FlagItalic != 0,
		Underline:   flags&FlagUnderline != 0,
		Strike:      flags&FlagStrike != 0,
		Inverse:     flags&FlagInverse != 0,
		Blink:       flags&FlagBlink != 0,
		Dim:         flags&FlagDim != 0,
		Width:       src[11],
		HyperlinkID: binary.LittleEndian.Uint32(src[12:16]),
	}
}

// Row is a single screen line, left to right.
type Row []Cell

// PackedRowSize returns the wire size of row (4-byte count prefix plus
// len(row)*CellSize).
func PackedRowSize(row Row) int {
	return 4 + len(row)*CellSize
}

// PackRow appends row's wire encoding (u32 cell count + packed cells) to
// dst and returns the extended slice.
func PackRow(dst []byte, row Row) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, PackedRowSize(row))...)
	binary.LittleEndian.PutUint32(dst[start:start+4], uint32(len(row)))
	offset := start + 4
	for _, c := range row {
		PackCell(dst[offset:offset+CellSize], c)
		offset += CellSize
	}
	return dst
}

// UnpackRow decodes one length-prefixed row starting at src[0] and returns
// the row plus the number of bytes consumed.
func UnpackRow(src []byte) (Row, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("wire: row header truncated (have %d bytes)", len(src))
	}
	count := binary.LittleEndian.Uint32(src[0:4])
	need := 4 + int(count)*CellSize
	if len(src) < need {
		return nil, 0, fmt.Errorf("wire: row body truncated (need %d, have %d)", need, len(src))
	}
	row := make(Row, count)
	offset := 4
	for i := range row {
		row[i] = UnpackCell(src[offset : offset+CellSize])
		offset += CellSize
	}
	return row, need, nil
}

// Cursor is the terminal's cursor position and visibility.
type Cursor struct {
	X, Y    int
	Visible bool
}

// ModeFlags bits packed into one byte on the wire.
const (
	ModeAlternateScreen uint8 = 1 << iota
	ModeMouseTracking
	ModeCursorKeyApplication // DECCKM: 0 = normal (cursor keys send CSI), 1 = application (SS3)
	ModeKittyKeyboard
)

// FullState is a complete terminal screen snapshot.
type FullState struct {
	Cols, Rows int
	Cursor     Cursor
	ModeFlags  uint8
	Grid       []Row
}

// Cells returns the full-state row grid (alias kept for readability at call sites).
func (s FullState) Cells() []Row { return s.Grid }

// PackFullState encodes cols, rows, cursor, mode flags, then every row via
// PackRow. Byte layout matches §4.B: cols:u32, rows:u32, cursor_x:u32,
// cursor_y:u32, cursor_visible:u8, mode_flags:u8, followed by `rows` packed
// rows.
func PackFullState(s FullState) []byte {
	buf := make([]byte, 0, 18+len(s.Grid)*64)
	header := make([]byte, 18)
	binary.LittleEndian.PutUint32(header[0:4], uint32(s.Cols))
	binary.LittleEndian.PutUint32(header[4:8], uint32(s.Rows))
	binary.LittleEndian.PutUint32(header[8:12], uint32(s.Cursor.X))
	binary.LittleEndian.PutUint32(header[12:16], uint32(s.Cursor.Y))
	if s.Cursor.Visible {
		header[16] = 1
	}
	header[17] = s.ModeFlags
	buf = append(buf, header...)
	for _, row := range s.Grid {
		buf = PackRow(buf, row)
	}
	return buf
}

// UnpackFullState decodes a FullState previously produced by PackFullState.
func UnpackFullState(src []byte) (FullState, error) {
	if len(src) < 18 {
		return FullState{}, fmt.Errorf("wire: full-state header truncated (have %d bytes)", len(src))
	}
	s := FullState{
		Cols: int(binary.LittleEndian.Uint32(src[0:4])),
		Rows: int(binary.LittleEndian.Uint32(src[4:8])),
		Cursor: Cursor{
			X:       int(binary.LittleEndian.Uint32(src[8:12])),
			Y:       int(binary.LittleEndian.Uint32(src[12:16])),
			Visible: src[16] != 0,
		},
		ModeFlags: src[17],
	}
	offset := 18
	s.Grid = make([]Row, 0, s.Rows)
	for i := 0; i < s.Rows; i++ {
		if offset >= len(src) {
			return FullState{}, fmt.Errorf("wire: full-state truncated at row %d", i)
		}
		row, n, err := UnpackRow(src[offset:])
		if err != nil {
			return FullState{}, fmt.Errorf("wire: full-state row %d: %w", i, err)
		}
		s.Grid = append(s.Grid, row)
		offset += n
	}
	return s, nil
}

// DirtyPayload is the single binary payload segment carrying an
// incremental update's changed rows: a sorted set of row indices plus
// their packed row data, concatenated in index order. This composes with
// the frame codec's JSON header, which carries the scalar fields (cursor,
// scrollState, cols, rows, isFull, mode flags) per §4.A/§4.D.
type DirtyPayload struct {
	Rows map[int]Row
}

// PackDirty encodes the dirty row set as: u32 row_count, row_count * u16
// row_index (ascending), then the concatenated packed rows in the same
// order, matching §4.B's "dirty_row_indices: u16[], dirty_row_data".
func PackDirty(rows map[int]Row) []byte {
	indices := sortedKeys(rows)
	buf := make([]byte, 4+2*len(indices))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(indices)))
	for i, idx := range indices {
		binary.LittleEndian.PutUint16(buf[4+2*i:6+2*i], uint16(idx))
	}
	for _, idx := range indices {
		buf = PackRow(buf, rows[idx])
	}
	return buf
}

// UnpackDirty decodes a payload produced by PackDirty.
func UnpackDirty(src []byte) (map[int]Row, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("wire: dirty payload truncated (have %d bytes)", len(src))
	}
	count := int(binary.LittleEndian.Uint32(src[0:4]))
	idxEnd := 4 + 2*count
	if len(src) < idxEnd {
		return nil, fmt.Errorf("wire: dirty payload index section truncated")
	}
	indices := make([]int, count)
	for i := 0; i < count; i++ {
		indices[i] = int(binary.LittleEndian.Uint16(src[4+2*i : 6+2*i]))
	}

	out := make(map[int]Row, count)
	offset := idxEnd
	for _, idx := range indices {
		row, n, err := UnpackRow(src[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: dirty payload row for index %d: %w", idx, err)
		}
		out[idx] = row
		offset += n
	}
	return out, nil
}

func sortedKeys(m map[int]Row) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Small N in practice (bounded by terminal row count); insertion sort
	// avoids pulling in sort for a handful of elements on the hot path.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
