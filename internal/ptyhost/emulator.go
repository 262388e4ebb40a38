package ptyhost

import (
	"github.com/hinshun/vt10x"
	"github.com/mattn/go-runewidth"

	"github.com/openmux/openmux/internal/wire"
)

// emulator wraps a vt10x virtual terminal and tracks enough of its own
// state (a previous-grid snapshot) to compute the dirty-row and
// scrolled-off-the-top row sets that vt10x itself doesn't expose — the
// teacher's vt10x integration (internal/terminal/pane.go) only ever
// re-renders the whole screen, since it targets a TUI repaint rather than
// an incremental wire update.
type emulator struct {
	vt   vt10x.Terminal
	cols int
	rows int

	prevGrid []wire.Row // full snapshot from the previous Write, same size as current cols/rows
}

func newEmulator(cols, rows int) *emulator {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	e := &emulator{
		vt:   vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
	e.prevGrid = blankGrid(cols, rows)
	return e
}

func blankGrid(cols, rows int) []wire.Row {
	grid := make([]wire.Row, rows)
	for i := range grid {
		grid[i] = make(wire.Row, cols)
		for j := range grid[i] {
			grid[i][j] = wire.Cell{Codepoint: ' ', Width: 1}
		}
	}
	return grid
}

// Write feeds data through the VT emulator and returns the rows that
// changed since the last Write (dirtyRows, keyed by row index) plus any
// rows that scrolled off the top of the screen in the process, oldest
// first, suitable for archive.Archive.Append.
func (e *emulator) Write(data []byte) (dirtyRows map[int]wire.Row, scrolled []wire.Row) {
	e.vt.Write(data)

	e.vt.Lock()
	current := e.snapshotGridLocked()
	e.vt.Unlock()

	scrolled = detectScrolledRows(e.prevGrid, current)
	dirtyRows = diffGrids(e.prevGrid, current)
	e.prevGrid = current
	return dirtyRows, scrolled
}

// snapshotGridLocked reads every cell via vt.Cell; caller must hold e.vt's lock.
func (e *emulator) snapshotGridLocked() []wire.Row {
	grid := make([]wire.Row, e.rows)
	for y := 0; y < e.rows; y++ {
		row := make(wire.Row, e.cols)
		for x := 0; x < e.cols; x++ {
			row[x] = glyphToCell(e.vt.Cell(x, y))
		}
		grid[y] = row
	}
	return grid
}

func glyphToCell(g vt10x.Glyph) wire.Cell {
	ch := g.Char
	if ch == 0 {
		ch = ' '
	}
	fgR, fgG, fgB := colorToRGB(g.FG)
	bgR, bgG, bgB := colorToRGB(g.BG)
	width := uint8(1)
	if runewidth.RuneWidth(ch) == 2 {
		width = 2
	}
	return wire.Cell{
		Codepoint: ch,
		FgR:       fgR, FgG: fgG, FgB: fgB,
		BgR: bgR, BgG: bgG, BgB: bgB,
		Bold:      g.Mode&0x04 != 0,
		Underline: g.Mode&0x02 != 0,
		Inverse:   g.Mode&0x01 != 0,
		Italic:    g.Mode&0x10 != 0,
		Width:     width,
	}
}

// diffGrids returns every row index whose packed cell content differs
// between prev and cur.
func diffGrids(prev, cur []wire.Row) map[int]wire.Row {
	out := make(map[int]wire.Row)
	for i := 0; i < len(cur); i++ {
		if i >= len(prev) || !rowsEqual(prev[i], cur[i]) {
			out[i] = cur[i]
		}
	}
	return out
}

func rowsEqual(a, b wire.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// detectScrolledRows finds the largest k (1 <= k < len(prev)) such that
// prev's rows [k:] reappear verbatim as cur's rows [0:len(prev)-k] — i.e.
// the screen shifted up by k rows — and returns prev's top k rows in
// top-to-bottom (oldest-first) order for archival. k = len(prev) is
// deliberately excluded: with nothing left of prev to compare against, the
// match would be vacuously true for any unrelated screen content. Returns
// nil when no shift is detected (the common case: in-place edits).
func detectScrolledRows(prev, cur []wire.Row) []wire.Row {
	n := len(prev)
	if n == 0 || n != len(cur) {
		return nil
	}
	for k := n - 1; k >= 1; k-- {
		if shiftMatches(prev, cur, k) {
			out := make([]wire.Row, k)
			copy(out, prev[:k])
			return out
		}
	}
	return nil
}

func shiftMatches(prev, cur []wire.Row, k int) bool {
	n := len(prev)
	for i := 0; i < n-k; i++ {
		if !rowsEqual(prev[k+i], cur[i]) {
			return false
		}
	}
	return true
}

// Resize adjusts the emulator's dimensions, growing/shrinking the tracked
// snapshot to match so the next Write's diff starts from a consistent base.
func (e *emulator) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 || (cols == e.cols && rows == e.rows) {
		return
	}
	e.vt.Resize(cols, rows)
	e.cols = cols
	e.rows = rows
	e.vt.Lock()
	e.prevGrid = e.snapshotGridLocked()
	e.vt.Unlock()
}

// FullState returns a complete snapshot in the wire format.
func (e *emulator) FullState() wire.FullState {
	e.vt.Lock()
	defer e.vt.Unlock()
	cursor := e.vt.Cursor()
	return wire.FullState{
		Cols:   e.cols,
		Rows:   e.rows,
		Cursor: wire.Cursor{X: cursor.X, Y: cursor.Y, Visible: e.vt.CursorVisible()},
		Grid:   e.snapshotGridLocked(),
	}
}
