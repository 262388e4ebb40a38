// Package copymode implements the virtual cursor, motions, and selection
// model used while a pane is in copy mode: a read-only scan over a pane's
// live screen plus scrollback, with vi-style character/line/word motions
// and char/line/block visual selection.
package copymode

// SelectionMode is the shape a visual selection extracts text in.
type SelectionMode int

const (
	SelectionNone SelectionMode = iota
	SelectionChar
	SelectionLine
	SelectionBlock
)

// GetLineFunc returns the cells of row absY (0-based, spanning scrollback
// then the live screen), or nil if absY is out of range.
type GetLineFunc func(absY int) []Cell

// Cell is the minimal shape copymode needs out of a rendered cell: its
// glyph and whether it's the leading column of a wide (width-2) glyph.
type Cell struct {
	Codepoint rune
	Width     uint8
}

// Selection is the normalised bounding box of a visual selection: start is
// always the earlier of anchor/cursor in document order. focusAtEnd records
// which endpoint the live cursor currently sits at, so further motions
// extend the correct side.
type Selection struct {
	Mode                   SelectionMode
	StartX, StartY         int
	EndX, EndY             int
	FocusAtEnd             bool
}
