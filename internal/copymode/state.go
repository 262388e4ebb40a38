package copymode

// State is the live copy-mode cursor and (optional) in-progress selection
// over one pane's scrollback+live screen.
type State struct {
	getLine GetLineFunc
	cols    int

	scrollbackLen int
	rows          int

	x, absY int

	selMode SelectionMode
	anchorX, anchorAbsY int
}

// NewState starts a cursor at (0, scrollbackLen) — the top-left of the live
// screen — over a buffer with scrollbackLen scrollback rows and rows live
// rows, each cols wide.
func NewState(getLine GetLineFunc, cols, rows, scrollbackLen int) *State {
	return &State{
		getLine:       getLine,
		cols:          cols,
		rows:          rows,
		scrollbackLen: scrollbackLen,
		x:             0,
		absY:          scrollbackLen,
	}
}

// Cursor returns the current virtual cursor position.
func (s *State) Cursor() (x, absY int) {
	return s.x, s.absY
}

// maxAbsY is the last addressable row: scrollback plus the live screen.
func (s *State) maxAbsY() int {
	return s.scrollbackLen + s.rows - 1
}

func (s *State) clampY(absY int) int {
	if absY < 0 {
		return 0
	}
	if max := s.maxAbsY(); absY > max {
		return max
	}
	return absY
}

func (s *State) clampX(x int) int {
	if x < 0 {
		return 0
	}
	if s.cols > 0 && x >= s.cols {
		return s.cols - 1
	}
	return x
}

func (s *State) lineLen(absY int) int {
	row := s.getLine(absY)
	n := len(row)
	for n > 0 && row[n-1].Codepoint == 0 {
		n--
	}
	return n
}

// isWideLead reports whether the cell at (x, absY) is the leading column of
// a width-2 glyph, meaning x+1 is its continuation column.
func (s *State) isWideLead(x, absY int) bool {
	row := s.getLine(absY)
	return x >= 0 && x < len(row) && row[x].Width == 2
}

// StartSelection begins a visual selection of mode anchored at the current
// cursor position.
func (s *State) StartSelection(mode SelectionMode) {
	s.selMode = mode
	s.anchorX, s.anchorAbsY = s.x, s.absY
}

// ClearSelection exits visual selection mode.
func (s *State) ClearSelection() {
	s.selMode = SelectionNone
}

// InSelection reports whether a visual selection is active.
func (s *State) InSelection() bool {
	return s.selMode != SelectionNone
}

// Selection normalises the anchor/cursor pair into a Selection, or reports
// ok=false if no selection is active.
func (s *State) Selection() (Selection, bool) {
	if s.selMode == SelectionNone {
		return Selection{}, false
	}

	ax, ay := s.anchorX, s.anchorAbsY
	cx, cy := s.x, s.absY

	startX, startY, endX, endY := ax, ay, cx, cy
	focusAtEnd := true
	if ay > cy || (ay == cy && ax > cx) {
		startX, startY, endX, endY = cx, cy, ax, ay
		focusAtEnd = false
	}

	return Selection{
		Mode:       s.selMode,
		StartX:     startX,
		StartY:     startY,
		EndX:       endX,
		EndY:       endY,
		FocusAtEnd: focusAtEnd,
	}, true
}
