package copymode

import "strings"

// blockBounds returns the column bounds of a block selection, independent
// of which corner the anchor or cursor sits at — unlike char/line selection,
// a block selection's left/right edges come from min/max x, not start/end
// document order.
func (s *State) blockBounds() (minX, maxX int) {
	minX, maxX = s.anchorX, s.x
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	return minX, maxX
}

// Extract renders the active selection's text via getLine, honouring
// wide-cell continuation columns (skipped, since their glyph was already
// emitted by the leading column) and joining rows with "\n". Returns ""
// if no selection is active.
func (s *State) Extract() string {
	sel, ok := s.Selection()
	if !ok {
		return ""
	}

	switch sel.Mode {
	case SelectionLine:
		return s.extractLines(sel.StartY, sel.EndY, 0, -1)
	case SelectionBlock:
		minX, maxX := s.blockBounds()
		return s.extractLines(sel.StartY, sel.EndY, minX, maxX)
	default: // SelectionChar
		return s.extractChar(sel)
	}
}

func (s *State) extractChar(sel Selection) string {
	var b strings.Builder
	for y := sel.StartY; y <= sel.EndY; y++ {
		row := s.getLine(y)
		from, to := 0, len(row)-1
		if y == sel.StartY {
			from = sel.StartX
		}
		if y == sel.EndY {
			to = sel.EndX
		}
		b.WriteString(rowText(row, from, to))
		if y != sel.EndY {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// extractLines renders every row in [startY, endY], clipped to [minX, maxX]
// when maxX >= 0 (block mode); a negative maxX means the full row.
func (s *State) extractLines(startY, endY, minX, maxX int) string {
	var b strings.Builder
	for y := startY; y <= endY; y++ {
		row := s.getLine(y)
		from, to := minX, len(row)-1
		if maxX >= 0 {
			to = maxX
			if to > len(row)-1 {
				to = len(row) - 1
			}
		}
		b.WriteString(rowText(row, from, to))
		if y != endY {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// rowText renders row[from:to] inclusive, skipping continuation columns of
// wide glyphs (Width == 0) since the leading column already emitted the
// glyph.
func rowText(row []Cell, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to >= len(row) {
		to = len(row) - 1
	}
	var b strings.Builder
	for x := from; x <= to && x < len(row); x++ {
		c := row[x]
		if c.Width == 0 {
			continue
		}
		if c.Codepoint == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Codepoint)
	}
	return strings.TrimRight(b.String(), " ")
}
