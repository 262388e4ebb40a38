package control

import (
	"fmt"
	"strings"

	"github.com/openmux/openmux/internal/wire"
)

// rowText renders a row's codepoints, skipping wide-glyph continuation
// cells (Width == 0) the way the emulator's own rendering does.
func rowText(row wire.Row) string {
	var sb strings.Builder
	for _, c := range row {
		if c.Width == 0 {
			continue
		}
		if c.Codepoint == 0 {
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(c.Codepoint)
	}
	return sb.String()
}

// CaptureText implements pane.capture's format=text rendering of the rows
// it is given (the caller selects which rows): unless raw, trailing
// whitespace is trimmed from each line and trailing blank lines are
// dropped; with raw the rows are rendered unmodified.
func CaptureText(rows []wire.Row, raw bool) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		line := rowText(row)
		if !raw {
			line = strings.TrimRight(line, " \t")
		}
		lines[i] = line
	}
	if !raw {
		lines = trimTrailingBlank(lines)
	}
	return strings.Join(lines, "\n")
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// cellStyle is the subset of a cell's rendering attributes that
// CaptureANSI diffs between consecutive cells to decide when a new SGR
// sequence is needed.
type cellStyle struct {
	fgR, fgG, fgB uint8
	bgR, bgG, bgB uint8
	bold, italic, underline, strike, inverse, blink, dim bool
}

func styleOf(c wire.Cell) cellStyle {
	return cellStyle{
		fgR: c.FgR, fgG: c.FgG, fgB: c.FgB,
		bgR: c.BgR, bgG: c.BgG, bgB: c.BgB,
		bold: c.Bold, italic: c.Italic, underline: c.Underline,
		strike: c.Strike, inverse: c.Inverse, blink: c.Blink, dim: c.Dim,
	}
}

// sgrFor builds the SGR escape sequence transitioning into style s, always
// from a clean (reset) state — spec §4.I only requires emitting a new
// sequence "when it differs from the previous cell's style", not a minimal
// diff of individual attributes, so each change resets then reapplies.
func sgrFor(s cellStyle) string {
	var codes []string
	if s.bold {
		codes = append(codes, "1")
	}
	if s.dim {
		codes = append(codes, "2")
	}
	if s.italic {
		codes = append(codes, "3")
	}
	if s.underline {
		codes = append(codes, "4")
	}
	if s.blink {
		codes = append(codes, "5")
	}
	if s.inverse {
		codes = append(codes, "7")
	}
	if s.strike {
		codes = append(codes, "9")
	}
	codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", s.fgR, s.fgG, s.fgB))
	codes = append(codes, fmt.Sprintf("48;2;%d;%d;%d", s.bgR, s.bgG, s.bgB))
	return "\x1b[0;" + strings.Join(codes, ";") + "m"
}

// CaptureANSI implements pane.capture's format=ansi rendering: walks each
// row left to right, emitting a new SGR sequence only when a cell's style
// differs from the previous cell's, and terminating each line with
// ESC[0m so a line can be displayed in isolation without bleeding style
// into whatever follows it.
func CaptureANSI(rows []wire.Row) string {
	var sb strings.Builder
	for i, row := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		var prev *cellStyle
		for _, c := range row {
			if c.Width == 0 {
				continue
			}
			style := styleOf(c)
			if prev == nil || *prev != style {
				sb.WriteString(sgrFor(style))
				prev = &style
			}
			if c.Codepoint == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(c.Codepoint)
			}
		}
		if prev != nil {
			sb.WriteString("\x1b[0m")
		}
	}
	return sb.String()
}
