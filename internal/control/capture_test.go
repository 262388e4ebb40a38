package control

import (
	"strings"
	"testing"

	"github.com/openmux/openmux/internal/wire"
)

func textRow(s string) wire.Row {
	row := make(wire.Row, len(s))
	for i, r := range s {
		row[i] = wire.Cell{Codepoint: r, Width: 1}
	}
	return row
}

func TestCaptureTextTrimsTrailingWhitespaceAndBlankLines(t *testing.T) {
	rows := []wire.Row{textRow("hello   "), textRow("world"), textRow("   "), textRow("   ")}
	got := CaptureText(rows, false)
	want := "hello\nworld"
	if got != want {
		t.Fatalf("CaptureText = %q, want %q", got, want)
	}
}

func TestCaptureTextRawKeepsEverything(t *testing.T) {
	rows := []wire.Row{textRow("hello   "), textRow("   ")}
	got := CaptureText(rows, true)
	want := "hello   \n   "
	if got != want {
		t.Fatalf("CaptureText raw = %q, want %q", got, want)
	}
}

func TestCaptureANSIEmitsSGROnlyOnStyleChange(t *testing.T) {
	row := wire.Row{
		{Codepoint: 'a', Width: 1, FgR: 255, Bold: true},
		{Codepoint: 'b', Width: 1, FgR: 255, Bold: true},
		{Codepoint: 'c', Width: 1, FgR: 0},
	}
	got := CaptureANSI([]wire.Row{row})

	if !strings.HasSuffix(got, "\x1b[0m") {
		t.Fatalf("CaptureANSI should terminate the line with ESC[0m: %q", got)
	}
	if strings.Count(got, "\x1b[0;") != 2 {
		t.Fatalf("expected exactly 2 style transitions (a and c), got: %q", got)
	}
	if !strings.Contains(got, "38;2;255;0;0") {
		t.Fatalf("expected truecolor fg SGR for 255,0,0: %q", got)
	}
}

func TestCaptureANSISkipsWideContinuationCells(t *testing.T) {
	row := wire.Row{
		{Codepoint: '中', Width: 2},
		{Codepoint: 0, Width: 0},
	}
	got := CaptureANSI([]wire.Row{row})
	if !strings.Contains(got, "中") {
		t.Fatalf("expected the wide glyph to render: %q", got)
	}
}
