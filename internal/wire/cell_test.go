package wire

import (
	"reflect"
	"testing"
)

func sampleCell() Cell {
	return Cell{
		Codepoint:   '界',
		FgR:         255,
		FgG:         10,
		FgB:         0,
		BgR:         0,
		BgG:         0,
		BgB:         40,
		Bold:        true,
		Underline:   true,
		Width:       2,
		HyperlinkID: 42,
	}
}

func TestCellRoundTrip(t *testing.T) {
	cases := []Cell{
		{},
		sampleCell(),
		{Codepoint: 'a', Width: 1},
		{Codepoint: 0, Width: 0, Inverse: true, Blink: true, Dim: true, Strike: true, Italic: true},
	}
	for i, c := range cases {
		buf := make([]byte, CellSize)
		PackCell(buf, c)
		got := UnpackCell(buf)
		if !reflect.DeepEqual(got, c) {
			t.Fatalf("case %d: round trip mismatch: got %+v, want %+v", i, got, c)
		}
	}
}

func TestRowRoundTrip(t *testing.T) {
	row := Row{sampleCell(), {Codepoint: ' ', Width: 1}, {}}
	buf := PackRow(nil, row)
	got, n, err := UnpackRow(buf)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if !reflect.DeepEqual(Row(got), row) {
		t.Fatalf("row mismatch: got %+v, want %+v", got, row)
	}
}

func TestUnpackRowTruncated(t *testing.T) {
	buf := PackRow(nil, Row{sampleCell()})
	if _, _, err := UnpackRow(buf[:len(buf)-1]); err == nil {
		t.Fatal("expected error for truncated row")
	}
	if _, _, err := UnpackRow(buf[:2]); err == nil {
		t.Fatal("expected error for truncated row header")
	}
}

func TestFullStateRoundTrip(t *testing.T) {
	state := FullState{
		Cols: 3,
		Rows: 2,
		Cursor: Cursor{X: 1, Y: 1, Visible: true},
		ModeFlags: ModeAlternateScreen | ModeCursorKeyApplication,
		Grid: []Row{
			{{Codepoint: 'a', Width: 1}, {Codepoint: 'b', Width: 1}, {Codepoint: 'c', Width: 1}},
			{sampleCell(), {}, {Codepoint: 'z', Width: 1}},
		},
	}
	buf := PackFullState(state)
	got, err := UnpackFullState(buf)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !reflect.DeepEqual(got, state) {
		t.Fatalf("full state mismatch: got %+v, want %+v", got, state)
	}
}

func TestDirtyRoundTrip(t *testing.T) {
	rows := map[int]Row{
		5: {sampleCell()},
		0: {{Codepoint: 'x', Width: 1}, {Codepoint: 'y', Width: 1}},
		2: {},
	}
	buf := PackDirty(rows)
	got, err := UnpackDirty(buf)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("dirty mismatch: got %+v, want %+v", got, rows)
	}
}

func TestDirtyEncodingIsDeterministic(t *testing.T) {
	rows := map[int]Row{3: {sampleCell()}, 1: {{Codepoint: 'q', Width: 1}}}
	a := PackDirty(rows)
	b := PackDirty(rows)
	if string(a) != string(b) {
		t.Fatal("PackDirty is not deterministic across calls with the same map")
	}
}
