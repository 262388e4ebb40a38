package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/wire"
)

// statusBarRows is how many of the terminal's rows the status line at the
// bottom reserves out of the viewport the layout engine lays panes into.
const statusBarRows = 1

// render redraws every visible pane of the active workspace into out, each
// explicitly cursor-positioned via ANSI rather than relying on terminal
// scroll, since panes tile the screen rather than filling it — the same
// approach the attach client in the examples pack uses for its full-screen
// state dump, generalized from one full-screen region to many tiled ones.
func (a *App) render(out io.Writer, cols, rows int) {
	a.mu.Lock()
	ws := a.layoutState.ActiveWorkspace()
	if ws == nil {
		a.mu.Unlock()
		return
	}
	viewport := layout.Rect{Width: cols, Height: maxInt(rows-statusBarRows, 0)}
	a.layoutState.Viewport = viewport
	geom := layout.Geometry(ws, viewport, a.layoutState.Config)
	focused := ws.FocusedPaneID
	cfg := a.layoutState.Config
	_ = cfg
	panes := make(map[string]*paneRuntime, len(a.panes))
	for id, pr := range a.panes {
		panes[id] = pr
	}
	sessionName := a.sessionName
	a.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\x1b[2J")
	for paneID, rect := range geom {
		if rect.Width <= 0 || rect.Height <= 0 {
			continue
		}
		pr := panes[paneID]
		if pr == nil {
			continue
		}
		renderPane(&sb, a.dirtyGridFor(pr.ptyID), rect, paneID == focused)
	}
	sb.WriteString(statusLine(sessionName, ws, rows, cols))
	out.Write([]byte(sb.String()))
}

// renderPane slices state's grid to rect's column/row window, renders it
// via control.CaptureANSI, and writes each resulting line at its absolute
// screen position. No border or highlight is drawn; for the focused pane
// it only moves the terminal cursor to that pane's cursor position.
func renderPane(sb *strings.Builder, state wire.FullState, rect layout.Rect, focused bool) {
	rows := make([]wire.Row, 0, rect.Height)
	for y := rect.Y; y < rect.Y+rect.Height && y < len(state.Grid); y++ {
		row := state.Grid[y]
		from, to := rect.X, rect.X+rect.Width
		if to > len(row) {
			to = len(row)
		}
		if from > to {
			from = to
		}
		rows = append(rows, row[from:to])
	}
	ansi := control.CaptureANSI(rows)
	lines := strings.Split(ansi, "\n")
	for i, line := range lines {
		fmt.Fprintf(sb, "\x1b[%d;%dH%s", rect.Y+i+1, rect.X+1, line)
	}
	if focused {
		cur := state.Cursor
		fmt.Fprintf(sb, "\x1b[%d;%dH", rect.Y+cur.Y+1, rect.X+cur.X+1)
	}
}

// statusLine renders the bottom status bar: session name, active
// workspace, and mode, left-aligned and padded/truncated to exactly cols
// wide with reverse video so it always stands out from pane content.
func statusLine(sessionName string, ws *layout.Workspace, rows, cols int) string {
	text := fmt.Sprintf(" %s | workspace %s | %s ", sessionName, ws.ID, ws.Mode)
	if len(text) > cols {
		text = text[:cols]
	} else {
		text += strings.Repeat(" ", cols-len(text))
	}
	return fmt.Sprintf("\x1b[%d;1H\x1b[7m%s\x1b[0m", rows, text)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
