package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"

	"github.com/atotto/clipboard"

	"github.com/openmux/openmux/internal/copymode"
	"github.com/openmux/openmux/internal/keymode"
	"github.com/openmux/openmux/internal/layout"
)

// csiArrow maps a CSI final byte to the chord name the keymode router and
// the DECCKM-aware forwarder both expect.
var csiArrow = map[byte]string{'A': "Up", 'B': "Down", 'C': "Right", 'D': "Left"}

// readKeyEvent decodes exactly one chord from r: plain runes, Enter, Tab,
// Backspace, the control bytes 0x01-0x1a as C-a..C-z, Escape, and the four
// CSI/SS3 arrow-key sequences. Other control bytes pass through as their
// raw rune. Richer
// sequences (function keys, modified arrows) pass through as Escape plus
// their raw bytes forwarded verbatim, which is always safe since an
// unrecognized chord in ModeNormal just forwards its Bytes to the PTY.
func readKeyEvent(r *bufio.Reader) (keymode.KeyEvent, error) {
	b, err := r.ReadByte()
	if err != nil {
		return keymode.KeyEvent{}, err
	}

	if b == 0x1b {
		next, err := r.ReadByte()
		if err != nil {
			return keymode.KeyEvent{Key: "Escape", Bytes: []byte{0x1b}}, nil
		}
		if next != '[' && next != 'O' {
			return keymode.KeyEvent{Key: "Escape", Bytes: []byte{0x1b, next}}, nil
		}
		final, err := r.ReadByte()
		if err != nil {
			return keymode.KeyEvent{Key: "Escape", Bytes: []byte{0x1b, next}}, nil
		}
		if name, ok := csiArrow[final]; ok {
			return keymode.KeyEvent{Key: name, Bytes: []byte{0x1b, next, final}}, nil
		}
		return keymode.KeyEvent{Key: "Escape", Bytes: []byte{0x1b, next, final}}, nil
	}

	switch {
	case b == '\r':
		return keymode.KeyEvent{Key: "Enter", Bytes: []byte{'\r'}}, nil
	case b == 0x7f || b == 0x08:
		return keymode.KeyEvent{Key: "Backspace", Bytes: []byte{b}}, nil
	case b == '\t':
		return keymode.KeyEvent{Key: "Tab", Bytes: []byte{'\t'}}, nil
	case b >= 1 && b <= 26 && b != '\t' && b != '\r':
		letter := string(rune('a' + b - 1))
		return keymode.KeyEvent{Key: "C-" + letter, Bytes: []byte{b}}, nil
	default:
		return keymode.KeyEvent{Key: string(rune(b)), Bytes: []byte{b}}, nil
	}
}

// runInput is the blocking input loop: decode one chord at a time from in,
// resolve it against the keyboard router, and either dispatch a local
// action or forward the chord's bytes to the focused pane's PTY.
func (a *App) runInput(ctx context.Context, in io.Reader) {
	r := bufio.NewReader(in)
	for {
		ev, err := readKeyEvent(r)
		if err != nil {
			return
		}
		a.dispatchKey(ctx, ev)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (a *App) dispatchKey(ctx context.Context, ev keymode.KeyEvent) {
	result := a.router.HandleKey(ev)

	if !result.Handled {
		a.forwardToFocused(ctx, result.Forward)
		return
	}

	if result.Mode == keymode.ModeCopy {
		a.dispatchCopyAction(ctx, result.Action)
		return
	}

	switch result.Action {
	case "":
		// prefix chord accepted, or a consumed-but-unbound key; nothing to do.
	case "split-vertical":
		a.localSplit(ctx, layout.SplitVertical)
	case "split-horizontal":
		a.localSplit(ctx, layout.SplitHorizontal)
	case "toggle-zoom":
		a.mu.Lock()
		a.layoutState = layout.Reduce(a.layoutState, layout.Action{Type: layout.ActionToggleZoom})
		a.mu.Unlock()
	case "kill-pane":
		a.localKillFocused(ctx)
	case "detach-session":
		select {
		case <-a.detach:
		default:
			close(a.detach)
		}
	case "enter-copy-mode":
		a.enterCopyMode()
	}
	a.requestRender()
}

func (a *App) forwardToFocused(ctx context.Context, data []byte) {
	if len(data) == 0 {
		return
	}
	paneID := a.focusedPaneID()
	ptyID, ok := a.ptyForPane(paneID)
	if !ok {
		return
	}
	if err := a.shim.Request(ctx, "write", map[string]any{"ptyId": ptyID, "data": data}, nil); err != nil {
		slog.Debug("[openmux] write failed", "ptyId", ptyID, "error", err)
	}
}

func (a *App) localSplit(ctx context.Context, dir layout.Direction) {
	target := a.focusedPaneID()
	if target == "" {
		return
	}
	a.mu.Lock()
	cwd := ""
	if pr := a.panes[target]; pr != nil {
		cwd = pr.cwd
	}
	a.mu.Unlock()

	newID := newPaneID()
	if _, err := a.spawnPane(ctx, newID, cwd); err != nil {
		slog.Warn("[openmux] split: spawn pane failed", "error", err)
		return
	}
	a.mu.Lock()
	a.layoutState = layout.Reduce(a.layoutState, layout.Action{
		Type: layout.ActionSplitPane, TargetPaneID: target, NewPaneID: newID, Direction: dir,
	})
	a.mu.Unlock()
}

func (a *App) localKillFocused(ctx context.Context) {
	target := a.focusedPaneID()
	if target == "" {
		return
	}
	ptyID, ok := a.ptyForPane(target)
	if ok {
		_ = a.shim.Request(ctx, "destroy", map[string]string{"ptyId": ptyID}, nil)
		a.shim.ForgetState(ptyID)
	}
	a.mu.Lock()
	delete(a.panes, target)
	a.layoutState = layout.Reduce(a.layoutState, layout.Action{Type: layout.ActionClosePane, TargetPaneID: target})
	a.mu.Unlock()
}

// enterCopyMode builds a copymode.State over the focused pane's live grid
// (scrollback-backed reads are a documented simplification: the getLine
// closure below only serves rows already present in the replica's cached
// grid, not the shim's on-disk archive).
func (a *App) enterCopyMode() {
	paneID := a.focusedPaneID()
	ptyID, ok := a.ptyForPane(paneID)
	if !ok {
		return
	}
	state := a.shim.State(ptyID)
	snap := state.Snapshot()
	getLine := func(absY int) []copymode.Cell {
		if absY < 0 || absY >= len(snap.Grid) {
			return nil
		}
		row := snap.Grid[absY]
		out := make([]copymode.Cell, len(row))
		for i, c := range row {
			out[i] = copymode.Cell{Codepoint: c.Codepoint, Width: c.Width}
		}
		return out
	}
	a.mu.Lock()
	a.copyPane = paneID
	a.copy[paneID] = copymode.NewState(getLine, snap.Cols, snap.Rows, 0)
	a.mu.Unlock()
}

func (a *App) exitCopyMode() {
	a.mu.Lock()
	paneID := a.copyPane
	a.copyPane = ""
	if paneID != "" {
		delete(a.copy, paneID)
	}
	a.mu.Unlock()
}

func (a *App) dispatchCopyAction(ctx context.Context, action string) {
	a.mu.Lock()
	cm := a.copy[a.copyPane]
	a.mu.Unlock()
	if cm == nil {
		a.exitCopyMode()
		return
	}

	switch action {
	case "cursor-left":
		cm.MoveLeft()
	case "cursor-right":
		cm.MoveRight()
	case "cursor-up":
		cm.MoveUp()
	case "cursor-down":
		cm.MoveDown()
	case "line-start":
		cm.LineStart()
	case "line-end":
		cm.LineEnd()
	case "line-first-nonblank":
		cm.LineFirstNonBlank()
	case "top":
		cm.Top()
	case "bottom":
		cm.Bottom()
	case "word-forward":
		cm.WordForward(false)
	case "word-backward":
		cm.WordBackward(false)
	case "word-end":
		cm.WordEnd(false)
	case "select-char":
		toggleSelection(cm, copymode.SelectionChar)
	case "select-line":
		toggleSelection(cm, copymode.SelectionLine)
	case "select-block":
		toggleSelection(cm, copymode.SelectionBlock)
	case "exit-mode":
		if cm.InSelection() {
			text := cm.Extract()
			if err := clipboard.WriteAll(text); err != nil {
				slog.Debug("[openmux] clipboard write failed", "error", err)
			}
		}
		a.exitCopyMode()
	case "cancel":
		a.exitCopyMode()
	}
	a.requestRender()
}

func toggleSelection(cm *copymode.State, mode copymode.SelectionMode) {
	if cm.InSelection() {
		cm.ClearSelection()
		return
	}
	cm.StartSelection(mode)
}
