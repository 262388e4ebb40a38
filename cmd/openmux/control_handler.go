package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/sessionstore"
)

// Handle implements control.Handler, answering one-shot CLI requests over
// the control socket. Every method runs against the same live App state
// the keyboard/render loop reads and mutates, so a CLI-issued split or send
// is indistinguishable from one driven by a keybinding.
func (a *App) Handle(method string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch method {
	case control.MethodHello:
		return json.Marshal(map[string]int{"pid": os.Getpid()})
	case control.MethodSessionCreate:
		return a.handleSessionCreate(payload)
	case control.MethodPaneSplit:
		return a.handlePaneSplit(payload)
	case control.MethodPaneSend:
		return a.handlePaneSend(ctx, payload)
	case control.MethodPaneCapture:
		return a.handlePaneCapture(payload)
	default:
		return nil, control.NewRequestError(control.ErrInvalidRequest, "unknown method: "+method)
	}
}

func (a *App) handleSessionCreate(payload []byte) ([]byte, error) {
	var params control.SessionCreateParams
	if err := control.UnmarshalParams(payload, &params); err != nil {
		return nil, control.NewRequestError(control.ErrInvalidRequest, err.Error())
	}
	name := params.Name
	if name == "" {
		name = defaultSessionName()
	}
	meta, err := a.store.Create(name)
	if err != nil {
		return nil, control.NewRequestError(control.ErrInternal, err.Error())
	}
	return json.Marshal(meta)
}

func (a *App) handlePaneSplit(payload []byte) ([]byte, error) {
	var params control.PaneSplitParams
	if err := control.UnmarshalParams(payload, &params); err != nil {
		return nil, control.NewRequestError(control.ErrInvalidRequest, err.Error())
	}
	dir := layout.SplitHorizontal
	if params.Direction == string(layout.SplitVertical) {
		dir = layout.SplitVertical
	}

	target, err := control.ResolveSelector(a, params.Pane, params.WorkspaceID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	targetRuntime := a.panes[target]
	a.mu.Unlock()
	cwd := ""
	if targetRuntime != nil {
		cwd = targetRuntime.cwd
	}

	newID := newPaneID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.spawnPane(ctx, newID, cwd); err != nil {
		return nil, control.NewRequestError(control.ErrInternal, err.Error())
	}

	a.mu.Lock()
	a.layoutState = layout.Reduce(a.layoutState, layout.Action{
		Type: layout.ActionSplitPane, TargetPaneID: target, NewPaneID: newID, Direction: dir,
	})
	a.mu.Unlock()
	a.requestRender()

	return json.Marshal(map[string]string{"paneId": newID})
}

func (a *App) handlePaneSend(ctx context.Context, payload []byte) ([]byte, error) {
	var params control.PaneSendParams
	if err := control.UnmarshalParams(payload, &params); err != nil {
		return nil, control.NewRequestError(control.ErrInvalidRequest, err.Error())
	}
	paneID, err := control.ResolveSelector(a, params.Pane, params.WorkspaceID)
	if err != nil {
		return nil, err
	}
	ptyID, ok := a.ptyForPane(paneID)
	if !ok {
		return nil, control.NewRequestError(control.ErrNotFound, "pane has no live pty: "+paneID)
	}
	text, err := control.DecodeTextEscapes(params.Text)
	if err != nil {
		return nil, control.NewRequestError(control.ErrInvalidRequest, err.Error())
	}
	err = a.shim.Request(ctx, "write", map[string]any{"ptyId": ptyID, "data": []byte(text)}, nil)
	if err != nil {
		return nil, control.NewRequestError(control.ErrInternal, err.Error())
	}
	return nil, nil
}

func (a *App) handlePaneCapture(payload []byte) ([]byte, error) {
	var params control.PaneCaptureParams
	if err := control.UnmarshalParams(payload, &params); err != nil {
		return nil, control.NewRequestError(control.ErrInvalidRequest, err.Error())
	}
	paneID, err := control.ResolveSelector(a, params.Pane, params.WorkspaceID)
	if err != nil {
		return nil, err
	}
	ptyID, ok := a.ptyForPane(paneID)
	if !ok {
		return nil, control.NewRequestError(control.ErrNotFound, "pane has no live pty: "+paneID)
	}

	full := a.dirtyGridFor(ptyID)
	rows := full.Grid
	if params.Lines > 0 && params.Lines < len(rows) {
		rows = rows[len(rows)-params.Lines:]
	}

	var text string
	if params.Format == control.CaptureFormatANSI {
		text = control.CaptureANSI(rows)
	} else {
		text = control.CaptureText(rows, params.Raw)
	}
	return json.Marshal(control.PaneCaptureResult{Text: text})
}

// sessionListJSON renders the store's index as JSON, read directly from
// the store rather than over the control socket since listing sessions
// doesn't touch any live PTY or layout state. The `session list` command
// does its own marshalling and does not call this helper.
func sessionListJSON(store *sessionstore.Store) ([]byte, error) {
	return json.Marshal(store.List())
}
