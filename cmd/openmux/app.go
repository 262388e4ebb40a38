package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmux/openmux/internal/config"
	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/copymode"
	"github.com/openmux/openmux/internal/keymode"
	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/sessionstore"
	"github.com/openmux/openmux/internal/shimclient"
	"github.com/openmux/openmux/internal/userutil"
	"github.com/openmux/openmux/internal/wire"
)

// paneRuntime is everything the UI process tracks for one live pane beyond
// its position in the layout tree: the shim's PTY id and the last title/cwd
// it reported, mirrored into sessionstore.PaneRecord on save.
type paneRuntime struct {
	ptyID string
	title string
	cwd   string
}

// App is the attached UI process's root object: it owns the live
// layout/session state, the shim connection, and the keyboard router, and
// implements both control.Handler (answering
// CLI requests over the control socket) and control.Locator (resolving
// pane selectors against live state).
type App struct {
	cfg     config.Config
	cfgPath string

	store *sessionstore.Store
	shim  *shimclient.Client
	sb    *shimclient.ScrollbackCache

	autosave *sessionstore.AutoSaver

	mu          sync.Mutex
	layoutState *layout.State
	sessionID   string
	sessionName string
	panes       map[string]*paneRuntime // paneId -> runtime

	router  *keymode.Router
	copy    map[string]*copymode.State // paneId -> active copy-mode cursor
	copyPane string                    // pane currently in copy mode, "" if none

	needsRender chan struct{}
	detach      chan struct{}
}

// newApp wires every component together around an already-loaded session
// document, matching sessionstore.Switch's contract: the caller resolves
// (or creates) PTYs for the document's panes before the App starts serving
// input, using the shim's registerPane/getSessionMapping calls as the
// PTYCoordinator seam.
func newApp(cfg config.Config, cfgPath string, store *sessionstore.Store, shim *shimclient.Client) *App {
	sb, err := shimclient.NewScrollbackCache(shim)
	if err != nil {
		slog.Warn("[openmux] scrollback cache unavailable", "error", err)
	}
	a := &App{
		cfg:         cfg,
		cfgPath:     cfgPath,
		store:       store,
		shim:        shim,
		sb:          sb,
		panes:       make(map[string]*paneRuntime),
		copy:        make(map[string]*copymode.State),
		needsRender: make(chan struct{}, 1),
		detach:      make(chan struct{}),
	}
	a.router = keymode.NewRouter("C-b", buildKeyTable(cfg.Keybindings), time.Second)
	return a
}

// buildKeyTable inverts config.toml's action->chord keybindings into the
// chord->action table keymode.Router dispatches from, and adds the fixed
// vi-style copy-mode bindings config.toml has no entries for (spec §4.J
// ties copy mode's motions to a built-in table, not the user keybindings).
func buildKeyTable(keybindings map[string]string) keymode.Table {
	prefix := make(map[string]string, len(keybindings))
	for action, chord := range keybindings {
		if chord == "" {
			continue
		}
		prefix[chord] = action
	}

	copyTable := map[string]string{
		"h": "cursor-left", "j": "cursor-down", "k": "cursor-up", "l": "cursor-right",
		"Left": "cursor-left", "Down": "cursor-down", "Up": "cursor-up", "Right": "cursor-right",
		"0": "line-start", "$": "line-end", "^": "line-first-nonblank",
		"g": "top", "G": "bottom",
		"w": "word-forward", "b": "word-backward", "e": "word-end",
		"v": "select-char", "V": "select-line", "C-v": "select-block",
		"y": "exit-mode", "Enter": "exit-mode", "q": "cancel", "Escape": "cancel",
	}

	return keymode.Table{
		keymode.ModePrefix: prefix,
		keymode.ModeCopy:   copyTable,
	}
}

// loadOrCreateSession resolves selector (a session name or id, "" for the
// store's active session) and loads it, creating a fresh default session
// if the store is empty, then materializes its layout.State and spawns a
// PTY for every pane the document doesn't already map to a live one.
func (a *App) loadOrCreateSession(ctx context.Context, selector string) error {
	doc, isNew, err := a.resolveDocument(selector)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.sessionID = doc.Metadata.ID
	a.sessionName = doc.Metadata.Name
	a.mu.Unlock()

	ls := layout.NewState(defaultWorkspaceID)
	ls.Config = layout.GeometryConfig{
		MinPaneWidth:  a.cfg.Layout.MinPaneWidth,
		MinPaneHeight: a.cfg.Layout.MinPaneHeight,
	}

	if isNew {
		paneID := newPaneID()
		if _, err := a.spawnPane(ctx, paneID, ""); err != nil {
			return fmt.Errorf("openmux: spawn initial pane: %w", err)
		}
		ls.Workspaces[defaultWorkspaceID].Root = &layout.Node{Type: layout.NodeLeaf, PaneID: paneID}
		ls.Workspaces[defaultWorkspaceID].FocusedPaneID = paneID
	} else {
		ls.Workspaces = make(map[string]*layout.Workspace, len(doc.Workspaces))
		for _, wd := range doc.Workspaces {
			ws := wd.Workspace
			ls.Workspaces[ws.ID] = &ws
			for _, pr := range wd.Panes {
				ptyID, ok, err := a.adoptPane(ctx, doc.Metadata.ID, pr.ID, pr.Cwd)
				if err != nil {
					slog.Warn("[openmux] adopt pane failed", "paneId", pr.ID, "error", err)
					continue
				}
				if !ok {
					continue
				}
				a.mu.Lock()
				a.panes[pr.ID] = &paneRuntime{ptyID: ptyID, title: pr.Title, cwd: pr.Cwd}
				a.mu.Unlock()
			}
		}
		if doc.ActiveWorkspaceID != "" {
			ls.ActiveWorkspaceID = doc.ActiveWorkspaceID
		}
	}

	a.mu.Lock()
	a.layoutState = ls
	a.mu.Unlock()

	a.autosave = sessionstore.NewAutoSaver(a.store, a.snapshotDocument, func() uint64 {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.layoutState.LayoutVersion
	})
	a.autosave.Start(ctx)

	return nil
}

// resolveDocument loads selector from the store by id, then by name, and
// creates a session named selector if neither matches. With an empty
// selector it loads the active session, or creates one named
// defaultSessionName() if there is none. isNew reports a created session
// so the caller knows whether to bootstrap a first pane.
func (a *App) resolveDocument(selector string) (sessionstore.Document, bool, error) {
	if selector != "" {
		if doc, err := a.store.Load(selector); err == nil {
			return doc, false, nil
		}
		for _, m := range a.store.List() {
			if m.Name == selector {
				doc, err := a.store.Load(m.ID)
				return doc, false, err
			}
		}
		meta, err := a.store.Create(selector)
		if err != nil {
			return sessionstore.Document{}, false, err
		}
		return sessionstore.Document{Metadata: meta}, true, nil
	}

	if active := a.store.ActiveSessionID(); active != "" {
		doc, err := a.store.Load(active)
		if err == nil {
			return doc, false, nil
		}
	}
	meta, err := a.store.Create(defaultSessionName())
	if err != nil {
		return sessionstore.Document{}, false, err
	}
	return sessionstore.Document{Metadata: meta}, true, nil
}

// defaultSessionName names a freshly bootstrapped session after the OS
// user running openmux, sanitized the same way the teacher's pipe/mutex
// names were.
func defaultSessionName() string {
	return userutil.SanitizeUsername(os.Getenv("USER"))
}

// spawnPane asks the shim to create a fresh PTY for paneID, registers the
// (session, pane, pty) mapping so a later reattach can adopt it, and
// records the runtime entry.
func (a *App) spawnPane(ctx context.Context, paneID, cwd string) (string, error) {
	var result struct {
		PtyID string `json:"ptyId"`
	}
	shellName := defaultShell()
	err := a.shim.Request(ctx, "createPty", map[string]any{
		"cols": 80, "rows": 24, "cwd": cwd, "shell": shellName,
	}, &result)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	sessionID := a.sessionID
	a.panes[paneID] = &paneRuntime{ptyID: result.PtyID, cwd: cwd}
	a.mu.Unlock()

	_ = a.shim.Request(ctx, "registerPane", map[string]string{
		"sessionId": sessionID, "paneId": paneID, "ptyId": result.PtyID,
	}, nil)

	return result.PtyID, nil
}

// adoptPane looks up an existing pty mapping for (sessionID, paneID) via
// the shim's session mapping table and resumes it; if none is mapped it
// spawns a fresh PTY rooted at cwd instead, implementing the
// sessionstore.PTYCoordinator contract inline (this App is its own
// coordinator — it owns both the shim connection and the layout state
// sessionstore.Switch needs adopted pty ids for).
func (a *App) adoptPane(ctx context.Context, sessionID, paneID, cwd string) (string, bool, error) {
	var mapping struct {
		Entries []struct {
			PaneID string `json:"paneId"`
			PtyID  string `json:"ptyId"`
		} `json:"entries"`
	}
	if err := a.shim.Request(ctx, "getSessionMapping", map[string]string{"sessionId": sessionID}, &mapping); err != nil {
		return "", false, err
	}
	for _, e := range mapping.Entries {
		if e.PaneID == paneID {
			if _, err := a.shim.Resume(ctx, e.PtyID); err != nil {
				return "", false, err
			}
			return e.PtyID, true, nil
		}
	}
	ptyID, err := a.spawnPane(ctx, paneID, cwd)
	if err != nil {
		return "", false, err
	}
	return ptyID, true, nil
}

// SuspendSession implements sessionstore.PTYCoordinator, pausing update
// delivery for every pane the given session currently has mapped.
func (a *App) SuspendSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var mapping struct {
		Entries []struct {
			PaneID string `json:"paneId"`
			PtyID  string `json:"ptyId"`
		} `json:"entries"`
	}
	if err := a.shim.Request(ctx, "getSessionMapping", map[string]string{"sessionId": sessionID}, &mapping); err != nil {
		return err
	}
	for _, e := range mapping.Entries {
		if err := a.shim.Suspend(ctx, e.PtyID); err != nil {
			slog.Warn("[openmux] suspend pty failed", "ptyId", e.PtyID, "error", err)
		}
	}
	return nil
}

// Adopt implements sessionstore.PTYCoordinator.
func (a *App) Adopt(sessionID, paneID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.adoptPane(ctx, sessionID, paneID, "")
}

// snapshotDocument renders the App's live state into a sessionstore
// Document, for AutoSaver's periodic/version-triggered flush.
func (a *App) snapshotDocument() (sessionstore.Document, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.layoutState == nil {
		return sessionstore.Document{}, false
	}
	doc := sessionstore.Document{
		Metadata:          sessionstore.Metadata{ID: a.sessionID, Name: a.sessionName},
		ActiveWorkspaceID: a.layoutState.ActiveWorkspaceID,
	}
	ids := make([]string, 0, len(a.layoutState.Workspaces))
	for id := range a.layoutState.Workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ws := a.layoutState.Workspaces[id]
		wd := sessionstore.WorkspaceDoc{Workspace: *ws}
		for _, paneID := range layout.LeafIDs(ws.Root) {
			pr := a.panes[paneID]
			rec := sessionstore.PaneRecord{ID: paneID}
			if pr != nil {
				rec.Title, rec.Cwd = pr.title, pr.cwd
			}
			wd.Panes = append(wd.Panes, rec)
		}
		doc.Workspaces = append(doc.Workspaces, wd)
	}
	return doc, true
}

// requestRender schedules a redraw without blocking if one is already
// pending — the render loop coalesces bursts of shim updates into a
// single frame.
func (a *App) requestRender() {
	select {
	case a.needsRender <- struct{}{}:
	default:
	}
}

// handleShimEvent is the onEvent callback passed to shimclient.Connect: it
// updates title/cwd bookkeeping and schedules a redraw for every event
// that can change what's on screen.
func (a *App) handleShimEvent(event, ptyID string, payload []byte) {
	switch event {
	case "ptyUpdate", "ptyKitty":
		a.requestRender()
	case "ptyTitle":
		var body struct {
			Title string `json:"title"`
		}
		if err := unmarshalJSON(payload, &body); err == nil {
			a.mu.Lock()
			for _, pr := range a.panes {
				if pr.ptyID == ptyID {
					pr.title = body.Title
				}
			}
			a.mu.Unlock()
			a.requestRender()
		}
	case "ptyExit":
		a.requestRender()
	}
}

// onDetached fires when the shim connection drops unexpectedly (the shim
// process crashed or was killed out from under the UI), distinct from a
// user-initiated detach.
func (a *App) onDetached() {
	select {
	case <-a.detach:
	default:
		close(a.detach)
	}
}

func newPaneID() string {
	return uuid.NewString()
}

// defaultShell resolves the shell a new pane spawns, per $SHELL with a
// POSIX fallback.
func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func unmarshalJSON(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}

const defaultWorkspaceID = "1"

// focusedPaneID returns the active workspace's focused pane id, or "" if
// there is none.
func (a *App) focusedPaneID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws := a.layoutState.ActiveWorkspace()
	if ws == nil {
		return ""
	}
	return ws.FocusedPaneID
}

// resizeFocused recomputes the active workspace's geometry for the new
// terminal size and pushes a resize to every live pane's PTY so its
// underlying program sees the new dimensions, not just the redrawn grid.
func (a *App) resizeFocused(ctx context.Context, cols, rows int) {
	a.mu.Lock()
	ws := a.layoutState.ActiveWorkspace()
	if ws == nil {
		a.mu.Unlock()
		return
	}
	viewport := layout.Rect{Width: cols, Height: maxInt(rows-statusBarRows, 0)}
	a.layoutState.Viewport = viewport
	geom := layout.Geometry(ws, viewport, a.layoutState.Config)
	panes := make(map[string]*paneRuntime, len(a.panes))
	for id, pr := range a.panes {
		panes[id] = pr
	}
	a.mu.Unlock()

	for paneID, rect := range geom {
		pr := panes[paneID]
		if pr == nil || rect.Width <= 0 || rect.Height <= 0 {
			continue
		}
		err := a.shim.Request(ctx, "resize", map[string]any{
			"ptyId": pr.ptyID, "cols": rect.Width, "rows": rect.Height,
		}, nil)
		if err != nil {
			slog.Debug("[openmux] resize failed", "ptyId", pr.ptyID, "error", err)
		}
	}
}

func (a *App) ptyForPane(paneID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pr, ok := a.panes[paneID]
	if !ok {
		return "", false
	}
	return pr.ptyID, true
}

// dirtyGridFor returns a shallow copy of the given pty's currently cached
// screen grid, for slicing into per-pane rectangles during render.
func (a *App) dirtyGridFor(ptyID string) wire.FullState {
	return a.shim.State(ptyID).Snapshot()
}
