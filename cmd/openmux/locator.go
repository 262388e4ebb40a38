package main

import (
	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/layout"
)

// resolveWorkspace returns the named workspace, or the active one when
// workspaceID is empty.
func (a *App) resolveWorkspace(workspaceID string) (*layout.Workspace, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if workspaceID == "" {
		workspaceID = a.layoutState.ActiveWorkspaceID
	}
	return a.layoutState.Workspaces[workspaceID], workspaceID
}

// FocusedPane implements control.Locator.
func (a *App) FocusedPane(workspaceID string) (string, error) {
	ws, _ := a.resolveWorkspace(workspaceID)
	if ws == nil || ws.FocusedPaneID == "" {
		return "", control.NewRequestError(control.ErrNotFound, "workspace has no focused pane")
	}
	return ws.FocusedPaneID, nil
}

// MainPane implements control.Locator: the leftmost/topmost leaf in the
// workspace's split tree, matching the "main" pane of a main-vertical or
// main-horizontal preset.
func (a *App) MainPane(workspaceID string) (string, error) {
	ws, _ := a.resolveWorkspace(workspaceID)
	if ws == nil {
		return "", control.NewRequestError(control.ErrNotFound, "no such workspace")
	}
	ids := layout.LeafIDs(ws.Root)
	if len(ids) == 0 {
		return "", control.NewRequestError(control.ErrNotFound, "workspace has no panes")
	}
	return ids[0], nil
}

// StackPane implements control.Locator: the 1-based Nth pane in the
// workspace's stacked order, falling back to leaf order when the
// workspace has never entered stacked mode.
func (a *App) StackPane(workspaceID string, n int) (string, error) {
	ws, _ := a.resolveWorkspace(workspaceID)
	if ws == nil {
		return "", control.NewRequestError(control.ErrNotFound, "no such workspace")
	}
	order := ws.StackPanes
	if len(order) == 0 {
		order = layout.LeafIDs(ws.Root)
	}
	if n < 1 || n > len(order) {
		return "", control.NewRequestError(control.ErrNotFound, "stack index out of range")
	}
	return order[n-1], nil
}

// FindPaneByID implements control.Locator.
func (a *App) FindPaneByID(paneID, workspaceID string) (string, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	matches := 0
	found := ""
	for wsID, ws := range a.layoutState.Workspaces {
		if workspaceID != "" && wsID != workspaceID {
			continue
		}
		for _, id := range layout.LeafIDs(ws.Root) {
			if id == paneID {
				matches++
				found = id
			}
		}
	}
	if matches == 0 {
		return "", false, false
	}
	if matches > 1 {
		return "", false, true
	}
	return found, true, false
}

// FindPaneByPtyID implements control.Locator.
func (a *App) FindPaneByPtyID(ptyID, workspaceID string) (string, bool, bool) {
	a.mu.Lock()
	paneID := ""
	for pid, pr := range a.panes {
		if pr.ptyID == ptyID {
			paneID = pid
			break
		}
	}
	a.mu.Unlock()
	if paneID == "" {
		return "", false, false
	}
	return a.FindPaneByID(paneID, workspaceID)
}
