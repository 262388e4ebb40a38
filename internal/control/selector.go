package control

import (
	"strconv"
	"strings"
)

// Locator is the seam through which selector.go resolves a pane selector
// against live UI state, kept as a narrow interface so this package never
// needs to import layout/sessionstore/ptyhost concrete types directly.
type Locator interface {
	// FocusedPane returns the focused pane id of workspaceID.
	FocusedPane(workspaceID string) (paneID string, err error)
	// MainPane returns the main (first/leader) pane id of workspaceID, per
	// the same notion of "main" the layout engine's main-vertical/
	// main-horizontal presets use.
	MainPane(workspaceID string) (paneID string, err error)
	// StackPane returns the 1-based Nth pane id in workspaceID's stack
	// order (only meaningful in stacked layout mode).
	StackPane(workspaceID string, n int) (paneID string, err error)
	// FindPaneByID resolves a bare pane id, optionally scoped to
	// workspaceID. When workspaceID is empty the search spans every
	// workspace; more than one match is reported via ok=false,
	// ambiguous=true.
	FindPaneByID(paneID, workspaceID string) (resolved string, ok bool, ambiguous bool)
	// FindPaneByPtyID resolves a PTY id to its owning pane, with the same
	// cross-workspace/ambiguity rules as FindPaneByID.
	FindPaneByPtyID(ptyID, workspaceID string) (resolved string, ok bool, ambiguous bool)
}

// ResolveSelector implements spec §4.I's pane selector grammar:
//
//	absent / "focused"   -> focused pane of workspaceID
//	"main"               -> main pane of workspaceID
//	"stack:N"            -> 1-based index into workspaceID's stack order
//	"pane:ID"            -> by pane id (cross-workspace if workspaceID == "")
//	"pty:ID"             -> by PTY id, same ambiguity rules
//	bare id              -> treated as "pane:ID"
func ResolveSelector(loc Locator, selector, workspaceID string) (paneID string, err error) {
	selector = strings.TrimSpace(selector)

	switch {
	case selector == "" || selector == "focused":
		return loc.FocusedPane(workspaceID)

	case selector == "main":
		return loc.MainPane(workspaceID)

	case strings.HasPrefix(selector, "stack:"):
		n, convErr := strconv.Atoi(strings.TrimPrefix(selector, "stack:"))
		if convErr != nil || n < 1 {
			return "", NewRequestError(ErrInvalidRequest, "stack selector must be a 1-based integer: "+selector)
		}
		return loc.StackPane(workspaceID, n)

	case strings.HasPrefix(selector, "pane:"):
		return resolveByID(loc.FindPaneByID, strings.TrimPrefix(selector, "pane:"), workspaceID)

	case strings.HasPrefix(selector, "pty:"):
		return resolveByID(loc.FindPaneByPtyID, strings.TrimPrefix(selector, "pty:"), workspaceID)

	default:
		// Bare id: treated as pane:ID.
		return resolveByID(loc.FindPaneByID, selector, workspaceID)
	}
}

func resolveByID(find func(id, workspaceID string) (string, bool, bool), id, workspaceID string) (string, error) {
	resolved, ok, ambiguous := find(id, workspaceID)
	if ambiguous {
		return "", NewRequestError(ErrAmbiguous, "selector matches more than one pane: "+id)
	}
	if !ok {
		return "", NewRequestError(ErrNotFound, "no pane matching: "+id)
	}
	return resolved, nil
}
