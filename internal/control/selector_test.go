package control

import "testing"

type fakeLocator struct {
	focused  map[string]string
	main     map[string]string
	stack    map[string][]string
	byID     map[string][]string // paneID -> workspaceIDs it appears in
	byPtyID  map[string][]string // ptyID -> pane ids it resolves to (cross-workspace)
}

func (f *fakeLocator) FocusedPane(workspaceID string) (string, error) {
	if p, ok := f.focused[workspaceID]; ok {
		return p, nil
	}
	return "", NewRequestError(ErrNotFound, "no focused pane")
}

func (f *fakeLocator) MainPane(workspaceID string) (string, error) {
	if p, ok := f.main[workspaceID]; ok {
		return p, nil
	}
	return "", NewRequestError(ErrNotFound, "no main pane")
}

func (f *fakeLocator) StackPane(workspaceID string, n int) (string, error) {
	stack, ok := f.stack[workspaceID]
	if !ok || n < 1 || n > len(stack) {
		return "", NewRequestError(ErrNotFound, "stack index out of range")
	}
	return stack[n-1], nil
}

func (f *fakeLocator) FindPaneByID(paneID, workspaceID string) (string, bool, bool) {
	workspaces, ok := f.byID[paneID]
	if !ok {
		return "", false, false
	}
	if workspaceID != "" {
		for _, ws := range workspaces {
			if ws == workspaceID {
				return paneID, true, false
			}
		}
		return "", false, false
	}
	if len(workspaces) > 1 {
		return "", false, true
	}
	return paneID, true, false
}

func (f *fakeLocator) FindPaneByPtyID(ptyID, workspaceID string) (string, bool, bool) {
	panes, ok := f.byPtyID[ptyID]
	if !ok {
		return "", false, false
	}
	if workspaceID == "" && len(panes) > 1 {
		return "", false, true
	}
	return panes[0], true, false
}

func TestResolveSelectorFocusedAndMain(t *testing.T) {
	loc := &fakeLocator{
		focused: map[string]string{"ws1": "pane-f"},
		main:    map[string]string{"ws1": "pane-m"},
	}
	if got, err := ResolveSelector(loc, "", "ws1"); err != nil || got != "pane-f" {
		t.Fatalf("empty selector: got %q, err %v", got, err)
	}
	if got, err := ResolveSelector(loc, "focused", "ws1"); err != nil || got != "pane-f" {
		t.Fatalf("focused selector: got %q, err %v", got, err)
	}
	if got, err := ResolveSelector(loc, "main", "ws1"); err != nil || got != "pane-m" {
		t.Fatalf("main selector: got %q, err %v", got, err)
	}
}

func TestResolveSelectorStack(t *testing.T) {
	loc := &fakeLocator{stack: map[string][]string{"ws1": {"pane-a", "pane-b", "pane-c"}}}
	got, err := ResolveSelector(loc, "stack:2", "ws1")
	if err != nil || got != "pane-b" {
		t.Fatalf("stack:2 = %q, err %v", got, err)
	}
	if _, err := ResolveSelector(loc, "stack:0", "ws1"); err == nil {
		t.Fatalf("stack:0 should be invalid (1-based)")
	}
	if _, err := ResolveSelector(loc, "stack:x", "ws1"); err == nil {
		t.Fatalf("stack:x should be invalid")
	}
}

func TestResolveSelectorPaneAndBareID(t *testing.T) {
	loc := &fakeLocator{byID: map[string][]string{"p1": {"ws1"}}}
	if got, err := ResolveSelector(loc, "pane:p1", "ws1"); err != nil || got != "p1" {
		t.Fatalf("pane:p1 = %q, err %v", got, err)
	}
	if got, err := ResolveSelector(loc, "p1", "ws1"); err != nil || got != "p1" {
		t.Fatalf("bare p1 = %q, err %v", got, err)
	}
	if _, err := ResolveSelector(loc, "pane:missing", "ws1"); err == nil {
		t.Fatalf("missing pane should error")
	}
}

func TestResolveSelectorAmbiguousAcrossWorkspaces(t *testing.T) {
	loc := &fakeLocator{byID: map[string][]string{"p1": {"ws1", "ws2"}}}
	_, err := ResolveSelector(loc, "pane:p1", "")
	reqErr, ok := err.(*RequestError)
	if !ok || reqErr.Code != ErrAmbiguous {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
}

func TestResolveSelectorPtyID(t *testing.T) {
	loc := &fakeLocator{byPtyID: map[string][]string{"pty-1": {"pane-x"}}}
	got, err := ResolveSelector(loc, "pty:pty-1", "ws1")
	if err != nil || got != "pane-x" {
		t.Fatalf("pty:pty-1 = %q, err %v", got, err)
	}
}
