package layout

import "testing"

func TestNewPaneOnEmptyWorkspaceBecomesRoot(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	ws := s.ActiveWorkspace()
	if ws.Root == nil || ws.Root.Type != NodeLeaf || ws.Root.PaneID != "p1" {
		t.Fatalf("root = %+v", ws.Root)
	}
	if ws.FocusedPaneID != "p1" {
		t.Fatalf("focused = %q", ws.FocusedPaneID)
	}
	if s.LayoutVersion != 1 || s.LayoutGeometryVersion != 1 {
		t.Fatalf("versions = %d/%d", s.LayoutVersion, s.LayoutGeometryVersion)
	}
}

func TestSplitPaneCreatesSplitNode(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", Direction: SplitVertical, NewPaneID: "p2"})

	ws := s.ActiveWorkspace()
	if ws.Root.Type != NodeSplit || ws.Root.Direction != SplitVertical {
		t.Fatalf("root = %+v", ws.Root)
	}
	ids := leafIDs(ws.Root)
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("leaves = %v", ids)
	}
	if ws.FocusedPaneID != "p2" {
		t.Fatalf("focused = %q", ws.FocusedPaneID)
	}
}

func TestClosePaneCollapsesSplit(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", NewPaneID: "p2"})
	s = Reduce(s, Action{Type: ActionClosePane, TargetPaneID: "p2"})

	ws := s.ActiveWorkspace()
	if ws.Root.Type != NodeLeaf || ws.Root.PaneID != "p1" {
		t.Fatalf("root after close = %+v", ws.Root)
	}
	if ws.FocusedPaneID != "p1" {
		t.Fatalf("focused after close = %q", ws.FocusedPaneID)
	}
}

func TestFocusCyclesThroughLeaves(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", NewPaneID: "p2"})
	s = Reduce(s, Action{Type: ActionFocus, FocusTarget: FocusTarget{Direction: SplitHorizontal}})

	ws := s.ActiveWorkspace()
	if ws.FocusedPaneID != "p1" {
		t.Fatalf("focused after cycle = %q", ws.FocusedPaneID)
	}
}

func TestFocusByExplicitID(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", NewPaneID: "p2"})
	s = Reduce(s, Action{Type: ActionFocus, FocusTarget: FocusTarget{PaneID: "p1"}})

	if s.ActiveWorkspace().FocusedPaneID != "p1" {
		t.Fatalf("focused = %q", s.ActiveWorkspace().FocusedPaneID)
	}
}

func TestToggleZoomBumpsGeometryNotStructure(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	before := s.LayoutVersion
	s = Reduce(s, Action{Type: ActionToggleZoom})
	if s.LayoutVersion != before {
		t.Fatalf("layout version changed on zoom toggle: %d -> %d", before, s.LayoutVersion)
	}
	if s.LayoutGeometryVersion <= before {
		t.Fatal("expected geometry version to bump on zoom toggle")
	}
	if !s.ActiveWorkspace().Zoomed {
		t.Fatal("expected zoomed=true")
	}
}

func TestSetViewportIsIdempotentForSameRect(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionSetViewport, Viewport: Rect{Width: 80, Height: 24}})
	v1 := s.LayoutGeometryVersion
	s = Reduce(s, Action{Type: ActionSetViewport, Viewport: Rect{Width: 80, Height: 24}})
	if s.LayoutGeometryVersion != v1 {
		t.Fatalf("geometry version bumped on a no-op viewport set: %d -> %d", v1, s.LayoutGeometryVersion)
	}
}

func TestGeometrySplitsViewportByRatio(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", Direction: SplitHorizontal, NewPaneID: "p2"})

	rects := Geometry(s.ActiveWorkspace(), Rect{Width: 100, Height: 40}, DefaultGeometryConfig)
	if rects["p1"].Width+rects["p2"].Width != 100 {
		t.Fatalf("rects = %+v", rects)
	}
	if rects["p1"].Height != 40 || rects["p2"].Height != 40 {
		t.Fatalf("expected full height on both sides of a horizontal split: %+v", rects)
	}
}

func TestGeometryStackedModeGivesOnlyFocusedFullArea(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionNewPane, NewPaneID: "p1"})
	s = Reduce(s, Action{Type: ActionSplitPane, TargetPaneID: "p1", NewPaneID: "p2"})
	s.ActiveWorkspace().Mode = ModeStacked
	s.ActiveWorkspace().FocusedPaneID = "p1"

	rects := Geometry(s.ActiveWorkspace(), Rect{Width: 80, Height: 24}, DefaultGeometryConfig)
	if rects["p1"] != (Rect{Width: 80, Height: 24}) {
		t.Fatalf("focused pane rect = %+v", rects["p1"])
	}
	if rects["p2"] != (Rect{}) {
		t.Fatalf("non-focused stacked pane rect = %+v, want zero area", rects["p2"])
	}
}

func TestBuildPresetMainVerticalGivesMainPane60Percent(t *testing.T) {
	tree := BuildPreset(PresetMainVertical, []string{"a", "b", "c"})
	if tree.Type != NodeSplit || tree.Ratio != 0.6 {
		t.Fatalf("tree = %+v", tree)
	}
	if tree.Children[0].PaneID != "a" {
		t.Fatalf("main pane = %+v", tree.Children[0])
	}
}

func TestBuildPresetTiledHandlesFivePanes(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	tree := BuildPreset(PresetTiled, ids)
	got := leafIDs(tree)
	if len(got) != len(ids) {
		t.Fatalf("leaves = %v", got)
	}
}

func TestLoadSessionReplacesWorkspaces(t *testing.T) {
	s := NewState("ws1")
	newWorkspaces := map[string]*Workspace{
		"ws2": {ID: "ws2", Root: newLeaf("p9"), FocusedPaneID: "p9"},
	}
	s = Reduce(s, Action{Type: ActionLoadSession, Workspaces: newWorkspaces, ActiveWorkspaceID: "ws2"})
	if s.ActiveWorkspaceID != "ws2" {
		t.Fatalf("active workspace = %q", s.ActiveWorkspaceID)
	}
	if _, ok := s.Workspaces["ws1"]; ok {
		t.Fatal("expected ws1 to be gone after LOAD_SESSION")
	}
}

func TestClearAllEmptiesWorkspaces(t *testing.T) {
	s := NewState("ws1")
	s = Reduce(s, Action{Type: ActionClearAll})
	if len(s.Workspaces) != 0 || s.ActiveWorkspaceID != "" {
		t.Fatalf("state after clear = %+v", s)
	}
}
