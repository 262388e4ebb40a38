package sessionstore

import (
	"errors"
	"testing"

	"github.com/openmux/openmux/internal/layout"
)

func TestSaveLoadListDeleteTemplate(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tpl := Template{ID: "dev", Name: "Dev layout", Preset: layout.PresetMainVertical, Panes: 3}
	if err := s.SaveTemplate(tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}

	got, err := s.LoadTemplate("dev")
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if got != tpl {
		t.Fatalf("load template = %+v, want %+v", got, tpl)
	}

	list, err := s.ListTemplates()
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(list) != 1 || list[0].ID != "dev" {
		t.Fatalf("list templates = %+v", list)
	}

	if err := s.DeleteTemplate("dev"); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := s.LoadTemplate("dev"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("load deleted template: err = %v, want ErrTemplateNotFound", err)
	}
}

func TestListTemplatesEmptyDirNotError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	list, err := s.ListTemplates()
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("list templates = %+v, want empty", list)
	}
}

func TestInstantiateBuildsWorkspaceWithPanesPerLeaf(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tpl := Template{ID: "tri", Preset: layout.PresetEvenHorizontal, Panes: 3}

	n := 0
	newID := func() string {
		n++
		return "pane-" + string(rune('a'+n-1))
	}
	wd := s.Instantiate("ws-1", tpl, newID)

	if wd.Workspace.ID != "ws-1" {
		t.Fatalf("workspace id = %q", wd.Workspace.ID)
	}
	if len(wd.Panes) != 3 {
		t.Fatalf("panes = %+v, want 3 entries", wd.Panes)
	}
	leaves := layout.LeafIDs(wd.Workspace.Root)
	if len(leaves) != 3 {
		t.Fatalf("leaf ids = %v, want 3", leaves)
	}
	if wd.Workspace.FocusedPaneID != leaves[0] {
		t.Fatalf("focused pane = %q, want first leaf %q", wd.Workspace.FocusedPaneID, leaves[0])
	}
}
