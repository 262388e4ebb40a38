package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmux/openmux/internal/layout"
)

// ErrTemplateNotFound is returned by operations naming a template id the
// store has no record of.
var ErrTemplateNotFound = errors.New("sessionstore: template not found")

// Template is a named, reusable starting point for a new workspace: a
// layout.Preset plus the pane count to build it with, persisted under
// sessions/templates/<id>.json so it survives independently of any one
// session.
type Template struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Preset layout.Preset `json:"preset"`
	Panes  int           `json:"panes"`
}

func (s *Store) templatesDir() string {
	return filepath.Join(s.dir, "templates")
}

func (s *Store) templatePath(id string) string {
	return filepath.Join(s.templatesDir(), id+".json")
}

// SaveTemplate persists a template definition, creating the templates
// directory on first use.
func (s *Store) SaveTemplate(tpl Template) error {
	if err := os.MkdirAll(s.templatesDir(), 0o700); err != nil {
		return fmt.Errorf("sessionstore: mkdir templates: %w", err)
	}
	return atomicWriteJSON(s.templatePath(tpl.ID), tpl)
}

// LoadTemplate reads a single template by id.
func (s *Store) LoadTemplate(id string) (Template, error) {
	raw, err := os.ReadFile(s.templatePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Template{}, ErrTemplateNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("sessionstore: read template %s: %w", id, err)
	}
	var tpl Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return Template{}, fmt.Errorf("sessionstore: parse template %s: %w", id, err)
	}
	return tpl, nil
}

// ListTemplates returns every persisted template, in directory order. A
// missing templates directory (no templates saved yet) is not an error.
func (s *Store) ListTemplates() ([]Template, error) {
	entries, err := os.ReadDir(s.templatesDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list templates: %w", err)
	}
	out := make([]Template, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		tpl, err := s.LoadTemplate(id)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// DeleteTemplate removes a persisted template.
func (s *Store) DeleteTemplate(id string) error {
	if err := os.Remove(s.templatePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("sessionstore: delete template %s: %w", id, err)
	}
	return nil
}

// Instantiate builds a fresh WorkspaceDoc from a template: it mints
// tpl.Panes new pane ids via newPaneID, runs layout.BuildPreset to arrange
// them, then emits an empty PaneRecord per leaf so the caller (the PTY
// coordinator) can spawn each pane's process and fill in title/cwd as it
// comes up.
func (s *Store) Instantiate(workspaceID string, tpl Template, newPaneID func() string) WorkspaceDoc {
	paneIDs := make([]string, tpl.Panes)
	for i := range paneIDs {
		paneIDs[i] = newPaneID()
	}
	root := layout.BuildPreset(tpl.Preset, paneIDs)
	ws := layout.Workspace{ID: workspaceID, Root: root, Mode: layout.ModeTiled}
	if len(paneIDs) > 0 {
		ws.FocusedPaneID = paneIDs[0]
	}

	panes := make([]PaneRecord, 0, len(paneIDs))
	for _, id := range paneIDs {
		panes = append(panes, PaneRecord{ID: id})
	}
	return WorkspaceDoc{Workspace: ws, Panes: panes}
}
