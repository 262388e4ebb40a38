// Package sessionstore persists openmux sessions to disk under
// $XDG_CONFIG_HOME/openmux/sessions (component H): an index file naming
// every known session plus one JSON document per session holding its
// workspace/layout state.
package sessionstore

import (
	"time"

	"github.com/openmux/openmux/internal/layout"
)

// Metadata is one session's directory-listing entry, persisted in index.json.
type Metadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Index is the top-level index.json document.
type Index struct {
	Sessions        []Metadata `json:"sessions"`
	ActiveSessionID string     `json:"activeSessionId"`
}

// PaneRecord is one pane's persisted identity within a workspace: its tree
// position is captured by the workspace's layout.Node, so this only needs
// to carry the fields a tree leaf alone can't (title and last cwd). It
// holds no PTY id.
type PaneRecord struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Cwd   string `json:"cwd,omitempty"`
}

// WorkspaceDoc is one workspace's persisted form: the layout.Workspace
// fields plus the per-pane metadata the layout tree itself doesn't carry.
type WorkspaceDoc struct {
	Workspace layout.Workspace `json:"workspace"`
	Panes     []PaneRecord     `json:"panes"`
}

// Document is the full per-session JSON document: <id>.json.
type Document struct {
	Metadata          Metadata       `json:"metadata"`
	Workspaces        []WorkspaceDoc `json:"workspaces"`
	ActiveWorkspaceID string         `json:"activeWorkspaceId"`
}
