// Package layout implements the pure BSP-tree layout engine (component G):
// a reducer over workspaces of split-tree panes, and a geometry function
// turning a workspace's tree into screen rectangles.
package layout

// NodeType is the split-tree node category.
type NodeType string

const (
	NodeLeaf  NodeType = "leaf"
	NodeSplit NodeType = "split"
)

// Direction is a pane split direction.
type Direction string

const (
	SplitHorizontal Direction = "horizontal"
	SplitVertical   Direction = "vertical"
)

// Node is a binary tree describing one workspace's pane arrangement. A leaf
// names a pane; a split carries a direction, a ratio (default 0.5) between
// its two children, and the children themselves.
type Node struct {
	Type      NodeType  `json:"type"`
	Direction Direction `json:"direction,omitempty"`
	Ratio     float64   `json:"ratio,omitempty"`
	PaneID    string    `json:"paneId,omitempty"`
	Children  [2]*Node  `json:"children,omitempty"`
}

func newLeaf(paneID string) *Node {
	return &Node{Type: NodeLeaf, PaneID: paneID}
}

// Clone deep-copies a tree so reducer actions can mutate a copy without
// aliasing the state a caller may still be holding.
func Clone(node *Node) *Node {
	if node == nil {
		return nil
	}
	out := &Node{Type: node.Type, Direction: node.Direction, Ratio: node.Ratio, PaneID: node.PaneID}
	out.Children[0] = Clone(node.Children[0])
	out.Children[1] = Clone(node.Children[1])
	return out
}

// Mode is a workspace's rendering mode: normal tiled geometry, or stacked
// (one pane visible at a time, others collapsed to zero area).
type Mode string

const (
	ModeTiled   Mode = "tiled"
	ModeStacked Mode = "stacked"
)

// Workspace is one pane arrangement plus its focus/zoom/stack state.
type Workspace struct {
	ID            string   `json:"id"`
	Title         string   `json:"title,omitempty"`
	Root          *Node    `json:"root"`
	FocusedPaneID string   `json:"focusedPaneId"`
	Mode          Mode     `json:"mode"`
	Zoomed        bool     `json:"zoomed"`
	StackPanes    []string `json:"stackPanes,omitempty"` // pane ids in stacked-mode order
}

// Rect is an integer screen rectangle in cell coordinates.
type Rect struct {
	X, Y, Width, Height int
}

// GeometryConfig bounds how small a pane's rectangle may shrink during
// split-ratio resolution.
type GeometryConfig struct {
	MinPaneWidth  int
	MinPaneHeight int
}

// DefaultGeometryConfig matches the teacher's implicit minimums (never
// configured, but never smaller than a 1-column/1-row pane is usable).
var DefaultGeometryConfig = GeometryConfig{MinPaneWidth: 2, MinPaneHeight: 1}

// State is the full reducer state: every workspace, which one is active,
// the last known viewport, and the two monotonic version counters a
// renderer/auto-save hook can diff against.
type State struct {
	Workspaces            map[string]*Workspace
	ActiveWorkspaceID     string
	Viewport              Rect
	Config                GeometryConfig
	LayoutVersion         uint64 // bumped on any structural change
	LayoutGeometryVersion uint64 // bumped on any rectangle change
}

// NewState builds an empty reducer state with one workspace, matching the
// starting point of a freshly created session.
func NewState(initialWorkspaceID string) *State {
	return &State{
		Workspaces: map[string]*Workspace{
			initialWorkspaceID: {ID: initialWorkspaceID, Mode: ModeTiled},
		},
		ActiveWorkspaceID: initialWorkspaceID,
		Config:            DefaultGeometryConfig,
	}
}

// ActiveWorkspace returns the currently active workspace, or nil if the
// state has none (should not happen outside of a just-constructed State
// with an invalid id).
func (s *State) ActiveWorkspace() *Workspace {
	return s.Workspaces[s.ActiveWorkspaceID]
}
