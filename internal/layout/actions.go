package layout

// ActionType discriminates which reducer transition an Action requests.
type ActionType string

const (
	ActionNewPane        ActionType = "NEW_PANE"
	ActionSplitPane      ActionType = "SPLIT_PANE"
	ActionClosePane      ActionType = "CLOSE_PANE"
	ActionFocus          ActionType = "FOCUS"
	ActionSetLayoutMode  ActionType = "SET_LAYOUT_MODE"
	ActionToggleZoom     ActionType = "TOGGLE_ZOOM"
	ActionSwitchWorkspace ActionType = "SWITCH_WORKSPACE"
	ActionSetViewport    ActionType = "SET_VIEWPORT"
	ActionLoadSession    ActionType = "LOAD_SESSION"
	ActionClearAll       ActionType = "CLEAR_ALL"
)

// FocusTarget is either a relative direction or an explicit pane id; FOCUS
// accepts either form per spec §4.G.
type FocusTarget struct {
	Direction Direction // "" when PaneID is set instead
	PaneID    string
}

// Action is a single reducer input. Only the fields relevant to Type are
// read; the rest are zero. A plain tagged struct (rather than an interface
// per action) keeps the reducer's switch exhaustive and the call sites
// that build actions simple to construct inline.
type Action struct {
	Type ActionType

	// NEW_PANE / SPLIT_PANE
	NewPaneID string
	TargetPaneID string // NEW_PANE's/SPLIT_PANE's anchor leaf; CLOSE_PANE's target
	Direction    Direction

	// FOCUS
	FocusTarget FocusTarget

	// SET_LAYOUT_MODE
	Mode Mode

	// SWITCH_WORKSPACE / LOAD_SESSION
	WorkspaceID string

	// SET_VIEWPORT
	Viewport Rect

	// LOAD_SESSION
	Workspaces        map[string]*Workspace
	ActiveWorkspaceID string
}

// Reduce applies action to state and returns the resulting state. state is
// mutated in place and also returned, matching the teacher's in-place tree
// mutation style (splitLayout/removePaneFromLayout both mutate their
// receiver) rather than a fully persistent/immutable tree.
func Reduce(state *State, action Action) *State {
	switch action.Type {
	case ActionNewPane:
		return reduceNewPane(state, action)
	case ActionSplitPane:
		return reduceSplitPane(state, action)
	case ActionClosePane:
		return reduceClosePane(state, action)
	case ActionFocus:
		return reduceFocus(state, action)
	case ActionSetLayoutMode:
		return reduceSetLayoutMode(state, action)
	case ActionToggleZoom:
		return reduceToggleZoom(state, action)
	case ActionSwitchWorkspace:
		return reduceSwitchWorkspace(state, action)
	case ActionSetViewport:
		return reduceSetViewport(state, action)
	case ActionLoadSession:
		return reduceLoadSession(state, action)
	case ActionClearAll:
		return reduceClearAll(state)
	default:
		return state
	}
}

// reduceNewPane adds a pane with no particular split anchor: the first
// pane in an empty workspace becomes its root; afterward it splits the
// currently focused leaf, horizontally by default.
func reduceNewPane(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil {
		return state
	}
	if ws.Root == nil {
		ws.Root = newLeaf(action.NewPaneID)
		ws.FocusedPaneID = action.NewPaneID
		bumpStructure(state)
		return state
	}
	target := action.TargetPaneID
	if target == "" {
		target = ws.FocusedPaneID
	}
	root, ok := splitLeaf(ws.Root, target, SplitHorizontal, action.NewPaneID)
	if !ok {
		return state
	}
	ws.Root = root
	ws.FocusedPaneID = action.NewPaneID
	bumpStructure(state)
	return state
}

func reduceSplitPane(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil {
		return state
	}
	target := action.TargetPaneID
	if target == "" {
		target = ws.FocusedPaneID
	}
	if ws.Root == nil {
		ws.Root = newLeaf(action.NewPaneID)
		ws.FocusedPaneID = action.NewPaneID
		bumpStructure(state)
		return state
	}
	dir := action.Direction
	if dir == "" {
		dir = SplitHorizontal
	}
	root, ok := splitLeaf(ws.Root, target, dir, action.NewPaneID)
	if !ok {
		return state
	}
	ws.Root = root
	ws.FocusedPaneID = action.NewPaneID
	bumpStructure(state)
	return state
}

func reduceClosePane(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil || ws.Root == nil {
		return state
	}
	remaining := leafIDs(ws.Root)
	root, removed := removeLeaf(ws.Root, action.TargetPaneID)
	if !removed {
		return state
	}
	ws.Root = root
	if ws.FocusedPaneID == action.TargetPaneID {
		ws.FocusedPaneID = nextFocusAfterClose(remaining, action.TargetPaneID)
	}
	ws.StackPanes = removeString(ws.StackPanes, action.TargetPaneID)
	bumpStructure(state)
	return state
}

// nextFocusAfterClose picks the pane adjacent to removed (in the tree's
// leaf order) as the new focus, or "" if none remain.
func nextFocusAfterClose(remaining []string, removed string) string {
	idx := -1
	for i, id := range remaining {
		if id == removed {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	others := make([]string, 0, len(remaining)-1)
	for _, id := range remaining {
		if id != removed {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return ""
	}
	if idx < len(others) {
		return others[idx]
	}
	return others[len(others)-1]
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func reduceFocus(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil || ws.Root == nil {
		return state
	}
	if action.FocusTarget.PaneID != "" {
		if findLeaf(ws.Root, action.FocusTarget.PaneID) {
			ws.FocusedPaneID = action.FocusTarget.PaneID
		}
		return state
	}
	ids := leafIDs(ws.Root)
	if len(ids) == 0 {
		return state
	}
	cur := -1
	for i, id := range ids {
		if id == ws.FocusedPaneID {
			cur = i
			break
		}
	}
	if cur < 0 {
		ws.FocusedPaneID = ids[0]
		return state
	}
	switch action.FocusTarget.Direction {
	case SplitHorizontal:
		ws.FocusedPaneID = ids[(cur+1)%len(ids)]
	case SplitVertical:
		ws.FocusedPaneID = ids[(cur-1+len(ids))%len(ids)]
	}
	return state
}

func reduceSetLayoutMode(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil {
		return state
	}
	ws.Mode = action.Mode
	bumpGeometry(state)
	return state
}

func reduceToggleZoom(state *State, action Action) *State {
	ws := state.ActiveWorkspace()
	if ws == nil {
		return state
	}
	ws.Zoomed = !ws.Zoomed
	bumpGeometry(state)
	return state
}

func reduceSwitchWorkspace(state *State, action Action) *State {
	if _, ok := state.Workspaces[action.WorkspaceID]; !ok {
		return state
	}
	state.ActiveWorkspaceID = action.WorkspaceID
	bumpGeometry(state)
	return state
}

func reduceSetViewport(state *State, action Action) *State {
	if state.Viewport == action.Viewport {
		return state
	}
	state.Viewport = action.Viewport
	bumpGeometry(state)
	return state
}

func reduceLoadSession(state *State, action Action) *State {
	state.Workspaces = action.Workspaces
	state.ActiveWorkspaceID = action.ActiveWorkspaceID
	bumpStructure(state)
	return state
}

func reduceClearAll(state *State) *State {
	state.Workspaces = make(map[string]*Workspace)
	state.ActiveWorkspaceID = ""
	bumpStructure(state)
	return state
}

// bumpStructure marks a structural change to the split tree (adds/removes a
// pane, reparents, or swaps its layout); a structural change always implies
// rectangles must be recomputed too.
func bumpStructure(state *State) {
	state.LayoutVersion++
	state.LayoutGeometryVersion++
}

// bumpGeometry marks a change that only affects computed rectangles (zoom,
// viewport resize, stacked-mode toggle, workspace switch) without altering
// the split tree itself.
func bumpGeometry(state *State) {
	state.LayoutGeometryVersion++
}
