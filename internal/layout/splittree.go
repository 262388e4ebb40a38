package layout

// splitLeaf replaces the leaf naming targetPaneID with a new split whose
// two children are the original pane and newPaneID, in direction dir.
// Ported from the teacher's splitLayout, generalized from int pane ids to
// opaque string ids.
func splitLeaf(root *Node, targetPaneID string, dir Direction, newPaneID string) (*Node, bool) {
	if root == nil {
		return nil, false
	}
	if root.Type == NodeLeaf && root.PaneID == targetPaneID {
		return &Node{
			Type:      NodeSplit,
			Direction: dir,
			Ratio:     0.5,
			Children:  [2]*Node{newLeaf(targetPaneID), newLeaf(newPaneID)},
		}, true
	}
	if root.Type != NodeSplit {
		return root, false
	}
	if next, ok := splitLeaf(root.Children[0], targetPaneID, dir, newPaneID); ok {
		root.Children[0] = next
		return root, true
	}
	if next, ok := splitLeaf(root.Children[1], targetPaneID, dir, newPaneID); ok {
		root.Children[1] = next
		return root, true
	}
	return root, false
}

// removeLeaf removes the leaf naming paneID, collapsing the split above it
// (the surviving sibling takes its place) so a tree with N panes always has
// exactly N leaves and no split node with fewer than two children. Ported
// from the teacher's removePaneFromLayout.
func removeLeaf(root *Node, paneID string) (*Node, bool) {
	if root == nil {
		return nil, false
	}
	if root.Type == NodeLeaf {
		if root.PaneID == paneID {
			return nil, true
		}
		return root, false
	}
	if root.Type != NodeSplit {
		return root, false
	}

	left, removedLeft := removeLeaf(root.Children[0], paneID)
	right, removedRight := removeLeaf(root.Children[1], paneID)
	if !removedLeft && !removedRight {
		return root, false
	}
	root.Children[0] = left
	root.Children[1] = right

	switch {
	case left == nil && right == nil:
		return nil, true
	case left == nil:
		return right, true
	case right == nil:
		return left, true
	default:
		return root, true
	}
}

// swapLeaves exchanges the pane ids of two leaves in place, moving a pane
// to a different tree position without rebuilding the split structure. No
// reducer action calls it. Ported from the teacher's swapPaneIDsInLayout.
func swapLeaves(root *Node, a, b string) *Node {
	if root == nil {
		return nil
	}
	if root.Type == NodeLeaf {
		switch root.PaneID {
		case a:
			root.PaneID = b
		case b:
			root.PaneID = a
		}
		return root
	}
	root.Children[0] = swapLeaves(root.Children[0], a, b)
	root.Children[1] = swapLeaves(root.Children[1], a, b)
	return root
}

// leafIDs returns every pane id in the tree, in left-to-right leaf order.
func leafIDs(root *Node) []string {
	if root == nil {
		return nil
	}
	if root.Type == NodeLeaf {
		return []string{root.PaneID}
	}
	out := leafIDs(root.Children[0])
	return append(out, leafIDs(root.Children[1])...)
}

// LeafIDs is the exported form of leafIDs, for callers outside this package
// (the UI's pane locator and app state) that need a workspace's
// pane ids without reaching into tree internals.
func LeafIDs(root *Node) []string {
	return leafIDs(root)
}

// findLeaf reports whether paneID names a leaf in the tree.
func findLeaf(root *Node, paneID string) bool {
	if root == nil {
		return false
	}
	if root.Type == NodeLeaf {
		return root.PaneID == paneID
	}
	return findLeaf(root.Children[0], paneID) || findLeaf(root.Children[1], paneID)
}
