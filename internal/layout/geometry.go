package layout

// Geometry computes every pane's screen rectangle for a workspace, given
// the current viewport and config. It is a pure function: same inputs
// always produce the same output, with no dependency on reducer state
// beyond what's passed in.
//
// In stacked mode only the focused pane gets the full viewport; every
// other pane gets a zero-area rectangle but still appears in the result
// (so its PTY keeps receiving state even while not rendered).
func Geometry(ws *Workspace, viewport Rect, cfg GeometryConfig) map[string]Rect {
	out := make(map[string]Rect)
	if ws == nil || ws.Root == nil {
		return out
	}

	if ws.Zoomed && ws.FocusedPaneID != "" {
		for _, id := range leafIDs(ws.Root) {
			if id == ws.FocusedPaneID {
				out[id] = viewport
			} else {
				out[id] = Rect{}
			}
		}
		return out
	}

	if ws.Mode == ModeStacked {
		for _, id := range leafIDs(ws.Root) {
			if id == ws.FocusedPaneID {
				out[id] = viewport
			} else {
				out[id] = Rect{}
			}
		}
		return out
	}

	layoutRect(ws.Root, viewport, cfg, out)
	return out
}

// layoutRect recursively assigns rectangles, splitting a split node's area
// between its two children according to its ratio, clamped so neither side
// shrinks below the configured minimum.
func layoutRect(node *Node, rect Rect, cfg GeometryConfig, out map[string]Rect) {
	if node == nil {
		return
	}
	if node.Type == NodeLeaf {
		out[node.PaneID] = rect
		return
	}

	ratio := node.Ratio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	if node.Direction == SplitVertical {
		first, second := splitDimension(rect.Height, ratio, cfg.MinPaneHeight)
		layoutRect(node.Children[0], Rect{X: rect.X, Y: rect.Y, Width: rect.Width, Height: first}, cfg, out)
		layoutRect(node.Children[1], Rect{X: rect.X, Y: rect.Y + first, Width: rect.Width, Height: second}, cfg, out)
		return
	}

	first, second := splitDimension(rect.Width, ratio, cfg.MinPaneWidth)
	layoutRect(node.Children[0], Rect{X: rect.X, Y: rect.Y, Width: first, Height: rect.Height}, cfg, out)
	layoutRect(node.Children[1], Rect{X: rect.X + first, Y: rect.Y, Width: second, Height: rect.Height}, cfg, out)
}

// splitDimension divides total into two parts by ratio, clamping each part
// to at least min (when total allows it) so a pane never shrinks to
// unusable size from a runaway ratio or tiny viewport.
func splitDimension(total int, ratio float64, min int) (first, second int) {
	first = int(float64(total)*ratio + 0.5)
	if min > 0 {
		if first < min {
			first = min
		}
		if total-first < min {
			first = total - min
		}
	}
	if first < 0 {
		first = 0
	}
	if first > total {
		first = total
	}
	return first, total - first
}
