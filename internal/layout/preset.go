package layout

// Preset identifies a named layout arrangement, used by session-template
// instantiation. Ported from
// the teacher's LayoutPreset/BuildPresetLayout.
type Preset string

const (
	PresetEvenHorizontal Preset = "even-horizontal"
	PresetEvenVertical   Preset = "even-vertical"
	PresetMainVertical   Preset = "main-vertical"
	PresetMainHorizontal Preset = "main-horizontal"
	PresetTiled          Preset = "tiled"
)

// BuildPreset creates a split tree from a preset for the given pane ids, in
// the order given.
func BuildPreset(preset Preset, paneIDs []string) *Node {
	if len(paneIDs) == 0 {
		return nil
	}
	if len(paneIDs) == 1 {
		return newLeaf(paneIDs[0])
	}
	switch preset {
	case PresetEvenHorizontal:
		return buildEvenSplit(paneIDs, SplitHorizontal)
	case PresetEvenVertical:
		return buildEvenSplit(paneIDs, SplitVertical)
	case PresetMainVertical:
		return buildMainSplit(paneIDs, SplitHorizontal, SplitVertical)
	case PresetMainHorizontal:
		return buildMainSplit(paneIDs, SplitVertical, SplitHorizontal)
	case PresetTiled:
		return buildTiledLayout(paneIDs)
	default:
		return buildEvenSplit(paneIDs, SplitHorizontal)
	}
}

func buildEvenSplit(paneIDs []string, dir Direction) *Node {
	if len(paneIDs) == 1 {
		return newLeaf(paneIDs[0])
	}
	mid := len(paneIDs) / 2
	return &Node{
		Type:      NodeSplit,
		Direction: dir,
		Ratio:     float64(mid) / float64(len(paneIDs)),
		Children:  [2]*Node{buildEvenSplit(paneIDs[:mid], dir), buildEvenSplit(paneIDs[mid:], dir)},
	}
}

// buildMainSplit creates a main pane (60%) plus an evenly split group of
// the rest.
func buildMainSplit(paneIDs []string, mainDir, subDir Direction) *Node {
	if len(paneIDs) <= 2 {
		return buildEvenSplit(paneIDs, mainDir)
	}
	return &Node{
		Type:      NodeSplit,
		Direction: mainDir,
		Ratio:     0.6,
		Children:  [2]*Node{newLeaf(paneIDs[0]), buildEvenSplit(paneIDs[1:], subDir)},
	}
}

// buildTiledLayout arranges panes in a roughly square grid.
func buildTiledLayout(paneIDs []string) *Node {
	n := len(paneIDs)
	if n <= 2 {
		return buildEvenSplit(paneIDs, SplitHorizontal)
	}
	cols := 2
	if n > 4 {
		cols = 3
	}
	rows := (n + cols - 1) / cols
	rowNodes := make([]*Node, 0, rows)
	for r := 0; r < rows; r++ {
		start := r * cols
		end := start + cols
		if end > n {
			end = n
		}
		rowNodes = append(rowNodes, buildEvenSplit(paneIDs[start:end], SplitHorizontal))
	}
	return buildEvenSplitNodes(rowNodes, SplitVertical)
}

func buildEvenSplitNodes(nodes []*Node, dir Direction) *Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	mid := len(nodes) / 2
	return &Node{
		Type:      NodeSplit,
		Direction: dir,
		Ratio:     float64(mid) / float64(len(nodes)),
		Children:  [2]*Node{buildEvenSplitNodes(nodes[:mid], dir), buildEvenSplitNodes(nodes[mid:], dir)},
	}
}
