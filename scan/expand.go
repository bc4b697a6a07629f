package scan

import "strings"

// EnsureExpanded materializes the route from the tree base down to target,
// one level at a time, then marks target as the only active node. Segments
// are matched case-insensitively, preferring an exact match. Expansion stops
// quietly at the deepest ancestor that exists in the tree.
func (t *Tree) EnsureExpanded(target string) {
	defer t.markActive(target)

	if target == "" {
		return
	}
	normTarget := normalize(target)
	normBase := normalize(t.Base)
	if normTarget == normBase || !onRoute(normBase, normTarget) {
		return
	}

	rel := strings.TrimPrefix(strings.TrimPrefix(normTarget, normBase), "/")
	level := t.Roots
	for _, segment := range strings.Split(rel, "/") {
		if segment == "" {
			continue
		}
		node := matchSegment(level, segment)
		if node == nil {
			return
		}
		if node.HasChildren && len(node.Children) == 0 && t.builder != nil {
			node.Children = t.adopt(t.builder.Build(node.Path, target, node.Depth+1))
		}
		level = node.Children
	}
}

func matchSegment(nodes []*Node, segment string) *Node {
	var folded *Node
	for _, n := range nodes {
		if n.Name == segment {
			return n
		}
		if folded == nil && strings.EqualFold(n.Name, segment) {
			folded = n
		}
	}
	return folded
}

// markActive clears IsActive everywhere except on the node whose normalized
// path equals target.
func (t *Tree) markActive(target string) {
	normTarget := ""
	if target != "" {
		normTarget = normalize(target)
	}
	t.Walk(func(n *Node) {
		n.IsActive = normTarget != "" && normalize(n.Path) == normTarget
	})
}
