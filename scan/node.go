package scan

import (
	"strings"
)

// Node is one directory of the navigation tree. Children is empty until the
// directory has been materialized; HasChildren tells the UI whether an
// expander is needed.
type Node struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Depth       int     `json:"depth"`
	Children    []*Node `json:"children"`
	HasChildren bool    `json:"hasChildren"`
	IsActive    bool    `json:"isActive"`
}

// Tree owns the nodes below Base and hands out their IDs.
type Tree struct {
	Base  string  `json:"base"`
	Roots []*Node `json:"roots"`

	builder *Builder
	byID    map[int]*Node
	nextID  int
}

func newTree(base string, builder *Builder) *Tree {
	return &Tree{
		Base:    base,
		Roots:   []*Node{},
		builder: builder,
		byID:    make(map[int]*Node),
	}
}

// adopt assigns IDs to freshly built nodes and registers them.
func (t *Tree) adopt(nodes []*Node) []*Node {
	for _, n := range nodes {
		t.nextID++
		n.ID = t.nextID
		t.byID[n.ID] = n
		n.Children = t.adopt(n.Children)
	}
	return nodes
}

// Len is the number of materialized nodes.
func (t *Tree) Len() int {
	return len(t.byID)
}

// FindByID looks a node up by the ID the tree gave it.
func (t *Tree) FindByID(id int) *Node {
	return t.byID[id]
}

// Find returns the materialized node for path, or nil. Only the branch that
// leads to path is descended.
func (t *Tree) Find(path string) *Node {
	target := normalize(path)
	return findIn(t.Roots, target)
}

func findIn(nodes []*Node, target string) *Node {
	for _, n := range nodes {
		p := normalize(n.Path)
		if p == target {
			return n
		}
		// "/tmp/test/" prefixes "/tmp/test/folder/" but not "/tmp/test123/"
		if strings.HasPrefix(target+"/", p+"/") {
			return findIn(n.Children, target)
		}
	}
	return nil
}

// Walk visits every materialized node depth first.
func (t *Tree) Walk(fn func(*Node)) {
	var walk func([]*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			fn(n)
			walk(n.Children)
		}
	}
	walk(t.Roots)
}

// Active returns the node currently marked active, or nil.
func (t *Tree) Active() *Node {
	var active *Node
	t.Walk(func(n *Node) {
		if n.IsActive && active == nil {
			active = n
		}
	})
	return active
}

// normalize turns backslashes into slashes and drops trailing slashes. The
// filesystem root stays "/".
func normalize(path string) string {
	p := strings.TrimRight(strings.ReplaceAll(path, `\`, "/"), "/")
	if p == "" && strings.HasPrefix(path, "/") {
		return "/"
	}
	return p
}

// onRoute reports whether dir is path itself or one of its ancestors. Both
// arguments must already be normalized.
func onRoute(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	if dir == path {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(path, prefix)
}
