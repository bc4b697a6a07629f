package scan

import (
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kighlander1975/dbe-exercise-file-upload/metrics"
)

const DefaultMaxDepth = 10

// Builder produces navigation tree levels. Only directories on the route to
// the active path are descended; every other directory is a placeholder whose
// HasChildren comes from a shallow probe.
type Builder struct {
	MaxDepth    int
	Policy      HiddenPolicy
	Cache       *Cache
	Concurrency int
}

func NewBuilder(policy HiddenPolicy, cache *Cache) *Builder {
	return &Builder{
		MaxDepth:    DefaultMaxDepth,
		Policy:      policy,
		Cache:       cache,
		Concurrency: DefaultConcurrency(),
	}
}

// NewTree builds the tree below base for the given active directory and
// makes sure the route down to it is expanded and marked.
func (b *Builder) NewTree(base, active string) *Tree {
	start := time.Now()
	defer func() { metrics.RecordTreeBuild(time.Since(start)) }()

	t := newTree(base, b)
	t.Roots = t.adopt(b.Build(base, active, 0))
	t.EnsureExpanded(active)
	return t
}

// Build returns the subdirectories of base at the given depth. Directories
// that are the active path or one of its ancestors get their children built
// recursively. Unreadable bases and depth >= MaxDepth give an empty level.
func (b *Builder) Build(base, active string, depth int) []*Node {
	if depth >= b.maxDepth() {
		return []*Node{}
	}

	normBase := normalize(base)
	normActive := ""
	if active != "" {
		normActive = normalize(active)
	}

	routed := onRoute(normBase, normActive)
	if !routed && b.Cache != nil {
		if nodes, ok := b.Cache.Get(normBase, depth); ok {
			return nodes
		}
	}

	dirs := subdirs(base, b.Policy)
	nodes := make([]*Node, 0, len(dirs))

	var probes errgroup.Group
	probes.SetLimit(b.concurrency())

	for _, d := range dirs {
		path := filepath.Join(base, d.Name())
		normPath := normalize(path)

		node := &Node{
			Name:     d.Name(),
			Path:     path,
			Depth:    depth,
			Children: []*Node{},
			IsActive: normActive != "" && normPath == normActive,
		}
		if onRoute(normPath, normActive) {
			node.Children = b.Build(path, active, depth+1)
			node.HasChildren = len(node.Children) > 0
		}
		if !node.HasChildren {
			probes.Go(func() error {
				node.HasChildren = hasSubdir(node.Path, b.Policy)
				return nil
			})
		}
		nodes = append(nodes, node)
	}
	_ = probes.Wait()

	if b.Cache != nil {
		b.Cache.Put(normBase, depth, nodes)
	}
	return nodes
}

func (b *Builder) maxDepth() int {
	if b.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return b.MaxDepth
}

func (b *Builder) concurrency() int {
	if b.Concurrency <= 0 {
		return DefaultConcurrency()
	}
	return b.Concurrency
}
