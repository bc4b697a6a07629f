package scan

import (
	"sync"

	"github.com/Kighlander1975/dbe-exercise-file-upload/metrics"
)

type cacheKey struct {
	path  string
	depth int
}

// snapshot is the stored, pointer free form of a node. Cached levels never
// carry children or the active flag: a level is only reused for directories
// off the active route, where neither can be set.
type snapshot struct {
	Name        string
	Path        string
	Depth       int
	HasChildren bool
}

// Cache remembers the subdirectory level built for a (path, depth) pair.
// One Cache is meant to live for a single browse request.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]snapshot
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey][]snapshot)}
}

// Get returns fresh nodes for a cached level.
func (c *Cache) Get(path string, depth int) ([]*Node, bool) {
	c.mu.RLock()
	snaps, ok := c.entries[cacheKey{normalize(path), depth}]
	c.mu.RUnlock()

	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}
	metrics.RecordCacheHit()

	nodes := make([]*Node, len(snaps))
	for i, s := range snaps {
		nodes[i] = &Node{
			Name:        s.Name,
			Path:        s.Path,
			Depth:       s.Depth,
			Children:    []*Node{},
			HasChildren: s.HasChildren,
		}
	}
	return nodes, true
}

// Put stores a computed level. The latest writer wins.
func (c *Cache) Put(path string, depth int, nodes []*Node) {
	snaps := make([]snapshot, len(nodes))
	for i, n := range nodes {
		snaps[i] = snapshot{Name: n.Name, Path: n.Path, Depth: n.Depth, HasChildren: n.HasChildren}
	}

	c.mu.Lock()
	c.entries[cacheKey{normalize(path), depth}] = snaps
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey][]snapshot)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
