// Package capability holds the static call graph that decides which module
// may invoke which. The graph is built once from configuration and never
// changes while the broker runs.
package capability

import (
	"sort"

	"github.com/nano-cluster/nano-compose/internal/config"
)

type nameSet map[string]struct{}

func newNameSet(names []string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s nameSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type node struct {
	uses nameSet
	// nil means any caller is accepted
	onlyFrom nameSet
}

// Graph is the uses/only_from relation between modules
type Graph struct {
	nodes map[string]*node
	order []string
}

// New returns an empty graph
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// FromConfig builds the graph from module configuration. The admin module is
// always present, uses nothing and accepts any caller.
func FromConfig(cfg *config.Config) *Graph {
	g := New()
	for _, m := range cfg.Modules {
		var onlyFrom []string
		if m.Restricted {
			onlyFrom = m.OnlyFrom
			if onlyFrom == nil {
				onlyFrom = []string{}
			}
		}
		g.Add(m.Name, m.Uses, onlyFrom)
	}
	g.Add(config.AdminModule, nil, nil)
	return g
}

// Add declares a module. A nil onlyFrom leaves the module open to every
// caller; a non-nil empty slice closes it to all callers. Adding a name twice
// replaces the earlier declaration.
func (g *Graph) Add(name string, uses []string, onlyFrom []string) {
	n := &node{uses: newNameSet(uses)}
	if onlyFrom != nil {
		n.onlyFrom = newNameSet(onlyFrom)
	}
	if _, exists := g.nodes[name]; !exists {
		g.order = append(g.order, name)
	}
	g.nodes[name] = n
}

// Has reports whether the module is declared
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Modules returns declared module names in declaration order
func (g *Graph) Modules() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Uses returns the sorted callee names of a module
func (g *Graph) Uses(name string) ([]string, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.uses.sorted(), true
}

// OnlyFrom returns the sorted caller allow-list of a module. restricted is
// false when the module accepts any caller.
func (g *Graph) OnlyFrom(name string) (callers []string, restricted bool, ok bool) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, false, false
	}
	if n.onlyFrom == nil {
		return nil, false, true
	}
	return n.onlyFrom.sorted(), true, true
}

// CanInvoke reports whether from may call to: to must be in the uses of from,
// and from must be in the only_from of to when to restricts its callers.
// Unknown modules can neither call nor be called.
func (g *Graph) CanInvoke(from, to string) bool {
	src, ok := g.nodes[from]
	if !ok || !src.uses.has(to) {
		return false
	}
	dst, ok := g.nodes[to]
	if !ok {
		return false
	}
	return dst.onlyFrom == nil || dst.onlyFrom.has(from)
}
