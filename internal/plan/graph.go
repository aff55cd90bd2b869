package plan

import "slices"

// Edge says From must finish before To starts.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed graph over string nodes that remembers insertion
// order, so every traversal is deterministic.
type Graph struct {
	nodes []string
	known map[string]bool
	succ  map[string][]string
	pred  map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		known: make(map[string]bool),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}
}

// AddNode adds n if it is not already present.
func (g *Graph) AddNode(n string) {
	if g.known[n] {
		return
	}
	g.known[n] = true
	g.nodes = append(g.nodes, n)
}

// AddEdge adds from -> to, adding missing nodes. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if slices.Contains(g.succ[from], to) {
		return
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}

// Nodes returns nodes in insertion order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.nodes)
}

// Has reports whether n is a node.
func (g *Graph) Has(n string) bool {
	return g.known[n]
}

// Successors returns the nodes n points to.
func (g *Graph) Successors(n string) []string {
	return slices.Clone(g.succ[n])
}

// Predecessors returns the nodes pointing to n.
func (g *Graph) Predecessors(n string) []string {
	return slices.Clone(g.pred[n])
}

// Isolated reports whether n has no edges at all.
func (g *Graph) Isolated(n string) bool {
	return len(g.succ[n]) == 0 && len(g.pred[n]) == 0
}

// Edges returns every edge, grouped by source in insertion order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, from := range g.nodes {
		for _, to := range g.succ[from] {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Levels runs Kahn's algorithm. Level 0 holds nodes without predecessors;
// every node sits one level after its latest predecessor. Nodes left over
// are on or behind a cycle.
func (g *Graph) Levels() (levels [][]string, leftover []string) {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n] = len(g.pred[n])
	}

	var current []string
	for _, n := range g.nodes {
		if indeg[n] == 0 {
			current = append(current, n)
		}
	}

	placed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		placed += len(current)

		ready := make(map[string]bool)
		for _, n := range current {
			for _, s := range g.succ[n] {
				indeg[s]--
				if indeg[s] == 0 {
					ready[s] = true
				}
			}
		}
		var next []string
		for _, n := range g.nodes {
			if ready[n] {
				next = append(next, n)
			}
		}
		current = next
	}

	if placed < len(g.nodes) {
		for _, n := range g.nodes {
			if indeg[n] > 0 {
				leftover = append(leftover, n)
			}
		}
	}
	return levels, leftover
}

// FindCycle returns one cycle as a path whose first and last elements are
// equal, or nil if the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(n string) []string
	visit = func(n string) []string {
		state[n] = inStack
		stack = append(stack, n)
		for _, s := range g.succ[n] {
			switch state[s] {
			case inStack:
				i := slices.Index(stack, s)
				cycle := slices.Clone(stack[i:])
				return append(cycle, s)
			case unvisited:
				if c := visit(s); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for _, n := range g.nodes {
		if state[n] == unvisited {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

// Subgraph returns the graph induced by keep.
func (g *Graph) Subgraph(keep func(string) bool) *Graph {
	sub := NewGraph()
	for _, n := range g.nodes {
		if keep(n) {
			sub.AddNode(n)
		}
	}
	for _, e := range g.Edges() {
		if sub.Has(e.From) && sub.Has(e.To) {
			sub.AddEdge(e.From, e.To)
		}
	}
	return sub
}
