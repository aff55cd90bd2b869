package plan

import (
	"fmt"
	"slices"
	"testing"
)

func TestGraphLevels(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")
	g.AddEdge("a", "d")
	g.AddEdge("a", "b") // duplicate
	g.AddNode("e")

	levels, leftover := g.Levels()
	if leftover != nil {
		t.Fatalf("leftover = %v", leftover)
	}
	want := [][]string{{"a", "e"}, {"b", "c"}, {"d"}}
	if fmt.Sprint(levels) != fmt.Sprint(want) {
		t.Errorf("Levels = %v, want %v", levels, want)
	}
	if len(g.Edges()) != 5 {
		t.Errorf("Edges = %v", g.Edges())
	}
	if !g.Isolated("e") || g.Isolated("a") {
		t.Error("Isolated mismatch")
	}
	if !slices.Equal(g.Predecessors("d"), []string{"b", "c", "a"}) {
		t.Errorf("Predecessors(d) = %v", g.Predecessors("d"))
	}
}

func TestGraphFindCycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	if c := g.FindCycle(); c != nil {
		t.Fatalf("acyclic graph reported cycle %v", c)
	}
	g.AddEdge("c", "b")
	c := g.FindCycle()
	if !slices.Equal(c, []string{"b", "c", "b"}) {
		t.Errorf("FindCycle = %v", c)
	}
	_, leftover := g.Levels()
	if !slices.Equal(leftover, []string{"b", "c"}) {
		t.Errorf("leftover = %v", leftover)
	}
}

func TestGraphSubgraph(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	sub := g.Subgraph(func(n string) bool { return n != "a" })
	if sub.Len() != 2 || len(sub.Edges()) != 1 {
		t.Errorf("Subgraph nodes=%v edges=%v", sub.Nodes(), sub.Edges())
	}
}
