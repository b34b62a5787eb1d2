package compiler

import (
	"fmt"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Shape classifies the topology of a flow graph.
type Shape string

const (
	ShapeLinear       Shape = "linear"
	ShapeBranching    Shape = "branching"
	ShapeDisconnected Shape = "disconnected"
	ShapeCyclic       Shape = "cyclic"
)

// graph is the indexed form of a FlowGraph. Node order is input order.
type graph struct {
	nodes    []types.FlowNode
	index    map[string]int
	out      [][]int // targets per node, in edge input order
	indegree []int
	ignored  []types.FlowEdge
}

func buildGraph(fg types.FlowGraph) (*graph, error) {
	g := &graph{
		nodes:    fg.Nodes,
		index:    make(map[string]int, len(fg.Nodes)),
		out:      make([][]int, len(fg.Nodes)),
		indegree: make([]int, len(fg.Nodes)),
	}

	for i, n := range fg.Nodes {
		if n.ID == "" {
			return nil, &GraphError{Err: fmt.Errorf("%w: node at position %d has no id", ErrInvalidGraph, i)}
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, &GraphError{NodeID: n.ID, Err: fmt.Errorf("%w: duplicate node id", ErrInvalidGraph)}
		}
		g.index[n.ID] = i
	}

	for _, e := range fg.Edges {
		src, okSrc := g.index[e.Source]
		dst, okDst := g.index[e.Target]
		if !okSrc || !okDst {
			g.ignored = append(g.ignored, e)
			continue
		}
		g.out[src] = append(g.out[src], dst)
		g.indegree[dst]++
	}

	return g, nil
}

// topoOrder runs Kahn's algorithm, always taking the lowest-index ready node.
// ok is false when a cycle prevents consuming every node.
func (g *graph) topoOrder() (order []int, ok bool) {
	n := len(g.nodes)
	indeg := make([]int, n)
	copy(indeg, g.indegree)

	done := make([]bool, n)
	order = make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return order, false
		}
		done[next] = true
		order = append(order, next)
		for _, t := range g.out[next] {
			indeg[t]--
		}
	}
	return order, true
}

// components counts weakly connected components.
func (g *graph) components() int {
	n := len(g.nodes)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	count := n
	for src, targets := range g.out {
		for _, dst := range targets {
			a, b := find(src), find(dst)
			if a != b {
				parent[a] = b
				count--
			}
		}
	}
	return count
}

// classify determines the graph's shape. Cyclic wins over disconnected, which wins over branching.
func (g *graph) classify() Shape {
	if _, ok := g.topoOrder(); !ok {
		return ShapeCyclic
	}
	if g.components() > 1 {
		return ShapeDisconnected
	}
	for i := range g.nodes {
		if len(g.out[i]) > 1 || g.indegree[i] > 1 {
			return ShapeBranching
		}
	}
	return ShapeLinear
}

// walk follows the first outgoing edge from the first indegree-zero node
// until a dead end or a revisit.
func (g *graph) walk() []int {
	start := -1
	for i := range g.nodes {
		if g.indegree[i] == 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	visited := make([]bool, len(g.nodes))
	path := []int{}
	for cur := start; !visited[cur]; {
		visited[cur] = true
		path = append(path, cur)
		if len(g.out[cur]) == 0 {
			break
		}
		cur = g.out[cur][0]
	}
	return path
}
