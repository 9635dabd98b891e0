// Package dagmodel implements the DAG Model component: graph
// construction from a parent/child edge list, acyclicity validation,
// derived topology views, and skip propagation. Grounded on
// original_source's Dag class (networkx.DiGraph + is_directed_acyclic_graph
// + topological_sort), re-expressed with adjacency maps since Go has no
// networkx equivalent in the teacher's dependency set.
package dagmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
)

// Graph is the validated, derived-view form of a DagSpec.
type Graph struct {
	Name        string
	Nodes       map[string]model.TaskNode
	Order       []string // node names in declaration order, for deterministic iteration
	Children    map[string][]model.Edge
	Parents     map[string][]model.Edge
	InDegree    map[string]int
	Roots       []string
	Leaves      []string
}

// Build constructs a Graph from a DagSpec, validating edge endpoints
// exist and the graph is acyclic.
func Build(spec model.DagSpec) (*Graph, error) {
	g := &Graph{
		Name:     spec.Name,
		Nodes:    make(map[string]model.TaskNode, len(spec.Nodes)),
		Children: make(map[string][]model.Edge),
		Parents:  make(map[string][]model.Edge),
		InDegree: make(map[string]int, len(spec.Nodes)),
	}
	for _, n := range spec.Nodes {
		if _, dup := g.Nodes[n.Name]; dup {
			return nil, lferr.New(lferr.KindDagValidation, fmt.Sprintf("duplicate node name %q", n.Name)).WithScope(spec.Name, n.Name)
		}
		g.Nodes[n.Name] = n
		g.Order = append(g.Order, n.Name)
		g.InDegree[n.Name] = 0
	}

	for _, e := range spec.Edges {
		if _, ok := g.Nodes[e.Parent]; !ok {
			return nil, lferr.New(lferr.KindDagValidation, fmt.Sprintf("edge references unknown parent %q", e.Parent)).WithScope(spec.Name, "")
		}
		if _, ok := g.Nodes[e.Child]; !ok {
			return nil, lferr.New(lferr.KindDagValidation, fmt.Sprintf("edge references unknown child %q", e.Child)).WithScope(spec.Name, "")
		}
		g.Children[e.Parent] = append(g.Children[e.Parent], e)
		g.Parents[e.Child] = append(g.Parents[e.Child], e)
		g.InDegree[e.Child]++
	}

	if err := checkAcyclic(g); err != nil {
		return nil, err
	}

	for _, name := range g.Order {
		if len(g.Parents[name]) == 0 {
			g.Roots = append(g.Roots, name)
		}
		if len(g.Children[name]) == 0 {
			g.Leaves = append(g.Leaves, name)
		}
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm: repeatedly remove zero-in-degree
// nodes. If nodes remain once no more can be removed, they form a
// cycle — the same conceptual check as networkx's
// is_directed_acyclic_graph, reported with one offending node named
// per spec.md §4.E ("rejected with CycleDetected naming one cycle").
func checkAcyclic(g *Graph) error {
	indeg := make(map[string]int, len(g.InDegree))
	for k, v := range g.InDegree {
		indeg[k] = v
	}
	var queue []string
	for _, name := range g.Order {
		if indeg[name] == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range g.Children[n] {
			indeg[e.Child]--
			if indeg[e.Child] == 0 {
				queue = append(queue, e.Child)
			}
		}
	}
	if visited != len(g.Order) {
		for _, name := range g.Order {
			if indeg[name] > 0 {
				return lferr.New(lferr.KindDagCycle, fmt.Sprintf("cycle detected involving node %q", name)).WithScope(g.Name, name)
			}
		}
		return lferr.New(lferr.KindDagCycle, "cycle detected")
	}
	return nil
}

// SkipDescendants computes the transitive set of nodes that must be
// skipped when the nodes in initial are skipped, per spec.md §4.E: a
// descendant skips only if it has no other live (non-skipped) parent.
// alreadyTerminal reports whether a node has already reached a
// terminal, non-skipped state (succeeded/failed) — such a node is
// "live" regardless of the skip set and stops propagation through it.
func (g *Graph) SkipDescendants(initial []string, alreadyTerminal func(node string) bool) []string {
	skipped := make(map[string]bool, len(initial))
	for _, n := range initial {
		skipped[n] = true
	}

	changed := true
	for changed {
		changed = false
		for _, name := range g.Order {
			if skipped[name] {
				continue
			}
			if alreadyTerminal != nil && alreadyTerminal(name) {
				continue
			}
			parents := g.Parents[name]
			if len(parents) == 0 {
				continue
			}
			allSkippedOrNone := true
			for _, e := range parents {
				if !skipped[e.Parent] {
					allSkippedOrNone = false
					break
				}
			}
			if allSkippedOrNone {
				skipped[name] = true
				changed = true
			}
		}
	}

	out := make([]string, 0, len(skipped))
	for _, name := range g.Order {
		if skipped[name] {
			out = append(out, name)
		}
	}
	return out
}

// ShardName names the idx'th fan-out instance of a ForEachSlot node,
// matching the teacher's own "stepID[idx]" child-step naming in
// core/workflow/engine.go.
func ShardName(base string, idx int) string {
	return fmt.Sprintf("%s[%d]", base, idx)
}

// SplitShardName reverses ShardName. ok is false for a plain node name.
func SplitShardName(name string) (base string, idx int, ok bool) {
	i := strings.IndexByte(name, '[')
	if i < 0 || !strings.HasSuffix(name, "]") {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[i+1 : len(name)-1])
	if err != nil {
		return name, 0, false
	}
	return name[:i], n, true
}
