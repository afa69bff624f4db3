// Package graph validates workflow definitions into immutable, structurally sound graphs.
package graph

import (
	"strings"

	"github.com/dukex/stepflow/pkg/fieldpath"
	"github.com/dukex/stepflow/pkg/models"
)

// ValidatedGraph is a workflow definition that passed every structural check.
// It owns a private copy of the definition; accessors hand out that copy and
// callers must treat it as read-only.
type ValidatedGraph struct {
	def      *models.WorkflowDefinition
	index    map[string]int
	incoming [][]*models.DataEdge
	preds    [][]int
	succs    [][]int
}

// Validate runs the structural checks, in order: node id uniqueness, edge
// endpoint resolution, one edge per target field, and cycle detection.
// It is pure and never touches a connector.
func Validate(def *models.WorkflowDefinition) (*ValidatedGraph, error) {
	if def == nil {
		return nil, &GraphError{Kind: KindInvalidNode, Err: ErrInvalidNode}
	}

	def = def.Clone()

	index, err := indexNodes(def.Nodes)
	if err != nil {
		return nil, err
	}

	if err := checkEdgeEndpoints(def.Edges, index); err != nil {
		return nil, err
	}

	if err := checkAmbiguousMappings(def.Edges); err != nil {
		return nil, err
	}

	g := &ValidatedGraph{
		def:      def,
		index:    index,
		incoming: make([][]*models.DataEdge, len(def.Nodes)),
		preds:    make([][]int, len(def.Nodes)),
		succs:    make([][]int, len(def.Nodes)),
	}

	for _, edge := range def.Edges {
		source := index[edge.SourceStepID]
		target := index[edge.TargetStepID]

		g.incoming[target] = append(g.incoming[target], edge)
		g.preds[target] = appendUnique(g.preds[target], source)
		g.succs[source] = appendUnique(g.succs[source], target)
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

func indexNodes(nodes []*models.StepNode) (map[string]int, error) {
	index := make(map[string]int, len(nodes))

	for i, node := range nodes {
		if node == nil || strings.TrimSpace(node.ID) == "" {
			return nil, &GraphError{Kind: KindInvalidNode, Err: ErrInvalidNode}
		}

		if _, exists := index[node.ID]; exists {
			return nil, &GraphError{Kind: KindDuplicateNodeID, NodeID: node.ID, Err: ErrDuplicateNodeID}
		}

		index[node.ID] = i
	}

	return index, nil
}

func checkEdgeEndpoints(edges []*models.DataEdge, index map[string]int) error {
	for _, edge := range edges {
		if edge == nil {
			return &GraphError{Kind: KindUnknownNodeReference, Err: ErrUnknownNodeReference}
		}

		if _, ok := index[edge.SourceStepID]; !ok {
			return &GraphError{Kind: KindUnknownNodeReference, NodeID: edge.SourceStepID, Err: ErrUnknownNodeReference}
		}

		if _, ok := index[edge.TargetStepID]; !ok {
			return &GraphError{Kind: KindUnknownNodeReference, NodeID: edge.TargetStepID, Err: ErrUnknownNodeReference}
		}
	}

	return nil
}

// checkAmbiguousMappings rejects two edges into one step whose target paths
// are equal or nested, since building the input would overwrite one of them.
func checkAmbiguousMappings(edges []*models.DataEdge) error {
	seen := make(map[string][]fieldpath.Path, len(edges))

	for _, edge := range edges {
		target, err := fieldpath.Parse(edge.TargetFieldPath)
		if err != nil {
			// Malformed paths are reported by the compiler.
			continue
		}

		for _, other := range seen[edge.TargetStepID] {
			if target.Overlaps(other) {
				return &GraphError{
					Kind:   KindAmbiguousMapping,
					NodeID: edge.TargetStepID,
					Field:  target.String(),
					Err:    ErrAmbiguousMapping,
				}
			}
		}

		seen[edge.TargetStepID] = append(seen[edge.TargetStepID], target)
	}

	return nil
}

const (
	white = iota // unvisited
	grey         // on the current DFS path
	black        // fully explored
)

// detectCycles runs a depth-first search in declaration order and reports the
// first back edge found as a cycle.
func (g *ValidatedGraph) detectCycles() error {
	colour := make([]int, len(g.def.Nodes))
	path := make([]int, 0, len(g.def.Nodes))

	var visit func(n int) error

	visit = func(n int) error {
		colour[n] = grey
		path = append(path, n)

		for _, next := range g.succs[n] {
			switch colour[next] {
			case grey:
				return g.cycleError(path, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		colour[n] = black

		return nil
	}

	for n := range g.def.Nodes {
		if colour[n] != white {
			continue
		}

		if err := visit(n); err != nil {
			return err
		}
	}

	return nil
}

func (g *ValidatedGraph) cycleError(path []int, start int) error {
	var cycle []string

	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == start {
			for _, n := range path[i:] {
				cycle = append(cycle, g.def.Nodes[n].ID)
			}

			break
		}
	}

	startID := g.def.Nodes[start].ID
	cycle = append(cycle, startID)

	return &GraphError{Kind: KindCyclicGraph, NodeID: startID, Cycle: cycle, Err: ErrCyclicGraph}
}

func appendUnique(list []int, v int) []int {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}

	return append(list, v)
}

// Definition returns the validated definition.
func (g *ValidatedGraph) Definition() *models.WorkflowDefinition {
	return g.def
}

// Nodes returns the nodes in declaration order.
func (g *ValidatedGraph) Nodes() []*models.StepNode {
	return g.def.Nodes
}

// Edges returns the edges in declaration order.
func (g *ValidatedGraph) Edges() []*models.DataEdge {
	return g.def.Edges
}

// Len returns the number of nodes.
func (g *ValidatedGraph) Len() int {
	return len(g.def.Nodes)
}

// NodeIndex returns the declaration index of the node with the given id.
func (g *ValidatedGraph) NodeIndex(id string) (int, bool) {
	i, ok := g.index[id]

	return i, ok
}

// IncomingEdges returns the edges targeting the node at declaration index i.
func (g *ValidatedGraph) IncomingEdges(i int) []*models.DataEdge {
	return g.incoming[i]
}

// Predecessors returns the distinct declaration indexes the node at i depends on.
func (g *ValidatedGraph) Predecessors(i int) []int {
	return g.preds[i]
}

// Successors returns the distinct declaration indexes depending on the node at i.
func (g *ValidatedGraph) Successors(i int) []int {
	return g.succs[i]
}
