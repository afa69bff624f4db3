package graph

import (
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(ids ...string) []*models.StepNode {
	out := make([]*models.StepNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, testutil.CreateTestNode(id))
	}

	return out
}

func TestValidate_Valid(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", nodes("a", "b", "c"),
		testutil.CreateTestEdge("a", "out", "b", "in"),
		testutil.CreateTestEdge("a", "other", "b", "second"),
		testutil.CreateTestEdge("b", "out", "c", "in"),
	)

	g, err := Validate(def)
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []int{0}, g.Predecessors(1))
	assert.Equal(t, []int{1}, g.Successors(0))
	assert.Len(t, g.IncomingEdges(1), 2)

	idx, ok := g.NodeIndex("c")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestValidate_SiblingTargetPaths(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", nodes("x", "y", "t"),
		testutil.CreateTestEdge("x", "v", "t", "a.b"),
		testutil.CreateTestEdge("y", "w", "t", "a.c"),
	)

	_, err := Validate(def)
	require.NoError(t, err)
}

func TestValidate_DoesNotAliasInput(t *testing.T) {
	def := testutil.CreateChainDefinition("wf", "a", "b")

	g, err := Validate(def)
	require.NoError(t, err)

	def.Nodes[0].ID = "changed"
	def.Edges[0].TargetFieldPath = "changed"

	assert.Equal(t, "a", g.Nodes()[0].ID)
	assert.Equal(t, "value", g.Edges()[0].TargetFieldPath)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		def      *models.WorkflowDefinition
		kind     ErrorKind
		sentinel error
		nodeID   string
	}{
		{
			name:     "duplicate node id",
			def:      testutil.CreateTestDefinition("wf", nodes("a", "b", "a")),
			kind:     KindDuplicateNodeID,
			sentinel: ErrDuplicateNodeID,
			nodeID:   "a",
		},
		{
			name:     "empty node id",
			def:      testutil.CreateTestDefinition("wf", nodes("a", "")),
			kind:     KindInvalidNode,
			sentinel: ErrInvalidNode,
		},
		{
			name: "unknown source",
			def: testutil.CreateTestDefinition("wf", nodes("a"),
				testutil.CreateTestEdge("ghost", "out", "a", "in")),
			kind:     KindUnknownNodeReference,
			sentinel: ErrUnknownNodeReference,
			nodeID:   "ghost",
		},
		{
			name: "unknown target",
			def: testutil.CreateTestDefinition("wf", nodes("a"),
				testutil.CreateTestEdge("a", "out", "ghost", "in")),
			kind:     KindUnknownNodeReference,
			sentinel: ErrUnknownNodeReference,
			nodeID:   "ghost",
		},
		{
			name: "two edges into the same field",
			def: testutil.CreateTestDefinition("wf", nodes("a", "b", "c"),
				testutil.CreateTestEdge("a", "out", "c", "body"),
				testutil.CreateTestEdge("b", "out", "c", "body")),
			kind:     KindAmbiguousMapping,
			sentinel: ErrAmbiguousMapping,
			nodeID:   "c",
		},
		{
			name: "nested target paths",
			def: testutil.CreateTestDefinition("wf", nodes("x", "y", "t"),
				testutil.CreateTestEdge("x", "v", "t", "a.b"),
				testutil.CreateTestEdge("y", "w", "t", "a")),
			kind:     KindAmbiguousMapping,
			sentinel: ErrAmbiguousMapping,
			nodeID:   "t",
		},
		{
			name: "self loop",
			def: testutil.CreateTestDefinition("wf", nodes("a"),
				testutil.CreateTestEdge("a", "out", "a", "in")),
			kind:     KindCyclicGraph,
			sentinel: ErrCyclicGraph,
			nodeID:   "a",
		},
		{
			name: "three node cycle",
			def: testutil.CreateTestDefinition("wf", nodes("a", "b", "c"),
				testutil.CreateTestEdge("a", "out", "b", "in"),
				testutil.CreateTestEdge("b", "out", "c", "in"),
				testutil.CreateTestEdge("c", "out", "a", "in")),
			kind:     KindCyclicGraph,
			sentinel: ErrCyclicGraph,
			nodeID:   "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Validate(tt.def)
			require.Error(t, err)
			assert.Nil(t, g)

			graphErr, ok := IsGraphError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, graphErr.Kind)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.nodeID, graphErr.NodeID)
		})
	}
}

func TestValidate_CheckOrder(t *testing.T) {
	// Both an ambiguous mapping and a cycle: ambiguity is reported first.
	def := testutil.CreateTestDefinition("wf", nodes("a", "b"),
		testutil.CreateTestEdge("a", "out", "b", "in"),
		testutil.CreateTestEdge("b", "out", "a", "in"),
		testutil.CreateTestEdge("a", "other", "b", "in"),
	)

	_, err := Validate(def)
	assert.True(t, IsAmbiguousMapping(err))
	assert.False(t, IsCyclic(err))
}

func TestValidate_CycleNamesNodeOnCycle(t *testing.T) {
	// x -> a -> b -> c -> a, with d hanging off c; only a, b, c are on the cycle.
	def := testutil.CreateTestDefinition("wf", nodes("x", "a", "b", "c", "d"),
		testutil.CreateTestEdge("x", "out", "a", "x"),
		testutil.CreateTestEdge("a", "out", "b", "in"),
		testutil.CreateTestEdge("b", "out", "c", "in"),
		testutil.CreateTestEdge("c", "out", "a", "c"),
		testutil.CreateTestEdge("c", "out", "d", "in"),
	)

	_, err := Validate(def)
	require.Error(t, err)

	graphErr, ok := IsGraphError(err)
	require.True(t, ok)
	assert.Equal(t, KindCyclicGraph, graphErr.Kind)
	assert.Contains(t, []string{"a", "b", "c"}, graphErr.NodeID)
	assert.Equal(t, []string{"a", "b", "c", "a"}, graphErr.Cycle)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestValidate_DiamondIsAcyclic(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", nodes("a", "b", "c", "d"),
		testutil.CreateTestEdge("a", "out", "b", "in"),
		testutil.CreateTestEdge("a", "out", "c", "in"),
		testutil.CreateTestEdge("b", "out", "d", "left"),
		testutil.CreateTestEdge("c", "out", "d", "right"),
	)

	_, err := Validate(def)
	assert.NoError(t, err)
}

func TestValidate_Nil(t *testing.T) {
	_, err := Validate(nil)
	assert.ErrorIs(t, err, ErrInvalidNode)
}
