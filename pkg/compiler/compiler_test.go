package compiler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/dukex/stepflow/pkg/graph"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileDef(t *testing.T, def *models.WorkflowDefinition) (*CompiledPipeline, error) {
	t.Helper()

	g, err := graph.Validate(def)
	require.NoError(t, err)

	return Compile(g, def.GlobalInputSchema)
}

func TestCompile_OrderTieBreakByDeclaration(t *testing.T) {
	// Declared c, b, a with a -> c; ready set starts as {b, a} in declaration order b first.
	def := testutil.CreateTestDefinition("wf", []*models.StepNode{
		testutil.CreateTestNode("c"),
		testutil.CreateTestNode("b"),
		testutil.CreateTestNode("a"),
	}, testutil.CreateTestEdge("a", "out", "c", "in"))

	pipeline, err := compileDef(t, def)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, pipeline.Order())

	c, ok := pipeline.StepByID("c")
	require.True(t, ok)
	assert.Equal(t, 2, c.Index)
	assert.Equal(t, []int{1}, c.Dependencies)
}

func TestCompile_Diamond(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", []*models.StepNode{
		testutil.CreateTestNode("d"),
		testutil.CreateTestNode("c"),
		testutil.CreateTestNode("b"),
		testutil.CreateTestNode("a"),
	},
		testutil.CreateTestEdge("a", "out", "b", "in"),
		testutil.CreateTestEdge("a", "out", "c", "in"),
		testutil.CreateTestEdge("b", "out", "d", "left"),
		testutil.CreateTestEdge("c", "out", "d", "right"),
	)

	pipeline, err := compileDef(t, def)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "b", "d"}, pipeline.Order())

	d, _ := pipeline.StepByID("d")
	assert.Equal(t, []int{1, 2}, d.Dependencies)

	terminal := pipeline.Terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, "d", terminal[0].ID())
}

// randomDAG builds an acyclic graph by only adding edges from a lower to a
// higher rank, then shuffles declaration order.
func randomDAG(r *rand.Rand, n int) *models.WorkflowDefinition {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%02d", i)
	}

	var edges []*models.DataEdge

	for target := 1; target < n; target++ {
		for source := range target {
			if r.Intn(4) == 0 {
				edges = append(edges, testutil.CreateTestEdge(ids[source], "out", ids[target], "in_"+ids[source]))
			}
		}
	}

	nodes := make([]*models.StepNode, n)
	for i, id := range ids {
		nodes[i] = testutil.CreateTestNode(id)
	}

	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	return testutil.CreateTestDefinition("random", nodes, edges...)
}

func TestCompile_RespectsEveryEdge(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for iteration := range 50 {
		def := randomDAG(r, 2+r.Intn(15))

		pipeline, err := compileDef(t, def)
		require.NoError(t, err, "iteration %d", iteration)
		require.Len(t, pipeline.Steps, len(def.Nodes))

		position := make(map[string]int, len(pipeline.Steps))
		for i, id := range pipeline.Order() {
			_, seen := position[id]
			require.False(t, seen, "step %s appears twice", id)
			position[id] = i
		}

		for _, edge := range def.Edges {
			assert.Less(t, position[edge.SourceStepID], position[edge.TargetStepID],
				"edge %s -> %s violated", edge.SourceStepID, edge.TargetStepID)
		}
	}
}

func TestCompile_Deterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	def := randomDAG(r, 12)

	g, err := graph.Validate(def)
	require.NoError(t, err)

	first, err := Compile(g, nil)
	require.NoError(t, err)

	for range 5 {
		again, err := Compile(g, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_MissingRequiredInput(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", []*models.StepNode{
		testutil.CreateTestNode("send", testutil.WithInputs([]string{"to", "body"}, "to", "body")),
	})
	def.GlobalInputSchema = testutil.CreateSchema([]string{"body"})

	_, err := compileDef(t, def)
	require.Error(t, err)

	compileErr, ok := IsCompileError(err)
	require.True(t, ok)
	assert.Equal(t, KindMissingRequiredInput, compileErr.Kind)
	assert.Equal(t, "send", compileErr.StepID)
	assert.Equal(t, "to", compileErr.Field)
	assert.True(t, IsMissingRequiredInput(err))
}

func TestCompile_RequiredSatisfiedByEdgeGlobalOrDefault(t *testing.T) {
	send := testutil.CreateTestNode("send", testutil.WithInputs([]string{"to", "body", "subject"}, "to", "body", "subject"))
	send.InputSchema.Properties["subject"].Default = "hello"

	def := testutil.CreateTestDefinition("wf", []*models.StepNode{
		testutil.CreateTestNode("fetch", testutil.WithOutputs("content")),
		send,
	}, testutil.CreateTestEdge("fetch", "content", "send", "body"))
	def.GlobalInputSchema = testutil.CreateSchema([]string{"to"}, "to")

	pipeline, err := compileDef(t, def)
	require.NoError(t, err)

	step, _ := pipeline.StepByID("send")
	bindings := step.Mapper.Bindings()
	require.Len(t, bindings, 3)

	assert.Equal(t, SourceStep, bindings[0].Source)
	assert.Equal(t, 0, bindings[0].StepIndex)
	assert.Equal(t, "fetch", bindings[0].StepID)
	assert.Equal(t, SourceDefault, bindings[1].Source)
	assert.Equal(t, "subject", bindings[1].TargetPath.String())
	assert.Equal(t, SourceGlobal, bindings[2].Source)
	assert.Equal(t, "to", bindings[2].TargetPath.String())
}

func TestCompile_RequiredWithoutDeclaredProperty(t *testing.T) {
	node := testutil.CreateTestNode("n")
	node.InputSchema = &models.JSONSchema{Type: "object", Required: []string{"token"}}

	def := testutil.CreateTestDefinition("wf", []*models.StepNode{node})

	_, err := compileDef(t, def)
	assert.True(t, IsMissingRequiredInput(err))

	def.GlobalInputSchema = testutil.CreateSchema([]string{"token"})
	_, err = compileDef(t, def)
	assert.NoError(t, err)
}

func TestCompile_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		edge *models.DataEdge
	}{
		{name: "unknown source field", edge: testutil.CreateTestEdge("fetch", "missing", "send", "body")},
		{name: "path below scalar", edge: testutil.CreateTestEdge("fetch", "status.code", "send", "body")},
		{name: "unknown target field", edge: testutil.CreateTestEdge("fetch", "content", "send", "missing")},
		{name: "empty segment", edge: testutil.CreateTestEdge("fetch", "content..x", "send", "body")},
		{
			name: "unknown transform",
			edge: &models.DataEdge{
				SourceStepID: "fetch", SourceFieldPath: "content",
				TargetStepID: "send", TargetFieldPath: "body", Transform: "rot13",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch := testutil.CreateTestNode("fetch", testutil.WithOutputs("content", "status"))
			fetch.OutputSchema.Properties["status"].Type = "integer"

			def := testutil.CreateTestDefinition("wf", []*models.StepNode{
				fetch,
				testutil.CreateTestNode("send", testutil.WithInputs([]string{"body"})),
			}, tt.edge)

			_, err := compileDef(t, def)
			require.Error(t, err)
			assert.True(t, IsSchemaMismatch(err))

			compileErr, ok := IsCompileError(err)
			require.True(t, ok)
			assert.Equal(t, KindSchemaMismatch, compileErr.Kind)
			assert.Equal(t, "send", compileErr.StepID)
		})
	}
}

func TestCompile_OpenSchemasAcceptAnyPath(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", []*models.StepNode{
		testutil.CreateTestNode("a"),
		testutil.CreateTestNode("b"),
	}, testutil.CreateTestEdge("a", "deep.nested.0.value", "b", "x.y"))

	_, err := compileDef(t, def)
	assert.NoError(t, err)
}

func TestCompileDefinition_SurfacesGraphErrors(t *testing.T) {
	def := testutil.CreateTestDefinition("wf", []*models.StepNode{testutil.CreateTestNode("a")},
		testutil.CreateTestEdge("a", "out", "a", "in"))

	_, err := CompileDefinition(def)
	assert.True(t, graph.IsCyclic(err))
}
