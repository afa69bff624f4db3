package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/graph"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinition(t *testing.T, definition *models.WorkflowDefinition) string {
	t.Helper()

	data, err := json.Marshal(definition)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func greeting() *models.WorkflowDefinition {
	schema := testutil.CreateSchema([]string{"name"}, "name")
	schema.Properties["name"].Type = "string"

	def := testutil.CreateTestDefinition("greeting", []*models.StepNode{
		testutil.CreateTestNode("greet", testutil.WithInputs([]string{"name"}, "name")),
		testutil.CreateTestNode("shout", testutil.WithInputs([]string{"text"}, "text")),
	}, &models.DataEdge{
		SourceStepID:    "greet",
		SourceFieldPath: "name",
		TargetStepID:    "shout",
		TargetFieldPath: "text",
		Transform:       "upper",
	})
	def.GlobalInputSchema = schema

	return def
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	err := app.Run(context.Background(), append([]string{"stepflow", "--log-level", "error"}, args...))

	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	stdout, _, err := run(t, "validate", "-f", writeDefinition(t, greeting()))
	require.NoError(t, err)
	assert.Equal(t, "greeting: ok (2 steps)\n", stdout)

	cyclic := testutil.CreateChainDefinition("loop", "a", "b")
	cyclic.Edges = append(cyclic.Edges, &models.DataEdge{
		SourceStepID: "b", SourceFieldPath: "value", TargetStepID: "a", TargetFieldPath: "value",
	})

	_, _, err = run(t, "validate", "-f", writeDefinition(t, cyclic))
	graphErr, ok := graph.IsGraphError(err)
	require.True(t, ok, err)
	assert.Equal(t, graph.KindCyclicGraph, graphErr.Kind)

	unsatisfied := greeting()
	unsatisfied.GlobalInputSchema = nil

	_, _, err = run(t, "validate", "-f", writeDefinition(t, unsatisfied))
	compileErr, ok := compiler.IsCompileError(err)
	require.True(t, ok, err)
	assert.Equal(t, compiler.KindMissingRequiredInput, compileErr.Kind)

	_, _, err = run(t, "validate", "-f", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "reading definition")
}

func TestValidate_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: report
name: Report
nodes:
  - id: load
    type: table_query
    config:
      table: contacts
  - id: count
    type: custom_code
    code: "jsonata: $count(rows)"
edges:
  - source_step_id: load
    source_field_path: rows
    target_step_id: count
    target_field_path: rows
`), 0o600))

	stdout, _, err := run(t, "validate", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "report: ok (2 steps)\n", stdout)

	stdout, _, err = run(t, "run", "-f", path, "--table", "contacts=crm")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"result": 0`)
}

func TestCompile(t *testing.T) {
	stdout, _, err := run(t, "compile", "-f", writeDefinition(t, greeting()))
	require.NoError(t, err)

	var compiled struct {
		WorkflowID string         `json:"workflow_id"`
		Order      []string       `json:"order"`
		Steps      []compiledStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &compiled))

	assert.Equal(t, "greeting", compiled.WorkflowID)
	assert.Equal(t, []string{"greet", "shout"}, compiled.Order)
	assert.Equal(t, []string{"greet"}, compiled.Steps[1].DependsOn)
}

func TestGenerate(t *testing.T) {
	path := writeDefinition(t, greeting())

	first, _, err := run(t, "generate", "-f", path, "--no-header")
	require.NoError(t, err)

	second, _, err := run(t, "generate", "-f", path, "--no-header")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "package stepflowgen")
	assert.NotContains(t, first, "Generated at")

	output := filepath.Join(t.TempDir(), "pipeline.go")
	stdout, _, err := run(t, "generate", "-f", path, "-o", output)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(written), "// Code generated by stepflow. DO NOT EDIT."))
}

func TestRun(t *testing.T) {
	path := writeDefinition(t, greeting())

	stdout, stderr, err := run(t, "run", "-f", path, "--inputs", `{"name":"Ada"}`, "--events")
	require.NoError(t, err)

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))

	assert.True(t, result.Success)
	assert.Equal(t, map[string]any{"text": "ADA"}, result.Output)

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[len(lines)-1], `"event":"done"`)

	_, _, err = run(t, "run", "-f", path, "--inputs", `{"name":42}`)
	assert.Error(t, err)

	_, _, err = run(t, "run", "-f", path, "--inputs", "not json")
	assert.ErrorContains(t, err, "parsing --inputs")

	_, _, err = run(t, "run", "-f", path, "--inputs", `{"name":"Ada"}`, "--connection", "web")
	assert.ErrorContains(t, err, "expected key=value")
}

func TestRun_StepFailure(t *testing.T) {
	def := testutil.CreateTestDefinition("tables", []*models.StepNode{{
		ID:     "rows",
		Type:   models.StepTypeTableQuery,
		Config: map[string]any{"table": "contacts"},
	}})

	stdout, _, err := run(t, "run", "-f", writeDefinition(t, def))
	require.ErrorIs(t, err, errExecutionFailed)

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, models.PipelineStateFailed, result.State)

	_, _, err = run(t, "run", "-f", writeDefinition(t, def), "--table", "contacts=crm_contacts")
	assert.NoError(t, err)
}

func TestParseBindings(t *testing.T) {
	bindings, err := parseBindings([]string{"web=conn-1", "mail=conn-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"web": "conn-1", "mail": "conn-2"}, bindings)

	for _, bad := range []string{"web", "=conn", "web="} {
		_, err := parseBindings([]string{bad})
		assert.Error(t, err, bad)
	}
}
