package controlflow

import (
	"context"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, config map[string]any, input map[string]any) (map[string]any, error) {
	t.Helper()

	node := testutil.CreateTestNode("cf", testutil.WithConfig(config))

	return NewConnector().Execute(context.Background(), node, input, &models.RuntimeContext{ResourceID: "res-1"})
}

func TestConnector_Passthrough(t *testing.T) {
	input := map[string]any{"value": map[string]any{"n": float64(1)}}

	output, err := run(t, map[string]any{"op": OpPassthrough}, input)
	require.NoError(t, err)
	assert.Equal(t, input, output)

	output["value"].(map[string]any)["n"] = float64(2)
	assert.Equal(t, float64(1), input["value"].(map[string]any)["n"], "output does not alias input")

	output, err = run(t, nil, map[string]any{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, output, "passthrough is the default op")
}

func TestConnector_Branch(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		input    map[string]any
		expected bool
	}{
		{"input bool true", nil, map[string]any{"condition": true}, true},
		{"input bool false", nil, map[string]any{"condition": false}, false},
		{"string false", nil, map[string]any{"condition": "false"}, false},
		{"non-empty string", nil, map[string]any{"condition": "yes"}, true},
		{"empty string", nil, map[string]any{"condition": ""}, false},
		{"zero", nil, map[string]any{"condition": float64(0)}, false},
		{"non-zero", nil, map[string]any{"condition": float64(3)}, true},
		{"empty list", nil, map[string]any{"condition": []any{}}, false},
		{"nil", nil, map[string]any{"condition": nil}, false},
		{
			"template over input",
			map[string]any{"condition": "{{ gt .input.score 10.0 }}"},
			map[string]any{"score": float64(42)},
			true,
		},
		{
			"template using runtime context",
			map[string]any{"condition": `{{ eq .context.resource_id "res-2" }}`},
			map[string]any{},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := map[string]any{"op": OpBranch}
			for k, v := range tt.config {
				config[k] = v
			}

			output, err := run(t, config, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, output["condition_result"])

			branch := BranchFalse
			if tt.expected {
				branch = BranchTrue
			}

			assert.Equal(t, branch, output["branch"])
		})
	}
}

func TestConnector_Switch(t *testing.T) {
	config := map[string]any{
		"op":    OpSwitch,
		"value": "{{ .input.status }}",
		"cases": []any{
			map[string]any{"value": "active", "output": "on"},
			map[string]any{"value": "paused"},
		},
	}

	output, err := run(t, config, map[string]any{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"matched_value": "active", "case": "on", "no_match": false}, output)

	output, err = run(t, config, map[string]any{"status": "paused"})
	require.NoError(t, err)
	assert.Equal(t, "paused", output["case"])

	output, err = run(t, config, map[string]any{"status": "gone"})
	require.NoError(t, err)
	assert.Equal(t, CaseDefault, output["case"])
	assert.Equal(t, true, output["no_match"])
}

func TestConnector_Merge(t *testing.T) {
	input := map[string]any{
		"b":     map[string]any{"x": "from-b", "y": "only-b"},
		"a":     map[string]any{"x": "from-a"},
		"extra": "scalar",
		"none":  nil,
	}

	output, err := run(t, map[string]any{"op": OpMerge}, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": "from-b", "y": "only-b", "extra": "scalar"}, output["merged"])
	assert.Equal(t, []any{"a", "b", "extra"}, output["inputs_received"])
	assert.Equal(t, MergeModeAll, output["merge_mode"])

	output, err = run(t, map[string]any{"op": OpMerge, "merge_mode": MergeModeFirst}, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": "from-a"}, output["merged"])
	assert.Equal(t, []any{"a"}, output["inputs_received"])
}

func TestConnector_Loop(t *testing.T) {
	output, err := run(t, map[string]any{"op": OpLoop}, map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}, "count": float64(2)}, output)

	output, err = run(t,
		map[string]any{"op": OpLoop, "template": `{"name": "{{ .input.item.name }}", "i": {{ .input.index }}}`},
		map[string]any{"items": []any{map[string]any{"name": "ada"}, map[string]any{"name": "grace"}}},
	)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"name": "ada", "i": float64(0)},
		map[string]any{"name": "grace", "i": float64(1)},
	}, output["items"])

	output, err = run(t, map[string]any{"op": OpLoop}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, float64(0), output["count"])
}

func TestConnector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		input  map[string]any
	}{
		{"unknown op", map[string]any{"op": "goto"}, nil},
		{"branch without condition", map[string]any{"op": OpBranch}, map[string]any{}},
		{"bad merge mode", map[string]any{"op": OpMerge, "merge_mode": "any"}, map[string]any{}},
		{"loop over non-list", map[string]any{"op": OpLoop}, map[string]any{"items": "x"}},
		{"switch case without value", map[string]any{"op": OpSwitch, "cases": []any{map[string]any{}}}, map[string]any{"value": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.config, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, protocol.ErrInvalidInput)
		})
	}
}

func TestConnector_TemplatesArePure(t *testing.T) {
	t.Setenv("STEPFLOW_SECRET", "s3cret")

	output, err := run(t, map[string]any{
		"op":        OpBranch,
		"condition": "{{ with .env }}true{{ else }}false{{ end }}",
	}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, output["condition_result"])
	assert.Equal(t, BranchFalse, output["branch"])

	for _, expression := range []string{"{{ now }}", "{{ rand 10 }}"} {
		_, err := run(t, map[string]any{"op": OpBranch, "condition": expression}, map[string]any{})
		require.Error(t, err, expression)
		assert.Contains(t, err.Error(), "not defined")
	}
}
