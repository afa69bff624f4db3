package table

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tableNode(id string, stepType models.StepType, config map[string]any) *models.StepNode {
	return testutil.CreateTestNode(id, testutil.WithType(stepType), testutil.WithConfig(config))
}

func TestConnector_MissingBinding(t *testing.T) {
	connector := NewConnector(NewMemoryStore(), testLogger())
	node := tableNode("q", models.StepTypeTableQuery, map[string]any{"table": "contacts"})

	_, err := connector.Execute(context.Background(), node, map[string]any{}, &models.RuntimeContext{
		TableBindings: map[string]string{"other": "tbl-1"},
	})
	require.Error(t, err)

	var tableErr *protocol.TableError
	require.True(t, errors.As(err, &tableErr))
	assert.Equal(t, "contacts", tableErr.Table)
	assert.Equal(t, "query", tableErr.Op)
	assert.ErrorIs(t, err, protocol.ErrMissingTable)
	assert.True(t, protocol.IsConnectorError(err))
}

func TestConnector_WriteThenQuery(t *testing.T) {
	store := NewMemoryStore()
	connector := NewConnector(store, testLogger())
	rctx := &models.RuntimeContext{TableBindings: map[string]string{"contacts": "tbl-contacts"}}
	ctx := context.Background()

	write := tableNode("w", models.StepTypeTableWrite, map[string]any{"table": "contacts"})

	output, err := connector.Execute(ctx, write, map[string]any{
		"rows": []any{
			map[string]any{"id": "1", "name": "Ada", "team": "core"},
			map[string]any{"id": "2", "name": "Linus", "team": "kernel"},
			map[string]any{"id": "3", "name": "Grace", "team": "core"},
		},
	}, rctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"affected": float64(3), "ids": []any{"1", "2", "3"}}, output)

	query := tableNode("q", models.StepTypeTableQuery, map[string]any{"table": "contacts", "limit": float64(10)})

	output, err = connector.Execute(ctx, query, map[string]any{"filter": map[string]any{"team": "core"}}, rctx)
	require.NoError(t, err)
	assert.Equal(t, float64(2), output["count"])
	assert.Equal(t, []any{
		map[string]any{"id": "1", "name": "Ada", "team": "core"},
		map[string]any{"id": "3", "name": "Grace", "team": "core"},
	}, output["rows"])

	// Inserting an existing id fails; upserting replaces.
	_, err = connector.Execute(ctx, write, map[string]any{"row": map[string]any{"id": "1", "name": "Ada L."}}, rctx)
	assert.ErrorIs(t, err, ErrInvalidRow)

	_, err = connector.Execute(ctx, write, map[string]any{
		"mode": "upsert",
		"row":  map[string]any{"id": "1", "name": "Ada L.", "team": "core"},
	}, rctx)
	require.NoError(t, err)

	rows, err := store.Query(ctx, "tbl-contacts", Query{Filter: map[string]any{"id": "1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada L.", rows[0]["name"])

	output, err = connector.Execute(ctx, write, map[string]any{
		"mode": "delete",
		"rows": []any{map[string]any{"id": "2"}, map[string]any{"id": "missing"}},
	}, rctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), output["affected"])
}

func TestConnector_InvalidInput(t *testing.T) {
	connector := NewConnector(NewMemoryStore(), testLogger())
	rctx := &models.RuntimeContext{TableBindings: map[string]string{"t": "tbl"}}

	tests := []struct {
		name  string
		node  *models.StepNode
		input map[string]any
	}{
		{
			name:  "write without rows",
			node:  tableNode("w", models.StepTypeTableWrite, map[string]any{"table": "t"}),
			input: map[string]any{},
		},
		{
			name:  "unknown mode",
			node:  tableNode("w", models.StepTypeTableWrite, map[string]any{"table": "t", "mode": "merge"}),
			input: map[string]any{"row": map[string]any{}},
		},
		{
			name:  "row that is not an object",
			node:  tableNode("w", models.StepTypeTableWrite, map[string]any{"table": "t"}),
			input: map[string]any{"rows": []any{"x"}},
		},
		{
			name:  "filter that is not an object",
			node:  tableNode("q", models.StepTypeTableQuery, map[string]any{"table": "t"}),
			input: map[string]any{"filter": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := connector.Execute(context.Background(), tt.node, tt.input, rctx)
			require.Error(t, err)

			var tableErr *protocol.TableError
			assert.True(t, errors.As(err, &tableErr))
		})
	}
}

func TestMemoryStore_GeneratesIDsAndCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	row := map[string]any{"name": "x"}

	result, err := store.Write(ctx, "t", Write{Mode: WriteInsert, Rows: []map[string]any{row}})
	require.NoError(t, err)
	require.Len(t, result.IDs, 1)
	assert.NotEmpty(t, result.IDs[0])
	assert.NotContains(t, row, IDField, "the caller's row is not mutated")

	rows, err := store.Query(ctx, "t", Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows[0]["name"] = "changed"

	again, err := store.Query(ctx, "t", Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "x", again[0]["name"])

	empty, err := store.Query(ctx, "unknown", Query{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
