package table

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const (
	opQuery = "query"
	opWrite = "write"
)

// Connector runs table query and table write steps against a Store. The
// node config key "table" names the logical table; the runtime context
// binds it to a concrete table id.
type Connector struct {
	store  Store
	logger *slog.Logger
}

func NewConnector(store Store, logger *slog.Logger) *Connector {
	return &Connector{store: store, logger: logger.With("module", "table")}
}

func (c *Connector) Execute(
	ctx context.Context,
	node *models.StepNode,
	input map[string]any,
	rctx *models.RuntimeContext,
) (map[string]any, error) {
	op := opQuery
	if node.Type == models.StepTypeTableWrite {
		op = opWrite
	}

	name := node.ConfigString("table", "")
	if name == "" {
		name, _ = input["table"].(string)
	}

	tableID := ""
	if rctx != nil {
		tableID = rctx.TableBindings[name]
	}

	if tableID == "" {
		return nil, &protocol.TableError{Table: name, Op: op, Err: protocol.ErrMissingTable}
	}

	logger := c.logger.With("step_id", node.ID, "table", name, "table_id", tableID)

	if op == opWrite {
		return c.write(ctx, logger, node, name, tableID, input)
	}

	return c.query(ctx, logger, node, name, tableID, input)
}

func (c *Connector) query(
	ctx context.Context,
	logger *slog.Logger,
	node *models.StepNode,
	name, tableID string,
	input map[string]any,
) (map[string]any, error) {
	query := Query{}

	filter, err := objectParam(node, input, "filter")
	if err != nil {
		return nil, &protocol.TableError{Table: name, Op: opQuery, Err: err}
	}

	query.Filter = filter

	if n, ok := numberParam(node, input, "limit"); ok {
		query.Limit = n
	}

	rows, err := c.store.Query(ctx, tableID, query)
	if err != nil {
		return nil, &protocol.TableError{Table: name, Op: opQuery, Err: err}
	}

	logger.DebugContext(ctx, "table query", "rows", len(rows))

	list := make([]any, len(rows))
	for i, row := range rows {
		list[i] = row
	}

	return map[string]any{
		"rows":  list,
		"count": float64(len(rows)),
	}, nil
}

func (c *Connector) write(
	ctx context.Context,
	logger *slog.Logger,
	node *models.StepNode,
	name, tableID string,
	input map[string]any,
) (map[string]any, error) {
	mode := WriteMode(node.ConfigString("mode", string(WriteInsert)))
	if m, ok := input["mode"].(string); ok && m != "" {
		mode = WriteMode(m)
	}

	switch mode {
	case WriteInsert, WriteUpsert, WriteDelete:
	default:
		return nil, &protocol.TableError{Table: name, Op: opWrite, Err: fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, mode)}
	}

	rows, err := rowsParam(input)
	if err != nil {
		return nil, &protocol.TableError{Table: name, Op: opWrite, Err: err}
	}

	result, err := c.store.Write(ctx, tableID, Write{Mode: mode, Rows: rows})
	if err != nil {
		return nil, &protocol.TableError{Table: name, Op: opWrite, Err: err}
	}

	logger.DebugContext(ctx, "table write", "mode", mode, "affected", result.Affected)

	ids := make([]any, len(result.IDs))
	for i, id := range result.IDs {
		ids[i] = id
	}

	return map[string]any{
		"affected": float64(result.Affected),
		"ids":      ids,
	}, nil
}

func objectParam(node *models.StepNode, input map[string]any, key string) (map[string]any, error) {
	value, ok := input[key]
	if !ok {
		value, ok = node.Config[key]
	}

	if !ok || value == nil {
		return nil, nil
	}

	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", ErrInvalidQuery, key)
	}

	return object, nil
}

func numberParam(node *models.StepNode, input map[string]any, key string) (int, bool) {
	value, ok := input[key]
	if !ok {
		value, ok = node.Config[key]
	}

	if !ok {
		return 0, false
	}

	switch n := value.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func rowsParam(input map[string]any) ([]map[string]any, error) {
	if row, ok := input["row"].(map[string]any); ok {
		return []map[string]any{row}, nil
	}

	switch rows := input["rows"].(type) {
	case []map[string]any:
		return rows, nil
	case []any:
		out := make([]map[string]any, 0, len(rows))

		for i, item := range rows {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: rows[%d] is not an object", ErrInvalidRow, i)
			}

			out = append(out, row)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected \"row\" or \"rows\" in input", ErrInvalidQuery)
	}
}
