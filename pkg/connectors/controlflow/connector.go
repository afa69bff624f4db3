// Package controlflow provides pure, in-process branch, switch, merge and loop
// primitives over already-resolved step inputs. It performs no external I/O.
package controlflow

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/dukex/stepflow/pkg/fieldpath"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
)

// Operations selected by the node config key "op".
const (
	OpPassthrough = "passthrough"
	OpBranch      = "branch"
	OpSwitch      = "switch"
	OpMerge       = "merge"
	OpLoop        = "loop"

	MergeModeAll   = "all"
	MergeModeFirst = "first"

	BranchTrue    = "true"
	BranchFalse   = "false"
	CaseDefault   = "default"
	defaultItemID = "item"
)

// Connector runs control flow steps.
type Connector struct{}

func NewConnector() *Connector {
	return &Connector{}
}

func (c *Connector) Execute(
	_ context.Context,
	node *models.StepNode,
	input map[string]any,
	rctx *models.RuntimeContext,
) (map[string]any, error) {
	var (
		output map[string]any
		err    error
	)

	switch op := node.ConfigString("op", OpPassthrough); op {
	case OpPassthrough:
		output = fieldpath.CopyMap(input)
	case OpBranch:
		output, err = branch(node, input, rctx)
	case OpSwitch:
		output, err = switchCase(node, input, rctx)
	case OpMerge:
		output, err = merge(node, input)
	case OpLoop:
		output, err = loop(node, input, rctx)
	default:
		err = fmt.Errorf("unknown control flow op %q", op)
	}

	if err != nil {
		return nil, &protocol.InputError{StepID: node.ID, Err: err}
	}

	return output, nil
}

// evaluate reads key from the input, or renders the template stored under the
// same config key when the input does not carry it.
func evaluate(node *models.StepNode, input map[string]any, rctx *models.RuntimeContext, key string) (any, error) {
	if value, ok := input[key]; ok {
		return value, nil
	}

	expression, ok := node.Config[key].(string)
	if !ok {
		return nil, fmt.Errorf("missing %q in input and config", key)
	}

	value, err := template.RenderPure(expression, input, rctx)
	if err != nil {
		return nil, fmt.Errorf("%s evaluation failed: %w", key, err)
	}

	return value, nil
}

func branch(node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error) {
	value, err := evaluate(node, input, rctx, "condition")
	if err != nil {
		return nil, err
	}

	result := truthy(value)

	taken := BranchFalse
	if result {
		taken = BranchTrue
	}

	return map[string]any{
		"condition_result": result,
		"branch":           taken,
		"evaluated_value":  fieldpath.DeepCopy(value),
		"value":            fieldpath.DeepCopy(input["value"]),
	}, nil
}

func switchCase(node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error) {
	value, err := evaluate(node, input, rctx, "value")
	if err != nil {
		return nil, err
	}

	matched := fmt.Sprintf("%v", value)

	cases, _ := node.Config["cases"].([]any)
	for i, caseAny := range cases {
		caseMap, ok := caseAny.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("case %d must be an object", i)
		}

		caseValue, ok := caseMap["value"].(string)
		if !ok {
			return nil, fmt.Errorf("case %d missing 'value'", i)
		}

		if caseValue != matched {
			continue
		}

		name, _ := caseMap["output"].(string)
		if name == "" {
			name = caseValue
		}

		return map[string]any{
			"matched_value": matched,
			"case":          name,
			"no_match":      false,
		}, nil
	}

	return map[string]any{
		"matched_value": matched,
		"case":          CaseDefault,
		"no_match":      true,
	}, nil
}

// merge combines the object-valued input fields in sorted key order.
func merge(node *models.StepNode, input map[string]any) (map[string]any, error) {
	mode := node.ConfigString("merge_mode", MergeModeAll)
	if mode != MergeModeAll && mode != MergeModeFirst {
		return nil, fmt.Errorf("unknown merge mode: %s", mode)
	}

	keys := make([]string, 0, len(input))
	for key, value := range input {
		if value != nil {
			keys = append(keys, key)
		}
	}

	slices.Sort(keys)

	if mode == MergeModeFirst && len(keys) > 1 {
		keys = keys[:1]
	}

	merged := make(map[string]any)
	received := make([]any, 0, len(keys))

	for _, key := range keys {
		received = append(received, key)

		object, ok := input[key].(map[string]any)
		if !ok {
			merged[key] = fieldpath.DeepCopy(input[key])

			continue
		}

		for field, value := range object {
			merged[field] = fieldpath.DeepCopy(value)
		}
	}

	return map[string]any{
		"merged":          merged,
		"inputs_received": received,
		"merge_mode":      mode,
	}, nil
}

// loop maps the "items" list through the config "template", or collects it
// unchanged when no template is set. Each iteration sees .input.item and .input.index.
func loop(node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error) {
	items, ok := input["items"].([]any)
	if !ok {
		if input["items"] != nil {
			return nil, fmt.Errorf("items must be a list, got %T", input["items"])
		}

		items = []any{}
	}

	itemKey := node.ConfigString("item_key", defaultItemID)
	expression := node.ConfigString("template", "")
	results := make([]any, 0, len(items))

	for i, item := range items {
		if expression == "" {
			results = append(results, fieldpath.DeepCopy(item))

			continue
		}

		scope := fieldpath.CopyMap(input)
		scope[itemKey] = item
		scope["index"] = float64(i)

		value, err := template.RenderPure(expression, scope, rctx)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		results = append(results, value)
	}

	return map[string]any{
		"items": results,
		"count": float64(len(results)),
	}, nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}
