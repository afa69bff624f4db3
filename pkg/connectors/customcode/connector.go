// Package customcode runs caller-supplied step logic.
//
// A node's code is "func:<name>", naming a Go function registered on the
// connector, "jsonata:<expression>", evaluated against the step input, or a
// text/template body rendered against the step input. An expression or
// template that yields a JSON object becomes the step output; any other value
// is returned under the "result" key.
package customcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/blues/jsonata-go"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
)

const (
	// FuncPrefix marks node code that names a registered function.
	FuncPrefix = "func:"
	// JSONataPrefix marks node code that is a JSONata expression.
	JSONataPrefix = "jsonata:"
)

// Func is caller-supplied logic registered under a name.
type Func func(ctx context.Context, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error)

// Connector runs custom code steps.
type Connector struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewConnector() *Connector {
	return &Connector{funcs: make(map[string]Func)}
}

// Register makes fn callable as "func:<name>".
func (c *Connector) Register(name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.funcs[name] = fn
}

// MustRegister is Register that panics when name is already taken.
func (c *Connector) MustRegister(name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.funcs[name]; exists {
		panic(fmt.Sprintf("custom code function %q already registered", name))
	}

	c.funcs[name] = fn
}

func (c *Connector) lookup(name string) (Func, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fn, ok := c.funcs[name]

	return fn, ok
}

func (c *Connector) Execute(
	ctx context.Context,
	node *models.StepNode,
	input map[string]any,
	rctx *models.RuntimeContext,
) (map[string]any, error) {
	code := strings.TrimSpace(node.Code)
	if code == "" {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: "no code to run"}
	}

	if name, ok := strings.CutPrefix(code, FuncPrefix); ok {
		return c.call(ctx, node, strings.TrimSpace(name), input, rctx)
	}

	if expression, ok := strings.CutPrefix(code, JSONataPrefix); ok {
		return evaluate(node, strings.TrimSpace(expression), input)
	}

	return render(node, code, input, rctx)
}

func (c *Connector) call(
	ctx context.Context,
	node *models.StepNode,
	name string,
	input map[string]any,
	rctx *models.RuntimeContext,
) (output map[string]any, err error) {
	fn, ok := c.lookup(name)
	if !ok {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: fmt.Sprintf("function %q is not registered", name)}
	}

	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &protocol.CustomCodeError{
				StepID:  node.ID,
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	output, err = fn(ctx, input, rctx)
	if err != nil {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: err.Error(), Err: err}
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

func evaluate(node *models.StepNode, expression string, input map[string]any) (output map[string]any, err error) {
	expr, err := jsonata.Compile(expression)
	if err != nil {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: "compiling expression: " + err.Error(), Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &protocol.CustomCodeError{
				StepID:  node.ID,
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	result, err := expr.Eval(input)

	switch {
	case errors.Is(err, jsonata.ErrUndefined):
		return map[string]any{}, nil
	case err != nil:
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: err.Error(), Err: err}
	}

	output, err = normalize(asOutput(result))
	if err != nil {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: "encoding result: " + err.Error(), Err: err}
	}

	return output, nil
}

// normalize round-trips an expression result through JSON so numbers come
// out as float64 like every other step output.
func normalize(output map[string]any) (map[string]any, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func asOutput(result any) map[string]any {
	if output, ok := result.(map[string]any); ok {
		return output
	}

	return map[string]any{"result": result}
}

func render(node *models.StepNode, code string, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error) {
	result, err := template.RenderWithContext(code, input, rctx)
	if err != nil {
		return nil, &protocol.CustomCodeError{StepID: node.ID, Message: err.Error(), Err: err}
	}

	return asOutput(result), nil
}
