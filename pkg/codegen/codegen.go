// Package codegen renders compiled pipelines as Go source for review and
// version control. The rendered code is never parsed back or executed by the
// engine.
package codegen

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/stepflow/pkg/compiler"
)

var ErrNilPipeline = errors.New("codegen: nil pipeline")

// PackageName is the package clause of generated files.
const PackageName = "stepflowgen"

const header = `// Code generated by stepflow. DO NOT EDIT.
// Generated at %s.

`

type stepView struct {
	Index     int
	ID        string
	Type      string
	Toolkit   string
	Action    string
	Summary   string
	DependsOn []string
	Bindings  []bindingView
}

type bindingView struct {
	Owner     int
	Source    string
	Target    string
	Path      string
	Transform string
	Fallback  string
	Required  bool
}

type pipelineView struct {
	Package      string
	WorkflowID   string
	WorkflowName string
	Version      int
	Steps        []stepView
}

var bodyTemplate = template.Must(template.New("pipeline").Funcs(template.FuncMap{
	"quote":   strconv.Quote,
	"oneLine": strings.Fields,
	"join": func(words []string) string {
		return strings.Join(words, " ")
	},
	"quoteList": func(items []string) string {
		quoted := make([]string, len(items))
		for i, item := range items {
			quoted[i] = strconv.Quote(item)
		}

		return strings.Join(quoted, ", ")
	},
}).Parse(bodySource))

// Generate renders pipeline as gofmt'ed Go source. Only the header comment
// depends on at; the rest is byte-identical for identical pipelines.
func Generate(pipeline *compiler.CompiledPipeline, at time.Time) (string, error) {
	body, err := GenerateBody(pipeline)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(header, at.UTC().Format(time.RFC3339)) + body, nil
}

// GenerateBody renders pipeline without the timestamped header.
func GenerateBody(pipeline *compiler.CompiledPipeline) (string, error) {
	if pipeline == nil {
		return "", ErrNilPipeline
	}

	var buf bytes.Buffer

	if err := bodyTemplate.Execute(&buf, view(pipeline)); err != nil {
		return "", fmt.Errorf("codegen: rendering workflow %s: %w", pipeline.WorkflowID, err)
	}

	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("codegen: formatting workflow %s: %w", pipeline.WorkflowID, err)
	}

	return string(formatted), nil
}

func view(pipeline *compiler.CompiledPipeline) pipelineView {
	v := pipelineView{
		Package:      PackageName,
		WorkflowID:   pipeline.WorkflowID,
		WorkflowName: pipeline.WorkflowName,
		Version:      pipeline.Version,
		Steps:        make([]stepView, 0, pipeline.Len()),
	}

	for _, step := range pipeline.Steps {
		node := step.Node
		sv := stepView{
			Index:   step.Index,
			ID:      node.ID,
			Type:    string(node.Type),
			Toolkit: node.ToolkitSlug,
			Action:  node.ActionID,
			Summary: string(node.Type),
		}

		if node.ToolkitSlug != "" || node.ActionID != "" {
			sv.Summary += " " + node.ToolkitSlug + "/" + node.ActionID
		}

		if op, ok := node.Config["op"].(string); ok {
			sv.Summary += " " + op
		}

		for _, dep := range step.Dependencies {
			sv.DependsOn = append(sv.DependsOn, pipeline.Steps[dep].ID())
		}

		for _, binding := range step.Mapper.Bindings() {
			bv := bindingView{
				Owner:     step.Index,
				Target:    binding.TargetPath.String(),
				Path:      binding.SourcePath.String(),
				Transform: binding.Transform,
				Fallback:  "nil",
				Required:  binding.Required,
			}

			switch binding.Source {
			case compiler.SourceStep:
				bv.Source = "outputs[" + strconv.Quote(binding.StepID) + "]"
			case compiler.SourceGlobal:
				bv.Source = "globals"
			default:
				bv.Source = "nil"
			}

			if binding.HasDefault {
				bv.Fallback = literal(binding.Default)
			}

			sv.Bindings = append(sv.Bindings, bv)
		}

		v.Steps = append(v.Steps, sv)
	}

	return v
}

// literal renders a JSON-like value as a Go expression. Map keys come out sorted.
func literal(value any) string {
	if value == nil {
		return "nil"
	}

	return fmt.Sprintf("%#v", value)
}

const bodySource = `// Package {{.Package}} is the compiled form of workflow {{quote .WorkflowID}}, version {{.Version}}.
{{- with oneLine .WorkflowName}}
//
// {{join .}}
{{- end}}
package {{.Package}}

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Step describes one compiled step.
type Step struct {
	Index     int
	ID        string
	Type      string
	Toolkit   string
	Action    string
	DependsOn []string
}

// CallFunc performs one step with its resolved input.
type CallFunc func(ctx context.Context, step Step, input map[string]any) (map[string]any, error)

// TransformFunc applies a named edge transform.
type TransformFunc func(name string, value any) (any, error)

// Steps lists the pipeline in compiled order.
var Steps = []Step{
{{- range .Steps}}
	{Index: {{.Index}}, ID: {{quote .ID}}, Type: {{quote .Type}}{{if .Toolkit}}, Toolkit: {{quote .Toolkit}}{{end}}{{if .Action}}, Action: {{quote .Action}}{{end}}{{if .DependsOn}}, DependsOn: []string{ {{- quoteList .DependsOn -}} }{{end}}},
{{- end}}
}

// Run performs the steps in order and returns every step output by step id.
func Run(ctx context.Context, call CallFunc, transform TransformFunc, globals map[string]any) (map[string]map[string]any, error) {
	outputs := make(map[string]map[string]any, {{len .Steps}})
{{range .Steps}}
	// {{.Index}}: {{quote .ID}} ({{join (oneLine .Summary)}})
	{
		input := map[string]any{}
{{- range .Bindings}}
		if err := bind(input, {{.Source}}, {{quote .Target}}, {{quote .Path}}, {{quote .Transform}}, {{.Fallback}}, {{.Required}}, transform); err != nil {
			return outputs, fmt.Errorf("step %s: %w", Steps[{{.Owner}}].ID, err)
		}
{{- end}}

		output, err := call(ctx, Steps[{{.Index}}], input)
		if err != nil {
			return outputs, fmt.Errorf("step %s: %w", Steps[{{.Index}}].ID, err)
		}

		outputs[Steps[{{.Index}}].ID] = output
	}
{{end}}
	return outputs, nil
}

// bind copies source[path] into input[target], falling back to fallback when
// the value is absent.
func bind(input, source map[string]any, target, path, name string, fallback any, required bool, transform TransformFunc) error {
	value, ok := lookup(source, path)
	if !ok && fallback != nil {
		value, ok = fallback, true
	}

	if !ok {
		if required {
			return fmt.Errorf("missing value for %s", target)
		}

		return nil
	}

	if name != "" {
		var err error

		value, err = transform(name, value)
		if err != nil {
			return fmt.Errorf("transform %s: %w", name, err)
		}
	}

	assign(input, target, value)

	return nil
}

func lookup(source map[string]any, path string) (any, bool) {
	if source == nil || path == "" {
		return nil, false
	}

	var current any = source

	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(key)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

func assign(input map[string]any, path string, value any) {
	keys := strings.Split(path, ".")

	for _, key := range keys[:len(keys)-1] {
		next, ok := input[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			input[key] = next
		}

		input = next
	}

	input[keys[len(keys)-1]] = value
}
`
