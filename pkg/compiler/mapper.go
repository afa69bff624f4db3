package compiler

import (
	"fmt"

	"github.com/dukex/stepflow/pkg/fieldpath"
)

// SourceKind tells where a binding takes its value from.
type SourceKind string

const (
	SourceStep    SourceKind = "step"    // Output slot of a predecessor step
	SourceGlobal  SourceKind = "global"  // Global execution input with the same name
	SourceDefault SourceKind = "default" // Schema default of the target field
)

// Binding is one resolved field mapping of an InputMapper.
type Binding struct {
	Source     SourceKind
	StepIndex  int    // Compiled index of the source step (SourceStep only)
	StepID     string // Id of the source step (SourceStep only)
	SourcePath fieldpath.Path
	TargetPath fieldpath.Path
	Transform  string
	Required   bool
	HasDefault bool
	Default    any
}

// InputMapper builds a step's input object from predecessor outputs and global inputs.
type InputMapper struct {
	stepID   string
	bindings []Binding
}

// Bindings returns the mapper's bindings in application order.
func (m *InputMapper) Bindings() []Binding {
	out := make([]Binding, len(m.bindings))
	copy(out, m.bindings)

	return out
}

// Build constructs the input object. outputs is indexed by compiled step index
// and every dependency slot must already be filled. Values are deep-copied so
// the result never aliases a predecessor's output or the global inputs.
func (m *InputMapper) Build(outputs []map[string]any, globals map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(m.bindings))

	for _, binding := range m.bindings {
		value, ok := m.resolve(binding, outputs, globals)
		if !ok {
			if binding.HasDefault {
				value, ok = binding.Default, true
			}
		}

		if !ok {
			if binding.Required {
				return nil, &MappingError{StepID: m.stepID, Field: binding.TargetPath.String(), Err: ErrMissingValue}
			}

			continue
		}

		value = fieldpath.DeepCopy(value)

		if binding.Transform != "" {
			fn, _ := Transform(binding.Transform)

			converted, err := fn(value)
			if err != nil {
				return nil, &MappingError{
					StepID: m.stepID,
					Field:  binding.TargetPath.String(),
					Err:    fmt.Errorf("transform %s: %w", binding.Transform, err),
				}
			}

			value = converted
		}

		if err := fieldpath.Set(input, binding.TargetPath, value); err != nil {
			return nil, &MappingError{StepID: m.stepID, Field: binding.TargetPath.String(), Err: err}
		}
	}

	return input, nil
}

func (m *InputMapper) resolve(binding Binding, outputs []map[string]any, globals map[string]any) (any, bool) {
	switch binding.Source {
	case SourceStep:
		if binding.StepIndex < 0 || binding.StepIndex >= len(outputs) || outputs[binding.StepIndex] == nil {
			return nil, false
		}

		return fieldpath.Get(outputs[binding.StepIndex], binding.SourcePath)
	case SourceGlobal:
		if globals == nil {
			return nil, false
		}

		return fieldpath.Get(globals, binding.SourcePath)
	default:
		return nil, false
	}
}
