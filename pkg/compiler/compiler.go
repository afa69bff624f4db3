// Package compiler linearizes validated workflow graphs into ordered,
// mapping-resolved pipelines ready for execution.
package compiler

import (
	"fmt"
	"slices"

	"github.com/dukex/stepflow/pkg/fieldpath"
	"github.com/dukex/stepflow/pkg/graph"
	"github.com/dukex/stepflow/pkg/models"
)

// CompiledPipeline is the topologically ordered, execution-ready form of a
// workflow definition. It is immutable once returned by Compile.
type CompiledPipeline struct {
	WorkflowID        string
	WorkflowName      string
	Version           int
	Steps             []*CompiledStep
	GlobalInputSchema *models.JSONSchema
}

// CompiledStep is one step of a pipeline with its input mapping resolved to
// index handles into the output slots of its dependencies.
type CompiledStep struct {
	Index        int
	Node         *models.StepNode
	Mapper       *InputMapper
	OutputSchema *models.JSONSchema
	Dependencies []int // Compiled indexes, ascending
}

// ID returns the id of the step's node.
func (s *CompiledStep) ID() string {
	return s.Node.ID
}

// Len returns the number of steps.
func (p *CompiledPipeline) Len() int {
	return len(p.Steps)
}

// Order returns the step ids in compiled order.
func (p *CompiledPipeline) Order() []string {
	ids := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		ids[i] = step.ID()
	}

	return ids
}

// StepByID returns the compiled step for the given node id.
func (p *CompiledPipeline) StepByID(id string) (*CompiledStep, bool) {
	for _, step := range p.Steps {
		if step.ID() == id {
			return step, true
		}
	}

	return nil, false
}

// Terminal returns the steps no other step depends on, in compiled order.
func (p *CompiledPipeline) Terminal() []*CompiledStep {
	depended := make([]bool, len(p.Steps))

	for _, step := range p.Steps {
		for _, dep := range step.Dependencies {
			depended[dep] = true
		}
	}

	var terminal []*CompiledStep

	for i, step := range p.Steps {
		if !depended[i] {
			terminal = append(terminal, step)
		}
	}

	return terminal
}

// CompileDefinition validates and compiles a definition using its own global input schema.
func CompileDefinition(def *models.WorkflowDefinition) (*CompiledPipeline, error) {
	g, err := graph.Validate(def)
	if err != nil {
		return nil, err
	}

	return Compile(g, g.Definition().GlobalInputSchema)
}

// Compile orders the graph with Kahn's algorithm, breaking ties among ready
// nodes by declaration order, and resolves every node's mappings into an
// InputMapper. It performs no I/O.
func Compile(g *graph.ValidatedGraph, globalInputSchema *models.JSONSchema) (*CompiledPipeline, error) {
	order, err := linearize(g)
	if err != nil {
		return nil, err
	}

	// declaration index -> compiled index
	position := make([]int, g.Len())
	for compiled, declared := range order {
		position[declared] = compiled
	}

	def := g.Definition()
	pipeline := &CompiledPipeline{
		WorkflowID:        def.ID,
		WorkflowName:      def.Name,
		Version:           def.Version,
		Steps:             make([]*CompiledStep, len(order)),
		GlobalInputSchema: globalInputSchema,
	}

	for compiled, declared := range order {
		node := g.Nodes()[declared]

		mapper, err := buildMapper(g, node, g.IncomingEdges(declared), position, globalInputSchema)
		if err != nil {
			return nil, err
		}

		deps := make([]int, 0, len(g.Predecessors(declared)))
		for _, pred := range g.Predecessors(declared) {
			deps = append(deps, position[pred])
		}

		slices.Sort(deps)

		pipeline.Steps[compiled] = &CompiledStep{
			Index:        compiled,
			Node:         node,
			Mapper:       mapper,
			OutputSchema: node.OutputSchema,
			Dependencies: deps,
		}
	}

	return pipeline, nil
}

func linearize(g *graph.ValidatedGraph) ([]int, error) {
	inDegree := make([]int, g.Len())
	for i := range inDegree {
		inDegree[i] = len(g.Predecessors(i))
	}

	var ready []int

	for i, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, g.Len())

	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, succ := range g.Successors(next) {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				at, _ := slices.BinarySearch(ready, succ)
				ready = slices.Insert(ready, at, succ)
			}
		}
	}

	if len(order) != g.Len() {
		return nil, ErrGraphNotAcyclic
	}

	return order, nil
}

func buildMapper(
	g *graph.ValidatedGraph,
	node *models.StepNode,
	edges []*models.DataEdge,
	position []int,
	globalInputSchema *models.JSONSchema,
) (*InputMapper, error) {
	mapper := &InputMapper{stepID: node.ID}
	mapped := make(map[string]bool, len(edges))

	for _, edge := range edges {
		binding, err := edgeBinding(g, node, edge, position)
		if err != nil {
			return nil, err
		}

		mapper.bindings = append(mapper.bindings, binding)
		mapped[binding.TargetPath.Head()] = true
	}

	for _, field := range node.InputSchema.FieldNames() {
		if mapped[field] {
			continue
		}

		prop, ok := node.InputSchema.Property(field)
		if !ok {
			prop = &models.Property{}
		}

		required := node.InputSchema.IsRequired(field)
		_, global := globalInputSchema.Property(field)

		switch {
		case global:
			mapper.bindings = append(mapper.bindings, Binding{
				Source:     SourceGlobal,
				StepIndex:  -1,
				SourcePath: fieldpath.Path{field},
				TargetPath: fieldpath.Path{field},
				Required:   required,
				HasDefault: prop.Default != nil,
				Default:    prop.Default,
			})
		case prop.Default != nil:
			mapper.bindings = append(mapper.bindings, Binding{
				Source:     SourceDefault,
				StepIndex:  -1,
				TargetPath: fieldpath.Path{field},
				HasDefault: true,
				Default:    prop.Default,
			})
		case required:
			return nil, &CompileError{
				Kind:   KindMissingRequiredInput,
				StepID: node.ID,
				Field:  field,
				Err:    ErrMissingRequiredInput,
			}
		}
	}

	// Required fields that the schema lists without declaring a property.
	for _, field := range requiredOnly(node.InputSchema) {
		if mapped[field] {
			continue
		}

		if _, global := globalInputSchema.Property(field); global {
			mapper.bindings = append(mapper.bindings, Binding{
				Source:     SourceGlobal,
				StepIndex:  -1,
				SourcePath: fieldpath.Path{field},
				TargetPath: fieldpath.Path{field},
				Required:   true,
			})

			continue
		}

		return nil, &CompileError{
			Kind:   KindMissingRequiredInput,
			StepID: node.ID,
			Field:  field,
			Err:    ErrMissingRequiredInput,
		}
	}

	return mapper, nil
}

func edgeBinding(g *graph.ValidatedGraph, node *models.StepNode, edge *models.DataEdge, position []int) (Binding, error) {
	sourcePath, err := fieldpath.Parse(edge.SourceFieldPath)
	if err != nil {
		return Binding{}, mismatch(node.ID, edge.TargetFieldPath, fmt.Errorf("source path: %w", err))
	}

	targetPath, err := fieldpath.Parse(edge.TargetFieldPath)
	if err != nil {
		return Binding{}, mismatch(node.ID, edge.TargetFieldPath, fmt.Errorf("target path: %w", err))
	}

	sourceIndex, _ := g.NodeIndex(edge.SourceStepID)
	source := g.Nodes()[sourceIndex]

	if !source.OutputSchema.HasPath(sourcePath) {
		return Binding{}, mismatch(node.ID, targetPath.String(),
			fmt.Errorf("%s.%s is not declared in the output schema of %q", source.ID, sourcePath, source.ID))
	}

	if !node.InputSchema.HasPath(targetPath) {
		return Binding{}, mismatch(node.ID, targetPath.String(),
			fmt.Errorf("%s is not declared in the input schema", targetPath))
	}

	if edge.Transform != "" {
		if _, ok := Transform(edge.Transform); !ok {
			return Binding{}, mismatch(node.ID, targetPath.String(), fmt.Errorf("%w %q", ErrUnknownTransform, edge.Transform))
		}
	}

	binding := Binding{
		Source:     SourceStep,
		StepIndex:  position[sourceIndex],
		StepID:     source.ID,
		SourcePath: sourcePath,
		TargetPath: targetPath,
		Transform:  edge.Transform,
		Required:   len(targetPath) == 1 && node.InputSchema.IsRequired(targetPath.Head()),
	}

	if len(targetPath) == 1 {
		if prop, ok := node.InputSchema.Property(targetPath.Head()); ok && prop.Default != nil {
			binding.HasDefault = true
			binding.Default = prop.Default
		}
	}

	return binding, nil
}

func mismatch(stepID, field string, err error) *CompileError {
	return &CompileError{
		Kind:   KindSchemaMismatch,
		StepID: stepID,
		Field:  field,
		Err:    fmt.Errorf("%w: %w", ErrSchemaMismatch, err),
	}
}

func requiredOnly(schema *models.JSONSchema) []string {
	if schema == nil {
		return nil
	}

	var fields []string

	for _, field := range schema.Required {
		if _, declared := schema.Properties[field]; !declared && !slices.Contains(fields, field) {
			fields = append(fields, field)
		}
	}

	slices.Sort(fields)

	return fields
}
