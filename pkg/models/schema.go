package models

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/stepflow/pkg/fieldpath"
	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaValidation is returned when a value does not satisfy a schema.
var ErrSchemaValidation = errors.New("JSON schema validation failed")

// JSONSchema represents the asserted shape of a step's input or output object.
type JSONSchema struct {
	Type        string               `json:"type,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property. An empty Type accepts any value.
type Property struct {
	Type        string               `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MaxLength   *int                 `json:"maxLength,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// IsRequired reports whether the top-level field is listed as required.
func (s *JSONSchema) IsRequired(field string) bool {
	if s == nil {
		return false
	}

	return slices.Contains(s.Required, field)
}

// Property returns the top-level property with the given name.
func (s *JSONSchema) Property(name string) (*Property, bool) {
	if s == nil || s.Properties == nil {
		return nil, false
	}

	prop, ok := s.Properties[name]

	return prop, ok && prop != nil
}

// FieldNames returns the declared top-level property names in sorted order.
func (s *JSONSchema) FieldNames() []string {
	if s == nil {
		return nil
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// HasPath reports whether path addresses a field the schema asserts. A nil
// schema, or any object/list whose members are not declared, is open and
// accepts every path below it.
func (s *JSONSchema) HasPath(path fieldpath.Path) bool {
	if s == nil || len(s.Properties) == 0 {
		return true
	}

	prop, ok := s.Property(path.Head())
	if !ok {
		return false
	}

	return prop.hasPath(path[1:])
}

func (p *Property) hasPath(rest fieldpath.Path) bool {
	if len(rest) == 0 {
		return true
	}

	switch p.Type {
	case "object":
		if len(p.Properties) == 0 {
			return true
		}

		child, ok := p.Properties[rest[0]]
		if !ok || child == nil {
			return false
		}

		return child.hasPath(rest[1:])
	case "array":
		if _, err := strconv.Atoi(rest[0]); err != nil {
			return false
		}

		if p.Items == nil {
			return true
		}

		return p.Items.hasPath(rest[1:])
	case "":
		return true
	default:
		// Scalars have no members.
		return false
	}
}

// Validate checks data against the schema. A nil schema accepts anything.
func (s *JSONSchema) Validate(data any) error {
	if s == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(s)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("validating against schema: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(messages, "; "))
	}

	return nil
}

// Clone returns a deep copy of the schema.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}

	return &JSONSchema{
		Type:        s.Type,
		Properties:  cloneProperties(s.Properties),
		Required:    slices.Clone(s.Required),
		Title:       s.Title,
		Description: s.Description,
	}
}

func (p *Property) clone() *Property {
	if p == nil {
		return nil
	}

	out := *p
	out.Enum, _ = fieldpath.DeepCopy(p.Enum).([]any)
	out.Default = fieldpath.DeepCopy(p.Default)
	out.Items = p.Items.clone()
	out.Properties = cloneProperties(p.Properties)
	out.Required = slices.Clone(p.Required)

	if p.MinLength != nil {
		v := *p.MinLength
		out.MinLength = &v
	}

	if p.MaxLength != nil {
		v := *p.MaxLength
		out.MaxLength = &v
	}

	return &out
}

func cloneProperties(props map[string]*Property) map[string]*Property {
	if props == nil {
		return nil
	}

	out := make(map[string]*Property, len(props))
	for name, prop := range props {
		out[name] = prop.clone()
	}

	return out
}
