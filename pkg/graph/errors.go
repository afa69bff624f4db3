package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a structural defect in a workflow definition.
type ErrorKind string

const (
	KindDuplicateNodeID      ErrorKind = "duplicateNodeId"
	KindUnknownNodeReference ErrorKind = "unknownNodeReference"
	KindAmbiguousMapping     ErrorKind = "ambiguousMapping"
	KindCyclicGraph          ErrorKind = "cyclicGraph"
	KindInvalidNode          ErrorKind = "invalidNode"
)

var (
	ErrDuplicateNodeID      = errors.New("duplicate node id")
	ErrUnknownNodeReference = errors.New("edge references unknown node")
	ErrAmbiguousMapping     = errors.New("more than one edge targets the same input field")
	ErrCyclicGraph          = errors.New("cycle detected")
	ErrInvalidNode          = errors.New("invalid node")
)

// GraphError is returned by Validate. It is deterministic for a given definition.
type GraphError struct {
	Kind   ErrorKind
	NodeID string   // Offending node; for cycles, a node on the cycle
	Field  string   // Target field path for ambiguous mappings
	Cycle  []string // Node ids along the detected cycle, first node repeated at the end
	Err    error
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case KindAmbiguousMapping:
		return fmt.Sprintf("%s: %v: %s.%s", e.Kind, e.Err, e.NodeID, e.Field)
	case KindCyclicGraph:
		if len(e.Cycle) > 0 {
			return fmt.Sprintf("%s: %v involving node %q (%s)", e.Kind, e.Err, e.NodeID, strings.Join(e.Cycle, " -> "))
		}

		return fmt.Sprintf("%s: %v involving node %q", e.Kind, e.Err, e.NodeID)
	default:
		return fmt.Sprintf("%s: %v: %q", e.Kind, e.Err, e.NodeID)
	}
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func (e *GraphError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsGraphError reports whether err carries a GraphError and returns it.
func IsGraphError(err error) (*GraphError, bool) {
	var graphErr *GraphError
	if errors.As(err, &graphErr) {
		return graphErr, true
	}

	return nil, false
}

// IsCyclic checks if an error indicates a cyclic graph.
func IsCyclic(err error) bool {
	return errors.Is(err, ErrCyclicGraph)
}

// IsAmbiguousMapping checks if an error indicates two edges targeting one field.
func IsAmbiguousMapping(err error) bool {
	return errors.Is(err, ErrAmbiguousMapping)
}

// IsUnknownNodeReference checks if an error indicates a dangling edge.
func IsUnknownNodeReference(err error) bool {
	return errors.Is(err, ErrUnknownNodeReference)
}
