package compiler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a compile failure.
type ErrorKind string

const (
	KindMissingRequiredInput ErrorKind = "missingRequiredInput"
	KindSchemaMismatch       ErrorKind = "schemaMismatch"
)

var (
	ErrMissingRequiredInput = errors.New("required input has no mapping")
	ErrSchemaMismatch       = errors.New("mapping does not match schema")
	ErrUnknownTransform     = errors.New("unknown transform")
	ErrGraphNotAcyclic      = errors.New("graph could not be linearized")

	// ErrMissingValue is returned at run time when a required mapped value is absent.
	ErrMissingValue = errors.New("mapped value is missing")
)

// CompileError is returned by Compile; execution never starts when it occurs.
type CompileError struct {
	Kind   ErrorKind
	StepID string
	Field  string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: step %q field %q: %v", e.Kind, e.StepID, e.Field, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func (e *CompileError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsCompileError reports whether err carries a CompileError and returns it.
func IsCompileError(err error) (*CompileError, bool) {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return compileErr, true
	}

	return nil, false
}

// IsMissingRequiredInput checks if an error indicates an unsatisfiable required input.
func IsMissingRequiredInput(err error) bool {
	return errors.Is(err, ErrMissingRequiredInput)
}

// IsSchemaMismatch checks if an error indicates a mapping that contradicts a schema.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// MappingError is returned by InputMapper.Build when the input object cannot
// be constructed from the values available at run time.
type MappingError struct {
	StepID string
	Field  string
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("building input for step %q field %q: %v", e.StepID, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
