// Package services implements workflow definition management and execution
// on top of the persistence, compiler and executor packages.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/graph"
	"github.com/dukex/stepflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrInvalidInputs     = errors.New("inputs do not match the global input schema")
	ErrWorkflowNil       = errors.New("workflow cannot be nil")

	// ErrWorkflowNotFound is returned when a workflow is not found (404).
	ErrWorkflowNotFound = persistence.ErrDefinitionNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	if _, ok := graph.IsGraphError(err); ok {
		return true
	}

	if _, ok := compiler.IsCompileError(err); ok {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrInvalidInputs) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, persistence.ErrInvalidID)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsDefinitionNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}

	return ""
}
