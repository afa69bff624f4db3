package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConnection indicates no connection is bound for a toolkit.
	ErrMissingConnection = errors.New("missing connection binding")

	// ErrMissingTable indicates no table is bound for a logical table name.
	ErrMissingTable = errors.New("missing table binding")

	// ErrInvalidInput indicates the resolved input was rejected before any external call.
	ErrInvalidInput = errors.New("invalid step input")

	// ErrNoConnector indicates the registry has no connector for a step.
	ErrNoConnector = errors.New("no connector registered")
)

// ConnectorError is implemented by every error a connector raises while a step executes.
type ConnectorError interface {
	error
	connectorError()
}

// IsConnectorError reports whether err was raised by a connector.
func IsConnectorError(err error) bool {
	var connErr ConnectorError

	return errors.As(err, &connErr)
}

// MissingConnectionError is returned before any external call when the
// runtime context has no connection bound for the step's toolkit.
type MissingConnectionError struct {
	StepID      string
	ToolkitSlug string
}

func (e *MissingConnectionError) Error() string {
	return fmt.Sprintf("step %q: no connection bound for toolkit %q", e.StepID, e.ToolkitSlug)
}

func (e *MissingConnectionError) Is(target error) bool {
	return target == ErrMissingConnection
}

func (*MissingConnectionError) connectorError() {}

// RemoteActionError wraps a failed external action.
type RemoteActionError struct {
	ToolkitSlug string
	ActionID    string
	StatusCode  int    // HTTP status when the action was reached over HTTP
	Message     string // Message reported by the remote side, if any
	Err         error
}

func (e *RemoteActionError) Error() string {
	target := e.ToolkitSlug + "/" + e.ActionID

	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("remote action %s failed with status %d: %s", target, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("remote action %s failed with status %d", target, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("remote action %s failed: %s", target, e.Message)
	default:
		return fmt.Sprintf("remote action %s failed: %v", target, e.Err)
	}
}

func (e *RemoteActionError) Unwrap() error {
	return e.Err
}

func (*RemoteActionError) connectorError() {}

// CustomCodeError carries the failure of caller-supplied logic.
type CustomCodeError struct {
	StepID  string
	Message string
	Stack   string
	Err     error
}

func (e *CustomCodeError) Error() string {
	return fmt.Sprintf("custom code in step %q failed: %s", e.StepID, e.Message)
}

func (e *CustomCodeError) Unwrap() error {
	return e.Err
}

func (*CustomCodeError) connectorError() {}

// TableError wraps a failed table read or write.
type TableError struct {
	Table string // Logical table name
	Op    string // "query" or "write"
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %s on %q failed: %v", e.Op, e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (*TableError) connectorError() {}

// InputError is returned when a connector rejects its input before acting.
type InputError struct {
	StepID string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("step %q: %v", e.StepID, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (*InputError) connectorError() {}
