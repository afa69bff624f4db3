package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout   = errors.New("execution timed out")
	ErrCancelled = errors.New("execution cancelled")
)

// TimeoutError is raised when the overall execution deadline or a step's own
// timeout expires. StepID is empty for the overall deadline.
type TimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.StepID == "" {
		if e.Timeout > 0 {
			return fmt.Sprintf("%s after %s", ErrTimeout, e.Timeout)
		}

		return ErrTimeout.Error()
	}

	return fmt.Sprintf("step %s timed out after %s", e.StepID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CancellationError is raised when the caller cancels an execution.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil {
		return ErrCancelled.Error()
	}

	return fmt.Sprintf("%s: %v", ErrCancelled, e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

// StepError attributes a failure to the step that raised it.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
