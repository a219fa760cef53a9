// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting in events
// and persisted step records.
type ErrorCode string

const (
	ErrCodeTaskInput       ErrorCode = "TASK_INPUT"
	ErrCodeDisposed        ErrorCode = "DISPOSED"
	ErrCodeBusy            ErrorCode = "BUSY"
	ErrCodeDecodeFailure   ErrorCode = "DECODE_FAILURE"
	ErrCodeToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeCancelled       ErrorCode = "CANCELLED"
	ErrCodeToolExecution   ErrorCode = "TOOL_EXECUTION_FAILURE"
	ErrCodeStepLimit       ErrorCode = "STEP_LIMIT_EXCEEDED"
	ErrCodeModelFailure    ErrorCode = "MODEL_FAILURE"
	ErrCodeExecutorPanic   ErrorCode = "EXECUTOR_PANIC"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

var (
	// ErrTaskInput is returned by Execute for an empty task. No state is touched.
	ErrTaskInput = errors.New("task must not be empty")
	// ErrDisposed is returned by Execute once the agent has been disposed, and
	// is the cancellation cause of a task interrupted by Dispose.
	ErrDisposed = errors.New("agent has been disposed")
	// ErrBusy is returned by Execute when the overlap policy rejects a new task.
	ErrBusy = errors.New("agent is already running a task")
	// ErrSuperseded is the cancellation cause of a task replaced by a newer one.
	ErrSuperseded = errors.New("superseded by a newer task")
	// ErrStepLimit terminates a task that never selected the terminal tool.
	ErrStepLimit = errors.New(StepLimitMessage)
)

// StepLimitMessage is the result data of a task that ran out of steps.
const StepLimitMessage = "Step count exceeded maximum limit"

// DecodeError reports model output that does not conform to the decision schema.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode model decision: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ToolNotFoundError reports a decision naming a tool that is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

// CancellationError reports that the task's token was cancelled. Cause
// carries the reason supplied by whoever cancelled it.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil {
		return "task cancelled"
	}
	return fmt.Sprintf("task cancelled: %v", e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// ToolExecutionError wraps a failure raised by a tool's execute operation.
type ToolExecutionError struct {
	Tool  string
	Code  ErrorCode
	Err   error
	Panic bool
}

func (e *ToolExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("tool %q panicked: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// cancellationFrom converts a cancelled context into a CancellationError.
// It returns nil while ctx is still live.
func cancellationFrom(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return &CancellationError{Cause: context.Cause(ctx)}
}

// CodeOf classifies err for events and persistence.
func CodeOf(err error) ErrorCode {
	var (
		decodeErr   *DecodeError
		notFoundErr *ToolNotFoundError
		cancelErr   *CancellationError
		toolErr     *ToolExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTaskInput):
		return ErrCodeTaskInput
	case errors.Is(err, ErrBusy):
		return ErrCodeBusy
	case errors.As(err, &cancelErr):
		return ErrCodeCancelled
	case errors.Is(err, ErrDisposed):
		return ErrCodeDisposed
	case errors.As(err, &notFoundErr):
		return ErrCodeToolNotFound
	case errors.As(err, &decodeErr):
		return ErrCodeDecodeFailure
	case errors.As(err, &toolErr):
		if toolErr.Code != "" {
			return toolErr.Code
		}
		return ErrCodeToolExecution
	case errors.Is(err, ErrStepLimit):
		return ErrCodeStepLimit
	default:
		return ErrCodeModelFailure
	}
}
