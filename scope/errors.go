package scope

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrDuplicateSubmission is returned when the same task is submitted
// twice into a scope.
var ErrDuplicateSubmission = errors.New("scope: task already submitted")

// Cancellation causes recorded on the scope context. Tasks can inspect
// them via context.Cause.
var (
	// ErrCancelled is the cause when the scope cancelled itself via Cancel.
	ErrCancelled = errors.New("scope: cancelled")
	// ErrTimedOut is the cause when the scope's timeout fired.
	ErrTimedOut = errors.New("scope: timed out")
)

// IllegalStateError reports a lifecycle operation that is invalid for
// the scope's current state, such as entering twice or exiting a scope
// that was never entered.
type IllegalStateError struct {
	Op    string
	State State
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("scope: %s invalid in state %s", e.Op, e.State)
}

// UsageError reports API misuse, such as calling Cancel outside a
// governed Run block. Usage errors indicate caller bugs and are raised
// as panics rather than returned.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return "scope: " + e.Reason }

// PanicError wraps a panic recovered from a task body together with the
// goroutine stack captured at the point of the panic. With
// WithPanicAsError (the default) it is recorded as the task's outcome.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scope: task panic: %v\n%s", e.Value, e.Stack)
}

func newPanicError(v any) *PanicError {
	// runtime.Stack truncates gracefully if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}
