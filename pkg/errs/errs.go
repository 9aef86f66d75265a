// Package errs defines the error taxonomy shared by the messaging core.
// Callers branch with errors.Is / errors.As; handlers map these onto HTTP
// statuses.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers a thread that is missing, archived, or not visible
	// to the caller.
	ErrNotFound = errors.New("not found")
	// ErrValidationFailed is returned before any write is attempted.
	ErrValidationFailed = errors.New("validation failed")
	// ErrWriteFailed wraps a durable-store write rejection.
	ErrWriteFailed = errors.New("write failed")
	// ErrSubscriptionLost signals that the live feed disconnected or lapsed
	// and the subscriber must re-fetch the tail after resubscribing.
	ErrSubscriptionLost = errors.New("subscription lost")
)

// ComposeStep identifies which step of thread creation a write failure
// interrupted, so callers can resume from it.
type ComposeStep string

const (
	StepThread  ComposeStep = "thread"
	StepMembers ComposeStep = "members"
	StepMessage ComposeStep = "message"
)

// WriteError is a WriteFailed carrying the interrupted compose step and the
// already-created thread id, when one exists.
type WriteError struct {
	Step   ComposeStep
	Thread string
	Err    error
}

func (e *WriteError) Error() string {
	if e.Thread != "" {
		return fmt.Sprintf("write failed at step %s (thread %s): %v", e.Step, e.Thread, e.Err)
	}
	return fmt.Sprintf("write failed at step %s: %v", e.Step, e.Err)
}

func (e *WriteError) Unwrap() error { return ErrWriteFailed }

// Cause returns the underlying store error.
func (e *WriteError) Cause() error { return e.Err }

// Validation builds a ValidationFailed error naming the offending field.
func Validation(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidationFailed, field, reason)
}
