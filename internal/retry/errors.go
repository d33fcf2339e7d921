package retry

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted marks a classified synchronization failure: every attempt of
// an operation failed or the caller gave up waiting.
//
//	if errors.Is(err, retry.ErrExhausted) {
//	    // remote unreachable, try again later
//	}
var ErrExhausted = errors.New("retries exhausted")

// ErrAttemptTimeout is the cause recorded when a single attempt outlives its timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// ErrPanic is the cause recorded when an attempt panics.
var ErrPanic = errors.New("attempt panicked")

// Error is the classified failure returned once an operation gives up.
type Error struct {
	// Operation is the human-readable name passed to Do.
	Operation string
	// Attempts is how many attempts were started.
	Attempts int
	// Cause is the error returned by the last attempt.
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Cause)
}

// Unwrap exposes the original cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes every *Error match ErrExhausted.
func (e *Error) Is(target error) bool {
	return target == ErrExhausted
}

// IsCanceled reports whether err stems from the caller cancelling its context
// rather than from the remote side.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
