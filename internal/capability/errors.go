package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ValidationError reports a call that references an unknown provider or
// operation, or carries parameters that fail the declared schema. It is
// fatal for the requesting loop and never retried.
type ValidationError struct {
	Provider  string
	Operation string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid capability call %s.%s: %s", e.Provider, e.Operation, e.Reason)
}

// TransientError marks a provider failure as network/timeout-class, eligible
// for bounded retry inside the dispatcher.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient provider error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the dispatcher retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried: explicitly marked
// failures, deadline expiry, and timing-out network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
