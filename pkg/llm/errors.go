package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pool lifecycle sentinels.
var (
	// ErrPoolNotInitialized is returned when the pool is used before New.
	ErrPoolNotInitialized = errors.New("connection pool not initialized")

	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("connection pool closed")
)

// TimeoutError reports that a bounded LLM operation exceeded its budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm %s timed out after %s", e.Op, e.Timeout)
}

// TransportError reports a network-level failure against the model server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm %s transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ModelUnavailableError reports that the requested model is not loaded or has
// been removed. It is never retried on the same model; the router selects a
// fallback instead.
type ModelUnavailableError struct {
	Model string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable", e.Model)
}

// IsModelUnavailable reports whether err is a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var mu *ModelUnavailableError
	return errors.As(err, &mu)
}

// IsTimeout reports whether err is a TimeoutError or a context deadline.
func IsTimeout(err error) bool {
	var to *TimeoutError
	return errors.As(err, &to) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorKind maps an error to the taxonomy used in error event payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case IsTimeout(err):
		return "timeout"
	case IsModelUnavailable(err):
		return "model_unavailable"
	default:
		var tr *TransportError
		if errors.As(err, &tr) {
			return "transport"
		}
		return "internal"
	}
}

// Retryable reports whether an error kind permits a retry on the same model.
func Retryable(err error) bool {
	k := ErrorKind(err)
	return k == "timeout" || k == "transport"
}
