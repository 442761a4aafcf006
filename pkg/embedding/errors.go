package embedding

import (
	"context"
	"errors"
	"net"

	"github.com/MrWong99/wordhoard/internal/resilience"
)

var (
	// ErrUnsupportedInputType is returned when a batch or a bound source
	// column does not match the function's declared [SourceType].
	ErrUnsupportedInputType = errors.New("embedding: unsupported input type")

	// ErrContractViolation is returned when a function yields the wrong
	// number of vectors or a vector of the wrong width. It signals a broken
	// implementation, not a transient failure.
	ErrContractViolation = errors.New("embedding: batch contract violated")

	// ErrDuplicateName is returned by [Builder.Register] when the name or the
	// destination column is already bound.
	ErrDuplicateName = errors.New("embedding: duplicate registration")

	// ErrUnknownFunction is returned by [Registry.Lookup] callers that need an
	// error value for a name that was never registered.
	ErrUnknownFunction = errors.New("embedding: function not registered")
)

// ComputeError reports a failed embedding computation: network failure,
// timeout, malformed provider response, or an open circuit breaker.
type ComputeError struct {
	// Function is the name of the failing embedding function.
	Function string

	// Transient is true when retrying later may succeed.
	Transient bool

	// Err is the underlying cause.
	Err error
}

func (e *ComputeError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return "embedding: " + e.Function + ": " + kind + " compute failure: " + e.Err.Error()
}

func (e *ComputeError) Unwrap() error { return e.Err }

// IsComputeError reports whether err is or wraps a [*ComputeError].
func IsComputeError(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce)
}

// newComputeError classifies err and wraps it in a [*ComputeError].
func newComputeError(fn string, err error) *ComputeError {
	return &ComputeError{Function: fn, Transient: isTransient(err), Err: err}
}

// temporary is implemented by provider errors that know whether a retry may
// succeed, such as HTTP status errors.
type temporary interface {
	Temporary() bool
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}
