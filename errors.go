package raft

import (
	"errors"
	"fmt"

	"github.com/csadorf/raft/resource"
)

// The three error categories every operation reports through. All failures
// are synchronous and descriptive; none are swallowed or retried.
var (
	// ErrBadConfig marks invalid parameter combinations, detected before any
	// work is launched.
	ErrBadConfig = errors.New("invalid configuration")

	// ErrResourceExhausted marks allocation failures from the memory pool.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrExecution marks a kernel or operation that faulted or was
	// misconfigured at run time.
	ErrExecution = errors.New("execution failure")
)

// ConfigErrorf wraps a formatted message as a configuration error.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadConfig, fmt.Sprintf(format, args...))
}

// ExecErrorf wraps a formatted message as an execution error.
func ExecErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExecution, fmt.Sprintf(format, args...))
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Is(target error) bool { return target == ErrBadConfig }

// translateResourceError maps pool failures onto the public taxonomy.
func translateResourceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, resource.ErrPoolExhausted) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return err
}
