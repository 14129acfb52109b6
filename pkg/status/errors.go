// Package status defines the error taxonomy of the flash key-value store and
// the small integer status codes the binding layer hands to callers.
package status

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by the engine wraps exactly one of these.
var (
	ErrPartitionNotFound = errors.New("partition not found")
	ErrTableCorrupt      = errors.New("partition table corrupt")
	ErrKeyNotFound       = errors.New("key not found")
	ErrSizeMismatch      = errors.New("size mismatch")
	ErrPartitionFull     = errors.New("partition full")
	ErrIO                = errors.New("device I/O error")
	ErrCorrupt           = errors.New("record corrupt")
	ErrOutOfRange        = errors.New("offset out of range")
	ErrNotInitialized    = errors.New("partition not initialized")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrReadOnly          = errors.New("partition is read-only")
	ErrUnsupported       = errors.New("partition does not hold a key-value store")
	ErrUnauthorized      = errors.New("unauthorized")
)

// OpError provides structured error information for engine operations.
type OpError struct {
	Op        string // Operation that failed (e.g., "write", "init")
	Partition string
	Namespace string
	Key       string
	Context   string // Additional context
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	target := e.Partition
	if e.Namespace != "" {
		target += "/" + e.Namespace
	}
	if e.Key != "" {
		target += "/" + e.Key
	}

	switch {
	case target != "" && e.Context != "":
		return fmt.Sprintf("%s %s (%s): %v", e.Op, target, e.Context, e.Cause)
	case target != "":
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Cause)
	case e.Context != "":
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Context, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
}

// Unwrap returns the underlying cause for error chain support.
func (e *OpError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building OpErrors.
type ErrorBuilder struct {
	err OpError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: OpError{Op: op}}
}

// Partition sets the partition name.
func (b *ErrorBuilder) Partition(name string) *ErrorBuilder {
	b.err.Partition = name
	return b
}

// Blob sets the namespace and key of the record involved.
func (b *ErrorBuilder) Blob(namespace, key string) *ErrorBuilder {
	b.err.Namespace = namespace
	b.err.Key = key
	return b
}

// Namespace sets the namespace only.
func (b *ErrorBuilder) Namespace(ns string) *ErrorBuilder {
	b.err.Namespace = ns
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(format string, args ...any) *ErrorBuilder {
	b.err.Context = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Build returns the constructed OpError.
func (b *ErrorBuilder) Build() *OpError {
	return &b.err
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// IOError wraps a device fault so that errors.Is(err, ErrIO) holds while the
// original fault stays inspectable.
func IOError(op string, cause error) error {
	if errors.Is(cause, ErrIO) {
		return cause
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, cause)
}

// IsNotFound returns true for missing partitions and missing keys.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrPartitionNotFound)
}

// IsRetryable reports whether retrying the whole operation could succeed.
// Only device faults qualify; logical faults are deterministic.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsUnrecoverable reports whether the partition must be erased and
// reinitialized before it can be trusted again.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrTableCorrupt) || errors.Is(err, ErrCorrupt)
}
