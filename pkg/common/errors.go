package common

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationError reports invalid parameters detected at construction
// time: bad chunk sizing, unknown backend names, missing credentials.
// It is never produced mid-operation.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ExtractionError reports that entity extraction failed for one chunk.
// Callers skip the chunk and continue; it never aborts a whole document.
type ExtractionError struct {
	ChunkID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for chunk %s: %v", e.ChunkID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError reports a backend I/O or network failure. It propagates to
// the caller of the operation that triggered it.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err with the backend and operation that failed.
func NewStorageError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}

// IsTimeout reports whether err represents an exceeded deadline, either
// a context deadline or a transport-level timeout surfaced by a backend.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
