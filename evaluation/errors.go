/*
errors.go - Centralized error types for the evaluation engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is on the
  sentinels; structured errors carry detail and unwrap to a sentinel.

ERROR CATEGORIES:
  1. Conflict        - composite key already occupied on create
  2. NotFound        - unknown id (the workflow treats this as resolved)
  3. StorageFailure  - transient store/transport failure, incl. timeouts
  4. AlreadyInFlight - single-flight violation inside a session
  5. InvalidInput    - malformed caller input

SEE ALSO:
  - result.go: Maps these errors to the caller-facing Result
*/
package evaluation

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned when a record already exists for (subject, date).
	ErrConflict = errors.New("evaluation already exists for subject and date")

	// ErrNotFound is returned when an id does not resolve to a row.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure wraps transient store errors. Safe to retry manually.
	ErrStorageFailure = errors.New("storage failure")

	// ErrAlreadyInFlight is returned when a session already runs a mutation.
	ErrAlreadyInFlight = errors.New("another operation is already in flight")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports which record holds the key.
type ConflictError struct {
	Key              Key
	ExistingRecordID string
	ExistingStatus   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("evaluation for %s already exists (record %s, status %s)",
		e.Key, e.ExistingRecordID, e.ExistingStatus.Effective())
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError wraps a driver or transport error with the operation name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// Storage wraps err as a StorageError unless it already carries a domain
// sentinel. Returns nil for nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if a manual retry might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, context.DeadlineExceeded)
}
