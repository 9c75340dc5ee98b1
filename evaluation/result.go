package evaluation

import (
	"context"
	"errors"
)

// Code classifies a failed Result.
type Code string

const (
	CodeOK              Code = "ok"
	CodeConflict        Code = "conflict"
	CodeNotFound        Code = "not_found"
	CodeStorageFailure  Code = "storage_failure"
	CodeAlreadyInFlight Code = "already_in_flight"
	CodeInvalidInput    Code = "invalid_input"
	CodeInternal        Code = "internal"
)

// Result is the caller-facing outcome of an engine operation: an explicit
// success flag and, on failure, a human readable cause.
type Result struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code"`
	Cause   string `json:"cause,omitempty"`
}

// ResultOf converts an operation error into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true, Code: CodeOK}
	}
	return Result{Success: false, Code: CodeOf(err), Cause: err.Error()}
}

// CodeOf maps an error onto the engine taxonomy.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrAlreadyInFlight):
		return CodeAlreadyInFlight
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStorageFailure),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeStorageFailure
	default:
		return CodeInternal
	}
}
