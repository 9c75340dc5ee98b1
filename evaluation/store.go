/*
store.go - Persistence contracts for records and unlock requests

PURPOSE:
  Defines the boundary between the workflow and the database. Every
  mutation is expressed so that concurrent callers converge on the same
  terminal state without error.

CONVERGENCE RULES:
  - DeleteRecord is idempotent. Deleting a missing record reports
    deleted=false, never ErrNotFound. Two reviewers approving duplicate
    requests both attempt the delete; the second is a no-op.
  - Status changes are conditional "in-list" updates: rows are selected by
    explicit ids AND by their current status. A row another
    caller already moved is skipped, not overwritten.

TRANSACTIONS:
  WithTx runs fn against a transactional view. If fn returns an error the
  whole unit is rolled back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:        SQLite (production)
  - evaluation/store/memory.go:    In-memory (tests/dev)
  - notify/store.go:               Decorator publishing change events
*/
package evaluation

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	// CreateRecord inserts rec with status pending. Returns a *ConflictError
	// if a record already exists for rec.Key().
	CreateRecord(ctx context.Context, rec EvaluationRecord) (EvaluationRecord, error)

	// GetRecord returns ErrNotFound for an unknown id.
	GetRecord(ctx context.Context, id string) (EvaluationRecord, error)

	// FindRecord returns ErrNotFound if the key is free.
	FindRecord(ctx context.Context, key Key) (EvaluationRecord, error)

	// ListRecords filters by scope and, if status is non-empty, by effective status.
	ListRecords(ctx context.Context, scope Scope, status Status) ([]EvaluationRecord, error)

	// SetRecordStatus moves the listed records to `to`. When from is
	// non-empty only records currently in one of those statuses change.
	// Returns the number of rows actually changed.
	SetRecordStatus(ctx context.Context, ids []string, to Status, from ...Status) (int, error)

	// DeleteRecord deletes by id when recordID is set, otherwise by key.
	DeleteRecord(ctx context.Context, recordID string, key Key) (bool, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

// RequestFilter narrows ListRequests. Zero values mean "no filter".
type RequestFilter struct {
	Scope  Scope
	Status Status
	Key    *Key
}

type RequestStore interface {
	CreateRequest(ctx context.Context, req UnlockRequest) (UnlockRequest, error)

	// GetRequest returns ErrNotFound for an unknown id.
	GetRequest(ctx context.Context, id string) (UnlockRequest, error)

	// ListRequests returns matching requests ordered by creation time.
	ListRequests(ctx context.Context, filter RequestFilter) ([]UnlockRequest, error)

	// TransitionRequests moves the listed requests from `from` to `to`.
	// Requests not currently in `from` are skipped.
	TransitionRequests(ctx context.Context, ids []string, from, to Status, by string) (int, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

type Store interface {
	RecordStore
	RequestStore

	// WithTx executes fn within a transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
