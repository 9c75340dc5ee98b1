/*
Package sqlite provides a SQLite-backed implementation of evaluation.Store.

PURPOSE:
  Persists evaluation records and unlock requests. The composite
  (subject_id, date) uniqueness of a record is enforced by the database,
  not by a read-then-write check, so two concurrent submissions for the
  same day cannot both succeed.

KEY TABLES:
  evaluation_records: One scored evaluation per subject per day
  unlock_requests:    Requests to delete a locked evaluation

INDEXES:
  - idx_records_subject_date (UNIQUE): The evaluation lock
  - idx_records_project_status:       Reviewer list views
  - idx_requests_key_status:          Cascade and straggler sweep
  - idx_requests_project_status:      Reviewer list views

LEGACY ROWS:
  Rows written before statuses existed have a NULL status. They are read
  and filtered as 'approved' everywhere via COALESCE.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single pooled connection so
  ":memory:" databases are shared by every caller. The transactional view
  talks to the *sql.Tx directly and never takes the mutex.

USAGE:
  store, err := sqlite.New("./data/evallock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  wf := evaluation.NewWorkflow(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - evaluation/store.go: Interface definitions
  - evaluation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/evaluation-engine/evaluation"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements evaluation.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var _ evaluation.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Evaluation records (one per subject per day)
	CREATE TABLE IF NOT EXISTS evaluation_records (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		date TEXT NOT NULL,
		evaluator_id TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		attendance INTEGER NOT NULL,
		productivity INTEGER NOT NULL,
		quality INTEGER NOT NULL,
		safety INTEGER NOT NULL,
		average TEXT NOT NULL,
		status TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the evaluation lock
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_subject_date
		ON evaluation_records(subject_id, date);

	CREATE INDEX IF NOT EXISTS idx_records_project_status
		ON evaluation_records(project_id, status);

	-- Unlock requests
	CREATE TABLE IF NOT EXISTS unlock_requests (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		subject_name TEXT NOT NULL DEFAULT '',
		requester_id TEXT NOT NULL,
		requester_name TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		target_record_id TEXT,
		date TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_key_status
		ON unlock_requests(subject_id, date, status);

	CREATE INDEX IF NOT EXISTS idx_requests_project_status
		ON unlock_requests(project_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `id, subject_id, date, evaluator_id, project_id,
	attendance, productivity, quality, safety, average, status, created_at`

// CreateRecord inserts a record. The unique index turns a second insert for
// the same key into a *evaluation.ConflictError.
func (s *Store) CreateRecord(ctx context.Context, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createRecord(ctx, s.db, rec)
}

func (s *Store) createRecord(ctx context.Context, db querier, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Status == "" {
		rec.Status = evaluation.StatusPending
	}

	query := `
		INSERT INTO evaluation_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.Date,
		rec.EvaluatorID,
		rec.ProjectID,
		rec.Scores.Attendance,
		rec.Scores.Productivity,
		rec.Scores.Quality,
		rec.Scores.Safety,
		rec.Average.String(),
		string(rec.Status),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			conflict := &evaluation.ConflictError{Key: rec.Key()}
			if existing, ferr := s.findRecord(ctx, db, rec.Key()); ferr == nil {
				conflict.ExistingRecordID = existing.ID
				conflict.ExistingStatus = existing.Status
			}
			return evaluation.EvaluationRecord{}, conflict
		}
		return evaluation.EvaluationRecord{}, evaluation.Storage("insert evaluation record", err)
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (evaluation.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRecord(ctx, s.db, id)
}

func (s *Store) getRecord(ctx context.Context, db querier, id string) (evaluation.EvaluationRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM evaluation_records WHERE id = ?`, id)
	return scanRecordRow(row)
}

func (s *Store) FindRecord(ctx context.Context, key evaluation.Key) (evaluation.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findRecord(ctx, s.db, key)
}

func (s *Store) findRecord(ctx context.Context, db querier, key evaluation.Key) (evaluation.EvaluationRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM evaluation_records WHERE subject_id = ? AND date = ?`,
		key.SubjectID, key.Date)
	return scanRecordRow(row)
}

func (s *Store) ListRecords(ctx context.Context, scope evaluation.Scope, status evaluation.Status) ([]evaluation.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listRecords(ctx, s.db, scope, status)
}

func (s *Store) listRecords(ctx context.Context, db querier, scope evaluation.Scope, status evaluation.Status) ([]evaluation.EvaluationRecord, error) {
	var where []string
	var args []any
	if scoped(scope) {
		where = append(where, "project_id = ?")
		args = append(args, string(scope))
	}
	if status != "" {
		where = append(where, "COALESCE(status, 'approved') = ?")
		args = append(args, string(status))
	}

	query := `SELECT ` + recordColumns + ` FROM evaluation_records` + whereClause(where) +
		` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, evaluation.Storage("query evaluation records", err)
	}
	defer rows.Close()

	var result []evaluation.EvaluationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, evaluation.Storage("query evaluation records", err)
	}
	return result, nil
}

// SetRecordStatus is a conditional in-list update.
func (s *Store) SetRecordStatus(ctx context.Context, ids []string, to evaluation.Status, from ...evaluation.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setRecordStatus(ctx, s.db, ids, to, from)
}

func (s *Store) setRecordStatus(ctx context.Context, db querier, ids []string, to evaluation.Status, from []evaluation.Status) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := []any{string(to)}
	args = append(args, stringArgs(ids)...)
	query := `UPDATE evaluation_records SET status = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	if len(from) > 0 {
		query += ` AND COALESCE(status, 'approved') IN (` + placeholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(f.Effective()))
		}
	}
	query += ` AND COALESCE(status, 'approved') != ?`
	args = append(args, string(to))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, evaluation.Storage("update evaluation status", err)
	}
	return rowsAffected(res)
}

// DeleteRecord deletes by id when recordID is set, otherwise by key.
// Deleting a missing row is not an error.
func (s *Store) DeleteRecord(ctx context.Context, recordID string, key evaluation.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteRecord(ctx, s.db, recordID, key)
}

func (s *Store) deleteRecord(ctx context.Context, db querier, recordID string, key evaluation.Key) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if recordID != "" {
		res, err = db.ExecContext(ctx, `DELETE FROM evaluation_records WHERE id = ?`, recordID)
	} else {
		res, err = db.ExecContext(ctx,
			`DELETE FROM evaluation_records WHERE subject_id = ? AND date = ?`,
			key.SubjectID, key.Date)
	}
	if err != nil {
		return false, evaluation.Storage("delete evaluation record", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, subject_id, subject_name, requester_id, requester_name, project_id,
	target_record_id, date, reason, status, created_at, resolved_at, resolved_by`

func (s *Store) CreateRequest(ctx context.Context, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createRequest(ctx, s.db, req)
}

func (s *Store) createRequest(ctx context.Context, db querier, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if req.Status == "" {
		req.Status = evaluation.StatusPending
	}

	var resolvedAt sql.NullString
	if req.ResolvedAt != nil {
		resolvedAt = nullString(formatTime(*req.ResolvedAt))
	}

	query := `
		INSERT INTO unlock_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		req.ID,
		req.SubjectID,
		req.SubjectName,
		req.RequesterID,
		req.RequesterName,
		req.ProjectID,
		nullString(req.TargetRecordID),
		req.Date,
		req.Reason,
		string(req.Status),
		formatTime(req.CreatedAt),
		resolvedAt,
		nullString(req.ResolvedBy),
	)
	if err != nil {
		return evaluation.UnlockRequest{}, evaluation.Storage("insert unlock request", err)
	}

	req.CreatedAt = req.CreatedAt.UTC()
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (evaluation.UnlockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRequest(ctx, s.db, id)
}

func (s *Store) getRequest(ctx context.Context, db querier, id string) (evaluation.UnlockRequest, error) {
	row := db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM unlock_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return evaluation.UnlockRequest{}, evaluation.ErrNotFound
	}
	if err != nil {
		return evaluation.UnlockRequest{}, evaluation.Storage("get unlock request", err)
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listRequests(ctx, s.db, filter)
}

func (s *Store) listRequests(ctx context.Context, db querier, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	var where []string
	var args []any
	if scoped(filter.Scope) {
		where = append(where, "project_id = ?")
		args = append(args, string(filter.Scope))
	}
	if filter.Status != "" {
		where = append(where, "COALESCE(status, 'approved') = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Key != nil {
		where = append(where, "subject_id = ? AND date = ?")
		args = append(args, filter.Key.SubjectID, filter.Key.Date)
	}

	query := `SELECT ` + requestColumns + ` FROM unlock_requests` + whereClause(where) +
		` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, evaluation.Storage("query unlock requests", err)
	}
	defer rows.Close()

	var result []evaluation.UnlockRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, evaluation.Storage("scan unlock request", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, evaluation.Storage("query unlock requests", err)
	}
	return result, nil
}

// TransitionRequests only moves rows still in `from`.
func (s *Store) TransitionRequests(ctx context.Context, ids []string, from, to evaluation.Status, by string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionRequests(ctx, s.db, ids, from, to, by)
}

func (s *Store) transitionRequests(ctx context.Context, db querier, ids []string, from, to evaluation.Status, by string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := []any{string(to), nullString(by), formatTime(s.now())}
	args = append(args, stringArgs(ids)...)
	args = append(args, string(from))

	res, err := db.ExecContext(ctx, `
		UPDATE unlock_requests
		SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)
		  AND COALESCE(status, 'approved') = ?
	`, args...)
	if err != nil {
		return 0, evaluation.Storage("transition unlock requests", err)
	}
	return rowsAffected(res)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store evaluation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evaluation.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return evaluation.Storage("commit transaction", err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateRecord(ctx context.Context, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	return ts.parent.createRecord(ctx, ts.tx, rec)
}

func (ts *txStore) GetRecord(ctx context.Context, id string) (evaluation.EvaluationRecord, error) {
	return ts.parent.getRecord(ctx, ts.tx, id)
}

func (ts *txStore) FindRecord(ctx context.Context, key evaluation.Key) (evaluation.EvaluationRecord, error) {
	return ts.parent.findRecord(ctx, ts.tx, key)
}

func (ts *txStore) ListRecords(ctx context.Context, scope evaluation.Scope, status evaluation.Status) ([]evaluation.EvaluationRecord, error) {
	return ts.parent.listRecords(ctx, ts.tx, scope, status)
}

func (ts *txStore) SetRecordStatus(ctx context.Context, ids []string, to evaluation.Status, from ...evaluation.Status) (int, error) {
	return ts.parent.setRecordStatus(ctx, ts.tx, ids, to, from)
}

func (ts *txStore) DeleteRecord(ctx context.Context, recordID string, key evaluation.Key) (bool, error) {
	return ts.parent.deleteRecord(ctx, ts.tx, recordID, key)
}

func (ts *txStore) CreateRequest(ctx context.Context, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	return ts.parent.createRequest(ctx, ts.tx, req)
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (evaluation.UnlockRequest, error) {
	return ts.parent.getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	return ts.parent.listRequests(ctx, ts.tx, filter)
}

func (ts *txStore) TransitionRequests(ctx context.Context, ids []string, from, to evaluation.Status, by string) (int, error) {
	return ts.parent.transitionRequests(ctx, ts.tx, ids, from, to, by)
}

// WithTx joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(store evaluation.Store) error) error {
	return fn(ts)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"unlock_requests", "evaluation_records"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return evaluation.Storage("reset "+table, err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(row *sql.Row) (evaluation.EvaluationRecord, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return evaluation.EvaluationRecord{}, evaluation.ErrNotFound
	}
	return rec, err
}

func scanRecord(row scanner) (evaluation.EvaluationRecord, error) {
	var (
		rec       evaluation.EvaluationRecord
		average   string
		status    sql.NullString
		createdAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.SubjectID,
		&rec.Date,
		&rec.EvaluatorID,
		&rec.ProjectID,
		&rec.Scores.Attendance,
		&rec.Scores.Productivity,
		&rec.Scores.Quality,
		&rec.Scores.Safety,
		&average,
		&status,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return evaluation.EvaluationRecord{}, err
	}
	if err != nil {
		return evaluation.EvaluationRecord{}, evaluation.Storage("scan evaluation record", err)
	}

	if rec.Average, err = decimal.NewFromString(average); err != nil {
		return evaluation.EvaluationRecord{}, evaluation.Storage("parse average", err)
	}
	rec.Status = evaluation.Status(status.String)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

func scanRequest(row scanner) (evaluation.UnlockRequest, error) {
	var (
		req        evaluation.UnlockRequest
		target     sql.NullString
		status     sql.NullString
		createdAt  string
		resolvedAt sql.NullString
		resolvedBy sql.NullString
	)
	err := row.Scan(
		&req.ID,
		&req.SubjectID,
		&req.SubjectName,
		&req.RequesterID,
		&req.RequesterName,
		&req.ProjectID,
		&target,
		&req.Date,
		&req.Reason,
		&status,
		&createdAt,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return evaluation.UnlockRequest{}, err
	}

	req.TargetRecordID = target.String
	req.Status = evaluation.Status(status.String)
	req.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		req.ResolvedAt = &t
	}
	req.ResolvedBy = resolvedBy.String
	return req, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if t, err := time.Parse(timeLayout, raw); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, raw)
	return t.UTC()
}

func scoped(scope evaluation.Scope) bool {
	return scope != "" && scope != evaluation.ScopeAll
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, evaluation.Storage("rows affected", err)
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
