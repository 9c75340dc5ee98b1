// Package store provides in-process Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/evaluation-engine/evaluation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	records  map[string]evaluation.EvaluationRecord
	byKey    map[evaluation.Key]string
	requests map[string]evaluation.UnlockRequest
	now      func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the clock used for resolution timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records:  make(map[string]evaluation.EvaluationRecord),
		byKey:    make(map[evaluation.Key]string),
		requests: make(map[string]evaluation.UnlockRequest),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ evaluation.Store = (*Memory)(nil)

func (m *Memory) CreateRecord(ctx context.Context, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.EvaluationRecord{}, evaluation.Storage("create record", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRecordLocked(rec)
}

func (m *Memory) createRecordLocked(rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	key := rec.Key()
	if id, ok := m.byKey[key]; ok {
		existing := m.records[id]
		return evaluation.EvaluationRecord{}, &evaluation.ConflictError{
			Key:              key,
			ExistingRecordID: existing.ID,
			ExistingStatus:   existing.Status,
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = evaluation.StatusPending
	}
	m.records[rec.ID] = rec
	m.byKey[key] = rec.ID
	return rec, nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (evaluation.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.EvaluationRecord{}, evaluation.Storage("get record", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRecordLocked(id)
}

func (m *Memory) getRecordLocked(id string) (evaluation.EvaluationRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return evaluation.EvaluationRecord{}, evaluation.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) FindRecord(ctx context.Context, key evaluation.Key) (evaluation.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.EvaluationRecord{}, evaluation.Storage("find record", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findRecordLocked(key)
}

func (m *Memory) findRecordLocked(key evaluation.Key) (evaluation.EvaluationRecord, error) {
	id, ok := m.byKey[key]
	if !ok {
		return evaluation.EvaluationRecord{}, evaluation.ErrNotFound
	}
	return m.records[id], nil
}

func (m *Memory) ListRecords(ctx context.Context, scope evaluation.Scope, status evaluation.Status) ([]evaluation.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, evaluation.Storage("list records", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRecordsLocked(scope, status), nil
}

func (m *Memory) listRecordsLocked(scope evaluation.Scope, status evaluation.Status) []evaluation.EvaluationRecord {
	result := make([]evaluation.EvaluationRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !scope.Matches(rec.ProjectID) {
			continue
		}
		if status != "" && rec.Status.Effective() != status {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) SetRecordStatus(ctx context.Context, ids []string, to evaluation.Status, from ...evaluation.Status) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, evaluation.Storage("set record status", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRecordStatusLocked(ids, to, from), nil
}

func (m *Memory) setRecordStatusLocked(ids []string, to evaluation.Status, from []evaluation.Status) int {
	changed := 0
	for _, id := range ids {
		rec, ok := m.records[id]
		if !ok || !statusIn(rec.Status.Effective(), from) || rec.Status.Effective() == to {
			continue
		}
		rec.Status = to
		m.records[id] = rec
		changed++
	}
	return changed
}

func (m *Memory) DeleteRecord(ctx context.Context, recordID string, key evaluation.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, evaluation.Storage("delete record", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRecordLocked(recordID, key), nil
}

func (m *Memory) deleteRecordLocked(recordID string, key evaluation.Key) bool {
	id := recordID
	if id == "" {
		id = m.byKey[key]
	}
	rec, ok := m.records[id]
	if !ok {
		return false
	}
	delete(m.records, id)
	delete(m.byKey, rec.Key())
	return true
}

// =============================================================================
// UNLOCK REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(ctx context.Context, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.UnlockRequest{}, evaluation.Storage("create request", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRequestLocked(req), nil
}

func (m *Memory) createRequestLocked(req evaluation.UnlockRequest) evaluation.UnlockRequest {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.now().UTC()
	}
	if req.Status == "" {
		req.Status = evaluation.StatusPending
	}
	m.requests[req.ID] = req
	return req
}

func (m *Memory) GetRequest(ctx context.Context, id string) (evaluation.UnlockRequest, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.UnlockRequest{}, evaluation.Storage("get request", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Memory) getRequestLocked(id string) (evaluation.UnlockRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return evaluation.UnlockRequest{}, evaluation.ErrNotFound
	}
	return req, nil
}

func (m *Memory) ListRequests(ctx context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, evaluation.Storage("list requests", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequestsLocked(filter), nil
}

func (m *Memory) listRequestsLocked(filter evaluation.RequestFilter) []evaluation.UnlockRequest {
	result := make([]evaluation.UnlockRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if !filter.Scope.Matches(req.ProjectID) {
			continue
		}
		if filter.Status != "" && req.Status.Effective() != filter.Status {
			continue
		}
		if filter.Key != nil && req.Key() != *filter.Key {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) TransitionRequests(ctx context.Context, ids []string, from, to evaluation.Status, by string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, evaluation.Storage("transition requests", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ids, from, to, by), nil
}

func (m *Memory) transitionLocked(ids []string, from, to evaluation.Status, by string) int {
	resolvedAt := m.now().UTC()
	changed := 0
	for _, id := range ids {
		req, ok := m.requests[id]
		if !ok || req.Status.Effective() != from {
			continue
		}
		req.Status = to
		req.ResolvedBy = by
		at := resolvedAt
		req.ResolvedAt = &at
		m.requests[id] = req
		changed++
	}
	return changed
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(evaluation.Store) error) error {
	if err := ctx.Err(); err != nil {
		return evaluation.Storage("begin tx", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records  map[string]evaluation.EvaluationRecord
	byKey    map[evaluation.Key]string
	requests map[string]evaluation.UnlockRequest
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		records:  make(map[string]evaluation.EvaluationRecord, len(m.records)),
		byKey:    make(map[evaluation.Key]string, len(m.byKey)),
		requests: make(map[string]evaluation.UnlockRequest, len(m.requests)),
	}
	for k, v := range m.records {
		s.records[k] = v
	}
	for k, v := range m.byKey {
		s.byKey[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.records = s.records
	m.byKey = s.byKey
	m.requests = s.requests
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateRecord(_ context.Context, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	return tv.parent.createRecordLocked(rec)
}

func (tv *txMemoryView) GetRecord(_ context.Context, id string) (evaluation.EvaluationRecord, error) {
	return tv.parent.getRecordLocked(id)
}

func (tv *txMemoryView) FindRecord(_ context.Context, key evaluation.Key) (evaluation.EvaluationRecord, error) {
	return tv.parent.findRecordLocked(key)
}

func (tv *txMemoryView) ListRecords(_ context.Context, scope evaluation.Scope, status evaluation.Status) ([]evaluation.EvaluationRecord, error) {
	return tv.parent.listRecordsLocked(scope, status), nil
}

func (tv *txMemoryView) SetRecordStatus(_ context.Context, ids []string, to evaluation.Status, from ...evaluation.Status) (int, error) {
	return tv.parent.setRecordStatusLocked(ids, to, from), nil
}

func (tv *txMemoryView) DeleteRecord(_ context.Context, recordID string, key evaluation.Key) (bool, error) {
	return tv.parent.deleteRecordLocked(recordID, key), nil
}

func (tv *txMemoryView) CreateRequest(_ context.Context, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	return tv.parent.createRequestLocked(req), nil
}

func (tv *txMemoryView) GetRequest(_ context.Context, id string) (evaluation.UnlockRequest, error) {
	return tv.parent.getRequestLocked(id)
}

func (tv *txMemoryView) ListRequests(_ context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	return tv.parent.listRequestsLocked(filter), nil
}

func (tv *txMemoryView) TransitionRequests(_ context.Context, ids []string, from, to evaluation.Status, by string) (int, error) {
	return tv.parent.transitionLocked(ids, from, to, by), nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txMemoryView) WithTx(_ context.Context, fn func(evaluation.Store) error) error {
	return fn(tv)
}

func statusIn(s evaluation.Status, set []evaluation.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if candidate.Effective() == s {
			return true
		}
	}
	return false
}
