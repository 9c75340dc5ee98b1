/*
session.go - Optimistic reviewing session over an eventually consistent store

PURPOSE:
  A reviewer acts on a list of pending unlock requests that is re-read
  after every change notification. Reads may lag behind writes, so a
  request the reviewer just resolved can still come back as pending. The
  session hides such stale rows and keeps one reviewer from submitting two
  mutations at once.

STATE (per session, never shared):
  tombstones:  request ids this session already resolved
  processing:  the id (or BulkToken) of the mutation in flight, or ""
  pending:     the last refreshed list, minus tombstones

ACT FLOW:
  ┌──────────────────────────────────────────────────────────────┐
  │ processing set? ──yes──▶ ErrAlreadyInFlight                  │
  │       │ no                                                   │
  │       ▼                                                      │
  │ mark in flight, drop from pending, add tombstone             │
  │       │                                                      │
  │       ▼                                                      │
  │ workflow.Approve / Reject                                    │
  │       │                                                      │
  │   failed? ──yes──▶ remove tombstone, refresh, return error   │
  │       │ no                                                   │
  │       ▼                                                      │
  │ keep tombstone                                               │
  │                                                              │
  │ (in-flight marker cleared on every exit path)                │
  └──────────────────────────────────────────────────────────────┘

TOMBSTONE EXPIRY:
  With expiry on, Refresh drops a tombstone once the pending fetch no
  longer contains its id: storage has confirmed the resolution, so there
  is nothing left to hide. The in-flight id is never expired.

SEE ALSO:
  - registry.go: Session lifecycle and notification wiring
  - evaluation/workflow.go: The mutations a session dispatches
*/
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
	"github.com/warp/evaluation-engine/notify"
)

// BulkToken is the in-flight marker used by BulkApprove.
const BulkToken = "__bulk__"

const defaultRefreshTimeout = 5 * time.Second

// Action is a reviewer decision on an unlock request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", evaluation.ErrInvalidInput, raw)
}

// Resolver performs the mutations a session dispatches.
// *evaluation.Workflow satisfies it.
type Resolver interface {
	Approve(ctx context.Context, requestID, reviewerID string) (evaluation.Outcome, error)
	Reject(ctx context.Context, requestID, reviewerID string) (evaluation.Outcome, error)
	BulkApproveRecords(ctx context.Context, ids []string) (int, error)
}

// PendingSource is the read side a session refreshes from.
// evaluation.RequestStore satisfies it.
type PendingSource interface {
	ListRequests(ctx context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error)
}

// =============================================================================
// SESSION
// =============================================================================

type Session struct {
	id         string
	reviewerID string
	scope      evaluation.Scope
	resolver   Resolver
	source     PendingSource

	log            logger.Logger
	metrics        *metrics.Manager
	expire         bool
	refreshTimeout time.Duration

	mu         sync.Mutex
	tombstones map[string]struct{}
	processing string
	pending    []evaluation.UnlockRequest
}

func NewSession(id, reviewerID string, scope evaluation.Scope, resolver Resolver, source PendingSource, opts ...Option) *Session {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		id:             id,
		reviewerID:     reviewerID,
		scope:          scope,
		resolver:       resolver,
		source:         source,
		log:            cfg.log.Named("reconcile").With(logger.String("session_id", id)),
		metrics:        cfg.metrics,
		expire:         cfg.expireTombstones,
		refreshTimeout: cfg.refreshTimeout,
		tombstones:     make(map[string]struct{}),
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) ReviewerID() string      { return s.reviewerID }
func (s *Session) Scope() evaluation.Scope { return s.scope }

// Pending returns the last refreshed list.
func (s *Session) Pending() []evaluation.UnlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]evaluation.UnlockRequest(nil), s.pending...)
}

// Tombstoned reports whether id is currently suppressed.
func (s *Session) Tombstoned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tombstones[id]
	return ok
}

// TombstoneCount returns the number of suppressed ids.
func (s *Session) TombstoneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tombstones)
}

// InFlight returns the marker of the running mutation, or "".
func (s *Session) InFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Refresh re-reads pending requests for the session scope and hides every
// tombstoned id.
func (s *Session) Refresh(ctx context.Context) ([]evaluation.UnlockRequest, error) {
	fetched, err := s.source.ListRequests(ctx, evaluation.RequestFilter{
		Scope:  s.scope,
		Status: evaluation.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh session %s: %w", s.id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]struct{}, len(fetched))
	visible := make([]evaluation.UnlockRequest, 0, len(fetched))
	suppressed := 0
	for _, req := range fetched {
		present[req.ID] = struct{}{}
		if _, dead := s.tombstones[req.ID]; dead {
			suppressed++
			continue
		}
		visible = append(visible, req)
	}

	if s.expire {
		expired := 0
		for id := range s.tombstones {
			if _, still := present[id]; still || id == s.processing {
				continue
			}
			delete(s.tombstones, id)
			expired++
		}
		s.metrics.AddTombstones(-expired)
	}

	s.pending = visible
	s.metrics.RecordRefresh(suppressed)
	return append([]evaluation.UnlockRequest(nil), visible...), nil
}

// Act approves or rejects one request optimistically. The request leaves
// the pending list immediately and comes back only if the mutation fails.
func (s *Session) Act(ctx context.Context, requestID string, action Action) (evaluation.Outcome, error) {
	if requestID == "" {
		return evaluation.Outcome{}, fmt.Errorf("%w: request id is required", evaluation.ErrInvalidInput)
	}
	if _, err := ParseAction(string(action)); err != nil {
		return evaluation.Outcome{}, err
	}

	if err := s.begin(ctx, requestID); err != nil {
		return evaluation.Outcome{}, err
	}
	defer s.finish()

	s.mu.Lock()
	s.pending = removeRequest(s.pending, requestID)
	_, existed := s.tombstones[requestID]
	if !existed {
		s.tombstones[requestID] = struct{}{}
		s.metrics.AddTombstones(1)
	}
	s.mu.Unlock()

	var (
		out evaluation.Outcome
		err error
	)
	switch action {
	case ActionApprove:
		out, err = s.resolver.Approve(ctx, requestID, s.reviewerID)
	case ActionReject:
		out, err = s.resolver.Reject(ctx, requestID, s.reviewerID)
	}
	if err != nil {
		if !existed {
			s.mu.Lock()
			delete(s.tombstones, requestID)
			s.mu.Unlock()
			s.metrics.AddTombstones(-1)
		}
		s.rollback(ctx, string(action), requestID, err)
		return evaluation.Outcome{}, err
	}

	s.log.Debug(ctx, "request resolved",
		logger.String("request_id", requestID),
		logger.String("action", string(action)),
		logger.Bool("already_resolved", out.AlreadyResolved),
	)
	return out, nil
}

// BulkApprove approves pending evaluation records under the bulk marker.
func (s *Session) BulkApprove(ctx context.Context, recordIDs []string) (int, error) {
	if err := s.begin(ctx, BulkToken); err != nil {
		return 0, err
	}
	defer s.finish()

	n, err := s.resolver.BulkApproveRecords(ctx, recordIDs)
	if err != nil {
		s.rollback(ctx, "bulk_approve", BulkToken, err)
		return 0, err
	}
	return n, nil
}

// Watch refreshes on every change event until sub ends or ctx is done.
// Events queued behind the one being handled are folded into a single
// refresh.
func (s *Session) Watch(ctx context.Context, sub notify.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !relevant(e) {
				continue
			}
			if !drain(sub) {
				return nil
			}
			s.refreshAfter(ctx, e)
		}
	}
}

// refreshAfter bounds one event-driven refresh so a stalled store cannot
// wedge the watch loop.
func (s *Session) refreshAfter(ctx context.Context, e notify.Event) {
	rctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	if _, err := s.Refresh(rctx); err != nil {
		s.log.Warn(ctx, "refresh after change event failed",
			logger.String("table", e.Table),
			logger.Error(err),
		)
	}
}

func (s *Session) begin(ctx context.Context, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing != "" {
		s.metrics.RecordInFlightRefusal()
		s.log.Debug(ctx, "action refused, another is in flight",
			logger.String("in_flight", s.processing),
			logger.String("requested", marker),
		)
		return fmt.Errorf("session %s busy with %s: %w", s.id, s.processing, evaluation.ErrAlreadyInFlight)
	}
	s.processing = marker
	return nil
}

func (s *Session) finish() {
	s.mu.Lock()
	s.processing = ""
	s.mu.Unlock()
}

// rollback re-reads storage so the failed item reappears. It runs on a
// context detached from the caller, which may already be canceled.
func (s *Session) rollback(ctx context.Context, action, marker string, cause error) {
	s.metrics.RecordRollback()
	s.log.Warn(ctx, "action failed, rolling back",
		logger.String("action", action),
		logger.String("marker", marker),
		logger.Error(cause),
	)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
	defer cancel()
	if _, err := s.Refresh(rctx); err != nil {
		s.log.Warn(ctx, "refresh after rollback failed", logger.Error(err))
	}
}

// close releases gauge contributions when the session is discarded.
func (s *Session) close() {
	s.mu.Lock()
	n := len(s.tombstones)
	s.tombstones = make(map[string]struct{})
	s.mu.Unlock()
	s.metrics.AddTombstones(-n)
}

func relevant(e notify.Event) bool {
	return e.Table == notify.TableRequests || e.Table == notify.TableRecords
}

// drain discards queued events. Returns false if the subscription ended.
func drain(sub notify.Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func removeRequest(list []evaluation.UnlockRequest, id string) []evaluation.UnlockRequest {
	out := list[:0:0]
	for _, req := range list {
		if req.ID != id {
			out = append(out, req)
		}
	}
	return out
}
