/*
workflow.go - Evaluation lock and unlock-request approval workflow

PURPOSE:
  Orchestrates every mutation of the engine:
  1. Submission:  create a pending evaluation (refused if the day is locked)
  2. Review:      move evaluations to approved/rejected
  3. Unlock:      file a request to reopen a locked evaluation
  4. Approval:    delete the target evaluation and cascade to duplicates
  5. Rejection:   resolve one request only

APPROVAL FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  load request ──▶ pending? ──no──▶ success (already resolved)    │
  │                      │                                           │
  │                     yes                                          │
  │                      ▼                                           │
  │   ┌───────────── one store transaction ───────────────┐          │
  │   │ pending→approved (conditional) ──0 rows──▶ lost race│         │
  │   │           │                                         │         │
  │   │           ▼                                         │         │
  │   │ delete record by id or key (idempotent)             │         │
  │   └─────────────────────────────────────────────────────┘         │
  │                      │                                           │
  │                      ▼                                           │
  │   cascade: pending siblings for (subject, date) → approved       │
  │   (filed by the approval, not aimed at a live record;            │
  │    failure logged, approval still succeeds)                      │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

WHY TRANSITION BEFORE DELETE:
  Only the caller whose conditional update changed the row deletes the
  record. Two reviewers approving the same request at once both get
  success, and exactly one of them is the cause of the deletion.

ASYMMETRY:
  Approve cascades to duplicate requests because their target no longer
  exists. Reject never cascades and never touches the record: it judges
  one submission, not the lock.

EXAMPLE:
  wf := evaluation.NewWorkflow(store, evaluation.WithTimeout(5*time.Second))

  rec, err := wf.SubmitEvaluation(ctx, evaluation.SubmitEvaluationInput{...})
  if evaluation.IsConflict(err) {
      // day already locked; file an unlock request instead
  }

  out, err := wf.Approve(ctx, "u-1", "reviewer-7")

SEE ALSO:
  - store.go: Convergence rules the workflow relies on
  - reconcile/session.go: Optimistic client-side view over this workflow
*/
package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
)

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	store   Store
	log     logger.Logger
	metrics *metrics.Manager
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithTimeout bounds every operation. Zero leaves the caller's deadline alone.
func WithTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		w.timeout = d
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(w *Workflow) {
		if gen != nil {
			w.newID = gen
		}
	}
}

func NewWorkflow(store Store, opts ...Option) *Workflow {
	w := &Workflow{
		store: store,
		log:   logger.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named("workflow")
	return w
}

// Store returns the underlying store, for read paths.
func (w *Workflow) Store() Store {
	return w.store
}

func (w *Workflow) bound(ctx context.Context, op string) (context.Context, func()) {
	start := w.now()
	var cancel context.CancelFunc = func() {}
	if w.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
	}
	return ctx, func() {
		cancel()
		w.metrics.ObserveOperation(op, w.now().Sub(start))
	}
}

// =============================================================================
// EVALUATIONS
// =============================================================================

type SubmitEvaluationInput struct {
	SubjectID   string
	Date        string
	EvaluatorID string
	ProjectID   string
	Scores      Scores
}

// SubmitEvaluation creates a pending evaluation. It fails with a
// *ConflictError when the subject already has an evaluation for the day.
func (w *Workflow) SubmitEvaluation(ctx context.Context, in SubmitEvaluationInput) (EvaluationRecord, error) {
	key := Key{SubjectID: strings.TrimSpace(in.SubjectID), Date: strings.TrimSpace(in.Date)}
	if err := key.Validate(); err != nil {
		return EvaluationRecord{}, err
	}
	if err := in.Scores.Validate(); err != nil {
		return EvaluationRecord{}, err
	}

	ctx, done := w.bound(ctx, "submit_evaluation")
	defer done()

	rec, err := w.store.CreateRecord(ctx, EvaluationRecord{
		ID:          w.newID(),
		SubjectID:   key.SubjectID,
		Date:        key.Date,
		EvaluatorID: in.EvaluatorID,
		ProjectID:   in.ProjectID,
		Scores:      in.Scores,
		Average:     in.Scores.Average(),
		Status:      StatusPending,
		CreatedAt:   w.now().UTC(),
	})
	if err != nil {
		if IsConflict(err) {
			w.metrics.RecordSubmission("evaluation", "conflict")
			w.log.Info(ctx, "evaluation refused, day locked", logger.String("key", key.String()))
		} else {
			w.metrics.RecordSubmission("evaluation", "error")
		}
		return EvaluationRecord{}, fmt.Errorf("submit evaluation %s: %w", key, err)
	}

	w.metrics.RecordSubmission("evaluation", "created")
	return rec, nil
}

// ReviewRecords moves records to approved or rejected from any status.
// Returns how many records actually changed.
func (w *Workflow) ReviewRecords(ctx context.Context, ids []string, status Status) (int, error) {
	if status != StatusApproved && status != StatusRejected {
		return 0, fmt.Errorf("%w: review status must be approved or rejected, got %q", ErrInvalidInput, status)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, done := w.bound(ctx, "review_records")
	defer done()

	n, err := w.store.SetRecordStatus(ctx, ids, status)
	if err != nil {
		return 0, fmt.Errorf("review %d records: %w", len(ids), err)
	}
	return n, nil
}

// BulkApproveRecords approves a batch of pending records. Ids that are not
// pending (or unknown) are skipped; the count reports what changed.
func (w *Workflow) BulkApproveRecords(ctx context.Context, ids []string) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, done := w.bound(ctx, "bulk_approve_records")
	defer done()

	n, err := w.store.SetRecordStatus(ctx, ids, StatusApproved, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("bulk approve %d records: %w", len(ids), err)
	}

	w.metrics.RecordBulkApproved(n)
	w.log.Info(ctx, "records bulk approved",
		logger.Int("requested", len(ids)),
		logger.Int("changed", n),
	)
	return n, nil
}

// =============================================================================
// UNLOCK REQUESTS
// =============================================================================

type SubmitUnlockInput struct {
	SubjectID      string
	SubjectName    string
	RequesterID    string
	RequesterName  string
	ProjectID      string
	TargetRecordID string
	Date           string
	Reason         string
}

// SubmitUnlockRequest files a pending unlock request. Duplicates for the
// same subject and date are accepted here and resolved at approval time.
func (w *Workflow) SubmitUnlockRequest(ctx context.Context, in SubmitUnlockInput) (UnlockRequest, error) {
	if strings.TrimSpace(in.RequesterID) == "" {
		return UnlockRequest{}, fmt.Errorf("%w: requester id is required", ErrInvalidInput)
	}

	ctx, done := w.bound(ctx, "submit_unlock_request")
	defer done()

	req := UnlockRequest{
		ID:             w.newID(),
		SubjectID:      strings.TrimSpace(in.SubjectID),
		SubjectName:    in.SubjectName,
		RequesterID:    in.RequesterID,
		RequesterName:  in.RequesterName,
		ProjectID:      in.ProjectID,
		TargetRecordID: strings.TrimSpace(in.TargetRecordID),
		Date:           strings.TrimSpace(in.Date),
		Reason:         in.Reason,
		Status:         StatusPending,
		CreatedAt:      w.now().UTC(),
	}

	// Fill the key from the target when the requester only knew the record.
	if req.TargetRecordID != "" && (req.SubjectID == "" || req.Date == "") {
		rec, err := w.store.GetRecord(ctx, req.TargetRecordID)
		if err != nil {
			return UnlockRequest{}, fmt.Errorf("resolve target record %s: %w", req.TargetRecordID, err)
		}
		req.SubjectID, req.Date = rec.SubjectID, rec.Date
		if req.ProjectID == "" {
			req.ProjectID = rec.ProjectID
		}
	}
	if err := req.Key().Validate(); err != nil {
		return UnlockRequest{}, err
	}

	created, err := w.store.CreateRequest(ctx, req)
	if err != nil {
		w.metrics.RecordSubmission("unlock_request", "error")
		return UnlockRequest{}, fmt.Errorf("submit unlock request for %s: %w", req.Key(), err)
	}

	w.metrics.RecordSubmission("unlock_request", "created")
	w.log.Info(ctx, "unlock request submitted",
		logger.String("request_id", created.ID),
		logger.String("key", created.Key().String()),
		logger.String("requester_id", created.RequesterID),
	)
	return created, nil
}

// Outcome describes how a resolution call ended. AlreadyResolved means the
// call was an idempotent no-op: the request was unknown or resolved by
// someone else.
type Outcome struct {
	RequestID       string
	Key             Key
	Status          Status
	AlreadyResolved bool
	RecordDeleted   bool
	Cascaded        int
}

// Approve deletes the evaluation targeted by the request and approves the
// request together with every pending duplicate for the same subject and
// date. It succeeds when the request is unknown or already resolved.
func (w *Workflow) Approve(ctx context.Context, requestID, reviewerID string) (Outcome, error) {
	ctx, done := w.bound(ctx, "approve")
	defer done()

	req, resolved, err := w.loadPending(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if resolved != nil {
		w.metrics.RecordResolution("approve", "already_resolved")
		return *resolved, nil
	}

	key, err := w.resolveTarget(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{RequestID: req.ID, Key: key, Status: StatusApproved}
	var resolvedAt *time.Time
	err = w.store.WithTx(ctx, func(tx Store) error {
		n, err := tx.TransitionRequests(ctx, []string{req.ID}, StatusPending, StatusApproved, reviewerID)
		if err != nil {
			return err
		}
		if n == 0 {
			out.AlreadyResolved = true
			return nil
		}
		deleted, err := tx.DeleteRecord(ctx, req.TargetRecordID, key)
		if err != nil {
			return err
		}
		out.RecordDeleted = deleted
		approved, err := tx.GetRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		resolvedAt = approved.ResolvedAt
		return nil
	})
	if err != nil {
		w.metrics.RecordResolution("approve", "error")
		return Outcome{}, fmt.Errorf("approve unlock request %s: %w", req.ID, err)
	}

	if out.AlreadyResolved {
		w.metrics.RecordResolution("approve", "already_resolved")
		return w.currentOutcome(ctx, req, key), nil
	}
	if out.RecordDeleted {
		w.metrics.RecordRecordDeleted()
	}

	out.Cascaded = w.cascade(ctx, req.ID, key, resolvedAt, reviewerID)

	w.metrics.RecordResolution("approve", "approved")
	w.log.Info(ctx, "unlock request approved",
		logger.String("request_id", req.ID),
		logger.String("key", key.String()),
		logger.Bool("record_deleted", out.RecordDeleted),
		logger.Int("cascaded", out.Cascaded),
	)
	return out, nil
}

// cascade approves pending duplicates of an approved request: siblings on
// the same key filed no later than the approval whose evaluation is gone.
// A failure here never fails the approval; the straggler sweep repairs it
// later.
func (w *Workflow) cascade(ctx context.Context, requestID string, key Key, resolvedAt *time.Time, reviewerID string) int {
	n, err := w.approveDuplicates(ctx, requestID, key, resolvedAt, reviewerID)
	if err != nil {
		w.metrics.RecordCascadeFailure()
		w.log.Warn(ctx, "cascade to duplicate unlock requests failed",
			logger.String("request_id", requestID),
			logger.String("key", key.String()),
			logger.Error(err),
		)
		return 0
	}
	w.metrics.RecordCascade(n)
	return n
}

func (w *Workflow) approveDuplicates(ctx context.Context, requestID string, key Key, resolvedAt *time.Time, reviewerID string) (int, error) {
	if resolvedAt == nil {
		return 0, nil
	}
	pending, err := w.store.ListRequests(ctx, RequestFilter{Key: &key, Status: StatusPending})
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, p := range pending {
		if p.ID == requestID || p.CreatedAt.After(*resolvedAt) {
			continue
		}
		live, err := w.refersToLiveRecord(ctx, p)
		if err != nil {
			return 0, err
		}
		if !live {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return w.store.TransitionRequests(ctx, ids, StatusPending, StatusApproved, reviewerID)
}

// refersToLiveRecord reports whether the request aims at an evaluation that
// still exists: its explicit target, or for untargeted requests the record
// on its key submitted before the request was filed.
func (w *Workflow) refersToLiveRecord(ctx context.Context, req UnlockRequest) (bool, error) {
	var (
		rec EvaluationRecord
		err error
	)
	if req.TargetRecordID != "" {
		rec, err = w.store.GetRecord(ctx, req.TargetRecordID)
	} else {
		rec, err = w.store.FindRecord(ctx, req.Key())
	}
	switch {
	case IsNotFound(err):
		return false, nil
	case err != nil:
		return false, err
	case req.TargetRecordID != "":
		return true, nil
	default:
		return !rec.CreatedAt.After(req.CreatedAt), nil
	}
}

// Reject resolves only the named request. Duplicates stay pending and the
// target evaluation is untouched.
func (w *Workflow) Reject(ctx context.Context, requestID, reviewerID string) (Outcome, error) {
	ctx, done := w.bound(ctx, "reject")
	defer done()

	req, resolved, err := w.loadPending(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if resolved != nil {
		w.metrics.RecordResolution("reject", "already_resolved")
		return *resolved, nil
	}

	n, err := w.store.TransitionRequests(ctx, []string{req.ID}, StatusPending, StatusRejected, reviewerID)
	if err != nil {
		w.metrics.RecordResolution("reject", "error")
		return Outcome{}, fmt.Errorf("reject unlock request %s: %w", req.ID, err)
	}
	if n == 0 {
		w.metrics.RecordResolution("reject", "already_resolved")
		return w.currentOutcome(ctx, req, req.Key()), nil
	}

	w.metrics.RecordResolution("reject", "rejected")
	w.log.Info(ctx, "unlock request rejected",
		logger.String("request_id", req.ID),
		logger.String("key", req.Key().String()),
	)
	return Outcome{RequestID: req.ID, Key: req.Key(), Status: StatusRejected}, nil
}

// loadPending returns the request when it is still pending. Otherwise it
// returns the idempotent outcome to hand back to the caller.
func (w *Workflow) loadPending(ctx context.Context, requestID string) (UnlockRequest, *Outcome, error) {
	req, err := w.store.GetRequest(ctx, requestID)
	if IsNotFound(err) {
		w.log.Debug(ctx, "unlock request unknown, treating as resolved", logger.String("request_id", requestID))
		return UnlockRequest{}, &Outcome{RequestID: requestID, AlreadyResolved: true}, nil
	}
	if err != nil {
		return UnlockRequest{}, nil, fmt.Errorf("load unlock request %s: %w", requestID, err)
	}
	if req.Status.Effective() != StatusPending {
		return UnlockRequest{}, &Outcome{
			RequestID:       req.ID,
			Key:             req.Key(),
			Status:          req.Status,
			AlreadyResolved: true,
		}, nil
	}
	return req, nil, nil
}

// resolveTarget returns the key an approval acts on: the target record's
// key when the record still exists, else the request's own key.
func (w *Workflow) resolveTarget(ctx context.Context, req UnlockRequest) (Key, error) {
	if req.TargetRecordID == "" {
		return req.Key(), nil
	}
	rec, err := w.store.GetRecord(ctx, req.TargetRecordID)
	switch {
	case err == nil:
		return rec.Key(), nil
	case IsNotFound(err):
		return req.Key(), nil
	default:
		return Key{}, fmt.Errorf("resolve target record %s: %w", req.TargetRecordID, err)
	}
}

func (w *Workflow) currentOutcome(ctx context.Context, req UnlockRequest, key Key) Outcome {
	out := Outcome{RequestID: req.ID, Key: key, AlreadyResolved: true}
	if cur, err := w.store.GetRequest(ctx, req.ID); err == nil {
		out.Status = cur.Status
	}
	return out
}

// =============================================================================
// STRAGGLER SWEEP
// =============================================================================

// SweepStragglers approves pending requests left behind by a failed
// cascade: a pending request is a straggler when a sibling for the same key
// was approved at or after the straggler was filed and the evaluation it
// points at no longer exists.
func (w *Workflow) SweepStragglers(ctx context.Context, scope Scope) (int, error) {
	ctx, done := w.bound(ctx, "sweep_stragglers")
	defer done()

	pending, err := w.store.ListRequests(ctx, RequestFilter{Scope: scope, Status: StatusPending})
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}

	byKey := make(map[Key][]UnlockRequest)
	for _, p := range pending {
		byKey[p.Key()] = append(byKey[p.Key()], p)
	}

	total := 0
	for key, group := range byKey {
		k := key
		approved, err := w.store.ListRequests(ctx, RequestFilter{Status: StatusApproved, Key: &k})
		if err != nil {
			return total, fmt.Errorf("list approved requests for %s: %w", key, err)
		}

		var ids []string
		var by string
		for _, p := range group {
			for _, a := range approved {
				if a.ResolvedAt == nil || a.ResolvedAt.Before(p.CreatedAt) {
					continue
				}
				live, err := w.refersToLiveRecord(ctx, p)
				if err != nil {
					return total, fmt.Errorf("check target of %s: %w", p.ID, err)
				}
				if !live {
					ids = append(ids, p.ID)
					by = a.ResolvedBy
				}
				break
			}
		}
		if len(ids) == 0 {
			continue
		}

		n, err := w.store.TransitionRequests(ctx, ids, StatusPending, StatusApproved, by)
		if err != nil {
			return total, fmt.Errorf("sweep stragglers for %s: %w", key, err)
		}
		total += n
	}

	if total > 0 {
		w.metrics.RecordStragglersSwept(total)
		w.log.Info(ctx, "straggler unlock requests approved", logger.Int("count", total))
	}
	return total, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
