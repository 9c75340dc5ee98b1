/*
workflow_test.go - Tests for submission, approval, rejection and cascade

Covers:
- Locking: a second evaluation for the same subject and day conflicts
- Approve: record deleted, duplicates cascaded, idempotent re-approval
- Cascade bounds: requests against a resubmitted record stay pending
- Reject: no cascade, record untouched
- Concurrency: two reviewers approving duplicates at once
- Degraded paths: cascade failure, storage failure, timeouts
*/
package evaluation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/evaluation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newWorkflow(t *testing.T) (*evaluation.Workflow, *store.Memory) {
	t.Helper()
	c := newClock()
	mem := store.NewMemory(store.WithClock(c.Now))
	return evaluation.NewWorkflow(mem, evaluation.WithClock(c.Now)), mem
}

func scores(n int) evaluation.Scores {
	return evaluation.Scores{Attendance: n, Productivity: n, Quality: n, Safety: n}
}

func submit(t *testing.T, wf *evaluation.Workflow, subject, date string) evaluation.EvaluationRecord {
	t.Helper()
	rec, err := wf.SubmitEvaluation(context.Background(), evaluation.SubmitEvaluationInput{
		SubjectID:   subject,
		Date:        date,
		EvaluatorID: "eval-1",
		ProjectID:   "proj-a",
		Scores:      scores(7),
	})
	require.NoError(t, err)
	return rec
}

func requestUnlock(t *testing.T, wf *evaluation.Workflow, subject, date, requester string) evaluation.UnlockRequest {
	t.Helper()
	req, err := wf.SubmitUnlockRequest(context.Background(), evaluation.SubmitUnlockInput{
		SubjectID:   subject,
		RequesterID: requester,
		ProjectID:   "proj-a",
		Date:        date,
		Reason:      "typo in scores",
	})
	require.NoError(t, err)
	return req
}

// failingCascade fails transitions made outside a transaction, which is
// where the cascade runs. The approval itself goes through the tx view.
type failingCascade struct {
	evaluation.Store
}

func (f failingCascade) TransitionRequests(context.Context, []string, evaluation.Status, evaluation.Status, string) (int, error) {
	return 0, evaluation.Storage("transition requests", errors.New("connection reset"))
}

// resubmitOnList runs onList once, on the first request listing. The
// cascade is the first caller of ListRequests during an approval, so onList
// lands between the approval commit and the cascade.
type resubmitOnList struct {
	evaluation.Store
	once   sync.Once
	onList func()
}

func (r *resubmitOnList) ListRequests(ctx context.Context, filter evaluation.RequestFilter) ([]evaluation.UnlockRequest, error) {
	r.once.Do(r.onList)
	return r.Store.ListRequests(ctx, filter)
}

// failingDelete fails the record delete inside the approval transaction.
type failingDelete struct {
	evaluation.Store
}

func (f failingDelete) WithTx(ctx context.Context, fn func(evaluation.Store) error) error {
	return f.Store.WithTx(ctx, func(tx evaluation.Store) error {
		return fn(failingDelete{Store: tx})
	})
}

func (f failingDelete) DeleteRecord(context.Context, string, evaluation.Key) (bool, error) {
	return false, evaluation.Storage("delete record", errors.New("disk full"))
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmitEvaluation_ComputesAverage(t *testing.T) {
	wf, _ := newWorkflow(t)

	rec, err := wf.SubmitEvaluation(context.Background(), evaluation.SubmitEvaluationInput{
		SubjectID: "w-1",
		Date:      "2025-03-10",
		ProjectID: "proj-a",
		Scores:    evaluation.Scores{Attendance: 8, Productivity: 7, Quality: 9, Safety: 5},
	})

	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, rec.Status)
	assert.True(t, decimal.RequireFromString("7.25").Equal(rec.Average), "got %s", rec.Average)
	assert.NotEmpty(t, rec.ID)
}

func TestSubmitEvaluation_RejectsInvalidInput(t *testing.T) {
	wf, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.SubmitEvaluation(ctx, evaluation.SubmitEvaluationInput{SubjectID: "w-1", Date: "10/03/2025", Scores: scores(5)})
	assert.ErrorIs(t, err, evaluation.ErrInvalidInput)

	_, err = wf.SubmitEvaluation(ctx, evaluation.SubmitEvaluationInput{SubjectID: "w-1", Date: "2025-03-10", Scores: scores(11)})
	assert.ErrorIs(t, err, evaluation.ErrInvalidInput)

	_, err = wf.SubmitEvaluation(ctx, evaluation.SubmitEvaluationInput{Date: "2025-03-10", Scores: scores(5)})
	assert.ErrorIs(t, err, evaluation.ErrInvalidInput)
}

func TestSubmitEvaluation_SecondForSameDayConflicts(t *testing.T) {
	// GIVEN: worker W already evaluated on D
	wf, _ := newWorkflow(t)
	first := submit(t, wf, "w-1", "2025-03-10")

	// WHEN: another evaluation for W on D is submitted
	_, err := wf.SubmitEvaluation(context.Background(), evaluation.SubmitEvaluationInput{
		SubjectID: "w-1",
		Date:      "2025-03-10",
		Scores:    scores(3),
	})

	// THEN: it conflicts and names the existing record
	require.Error(t, err)
	assert.True(t, evaluation.IsConflict(err))
	var conflict *evaluation.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ExistingRecordID)
	assert.Equal(t, evaluation.CodeConflict, evaluation.ResultOf(err).Code)
}

func TestSubmitUnlockRequest_ResolvesKeyFromTarget(t *testing.T) {
	wf, _ := newWorkflow(t)
	rec := submit(t, wf, "w-1", "2025-03-10")

	req, err := wf.SubmitUnlockRequest(context.Background(), evaluation.SubmitUnlockInput{
		RequesterID:    "sup-1",
		TargetRecordID: rec.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, rec.Key(), req.Key())
	assert.Equal(t, "proj-a", req.ProjectID)
	assert.Equal(t, evaluation.StatusPending, req.Status)
}

func TestWorkflow_UsesInjectedIDGenerator(t *testing.T) {
	// GIVEN: a workflow with a deterministic id generator
	c := newClock()
	mem := store.NewMemory(store.WithClock(c.Now))
	seq := 0
	wf := evaluation.NewWorkflow(mem,
		evaluation.WithClock(c.Now),
		evaluation.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)

	// WHEN: an evaluation and an unlock request are submitted
	rec := submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")

	// THEN: both carry the generated ids
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "id-2", req.ID)
	stored, err := mem.GetRequest(context.Background(), "id-2")
	require.NoError(t, err)
	assert.Equal(t, rec.Key(), stored.Key())
}

func TestSubmitUnlockRequest_RequiresRequester(t *testing.T) {
	wf, _ := newWorkflow(t)

	_, err := wf.SubmitUnlockRequest(context.Background(), evaluation.SubmitUnlockInput{
		SubjectID: "w-1",
		Date:      "2025-03-10",
	})

	assert.ErrorIs(t, err, evaluation.ErrInvalidInput)
}

// =============================================================================
// APPROVAL AND CASCADE
// =============================================================================

func TestApprove_DeletesRecordAndCascadesToDuplicates(t *testing.T) {
	// GIVEN: a locked day with three pending unlock requests from different supervisors
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	u2 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-2")
	u3 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-3")
	other := requestUnlock(t, wf, "w-1", "2025-03-11", "sup-1")

	// WHEN: the first request is approved
	out, err := wf.Approve(ctx, u1.ID, "admin")

	// THEN: the record is gone and every duplicate is approved
	require.NoError(t, err)
	assert.True(t, out.RecordDeleted)
	assert.False(t, out.AlreadyResolved)
	assert.Equal(t, 2, out.Cascaded)

	_, err = mem.FindRecord(ctx, evaluation.Key{SubjectID: "w-1", Date: "2025-03-10"})
	assert.ErrorIs(t, err, evaluation.ErrNotFound)

	for _, id := range []string{u1.ID, u2.ID, u3.ID} {
		req, err := mem.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, evaluation.StatusApproved, req.Status, id)
		assert.Equal(t, "admin", req.ResolvedBy)
		require.NotNil(t, req.ResolvedAt)
	}

	untouched, err := mem.GetRequest(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, untouched.Status)

	// AND: the day can be evaluated again
	_, err = wf.SubmitEvaluation(ctx, evaluation.SubmitEvaluationInput{SubjectID: "w-1", Date: "2025-03-10", Scores: scores(6)})
	assert.NoError(t, err)
}

func TestApprove_ByTargetRecordID(t *testing.T) {
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	rec := submit(t, wf, "w-1", "2025-03-10")

	req, err := wf.SubmitUnlockRequest(ctx, evaluation.SubmitUnlockInput{
		RequesterID:    "sup-1",
		TargetRecordID: rec.ID,
	})
	require.NoError(t, err)

	out, err := wf.Approve(ctx, req.ID, "admin")
	require.NoError(t, err)
	assert.True(t, out.RecordDeleted)

	_, err = mem.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, evaluation.ErrNotFound)
}

func TestApprove_RecordAlreadyGoneStillSucceeds(t *testing.T) {
	// GIVEN: a pending request whose record was already deleted
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	rec := submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	_, err := mem.DeleteRecord(ctx, rec.ID, rec.Key())
	require.NoError(t, err)

	// WHEN: it is approved
	out, err := wf.Approve(ctx, req.ID, "admin")

	// THEN: the approval goes through with nothing to delete
	require.NoError(t, err)
	assert.False(t, out.RecordDeleted)
	assert.Equal(t, evaluation.StatusApproved, out.Status)
}

func TestApprove_IsIdempotent(t *testing.T) {
	wf, _ := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")

	_, err := wf.Approve(ctx, req.ID, "admin")
	require.NoError(t, err)

	again, err := wf.Approve(ctx, req.ID, "admin")
	require.NoError(t, err)
	assert.True(t, again.AlreadyResolved)
	assert.False(t, again.RecordDeleted)
	assert.Equal(t, evaluation.StatusApproved, again.Status)
}

func TestApprove_UnknownRequestIsResolved(t *testing.T) {
	wf, _ := newWorkflow(t)

	out, err := wf.Approve(context.Background(), "missing", "admin")

	require.NoError(t, err)
	assert.True(t, out.AlreadyResolved)
	assert.True(t, evaluation.ResultOf(err).Success)
}

func TestApprove_ConcurrentDuplicatesConverge(t *testing.T) {
	// GIVEN: two pending requests for the same locked day
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	u2 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-2")

	// WHEN: two reviewers approve them at the same time
	var wg sync.WaitGroup
	outcomes := make([]evaluation.Outcome, 2)
	errs := make([]error, 2)
	for i, id := range []string{u1.ID, u2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcomes[i], errs[i] = wf.Approve(ctx, id, fmt.Sprintf("admin-%d", i))
		}(i, id)
	}
	wg.Wait()

	// THEN: both succeed, the record is deleted exactly once, both requests approved
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	deletions := 0
	for _, out := range outcomes {
		if out.RecordDeleted {
			deletions++
		}
	}
	assert.Equal(t, 1, deletions)

	pending, err := mem.ListRequests(ctx, evaluation.RequestFilter{Status: evaluation.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	records, err := mem.ListRecords(ctx, evaluation.ScopeAll, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApprove_SameRequestConcurrently(t *testing.T) {
	wf, _ := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")

	var wg sync.WaitGroup
	outcomes := make([]evaluation.Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := wf.Approve(ctx, req.ID, "admin")
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	deletions := 0
	for _, out := range outcomes {
		if out.RecordDeleted {
			deletions++
		}
	}
	assert.Equal(t, 1, deletions)
}

func TestApprove_CascadeFailureDoesNotFailApproval(t *testing.T) {
	// GIVEN: a store whose cascade update fails
	c := newClock()
	mem := store.NewMemory(store.WithClock(c.Now))
	wf := evaluation.NewWorkflow(failingCascade{Store: mem}, evaluation.WithClock(c.Now))
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	u2 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-2")

	// WHEN: u1 is approved
	out, err := wf.Approve(ctx, u1.ID, "admin")

	// THEN: the primary approval stands and u2 is left pending
	require.NoError(t, err)
	assert.True(t, out.RecordDeleted)
	assert.Zero(t, out.Cascaded)

	straggler, err := mem.GetRequest(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, straggler.Status)

	// AND: the sweep repairs it
	healthy := evaluation.NewWorkflow(mem, evaluation.WithClock(c.Now))
	n, err := healthy.SweepStragglers(ctx, evaluation.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	straggler, err = mem.GetRequest(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusApproved, straggler.Status)
	assert.Equal(t, "admin", straggler.ResolvedBy)
}

func TestApprove_CascadeSkipsRequestsForResubmittedRecord(t *testing.T) {
	// GIVEN: a record resubmitted, with fresh requests filed against it,
	// right after the approval commits and before the cascade runs
	c := newClock()
	mem := store.NewMemory(store.WithClock(c.Now))
	direct := evaluation.NewWorkflow(mem, evaluation.WithClock(c.Now))
	ctx := context.Background()
	submit(t, direct, "w-1", "2025-03-10")
	u1 := requestUnlock(t, direct, "w-1", "2025-03-10", "sup-1")

	var r2 evaluation.EvaluationRecord
	var targeted, untargeted evaluation.UnlockRequest
	wrapped := &resubmitOnList{Store: mem}
	wrapped.onList = func() {
		r2 = submit(t, direct, "w-1", "2025-03-10")
		var err error
		targeted, err = direct.SubmitUnlockRequest(ctx, evaluation.SubmitUnlockInput{
			RequesterID:    "sup-2",
			TargetRecordID: r2.ID,
		})
		require.NoError(t, err)
		untargeted = requestUnlock(t, direct, "w-1", "2025-03-10", "sup-3")
	}
	wf := evaluation.NewWorkflow(wrapped, evaluation.WithClock(c.Now))

	// WHEN: u1 is approved
	out, err := wf.Approve(ctx, u1.ID, "admin")

	// THEN: only the original record is deleted and nothing cascades
	require.NoError(t, err)
	assert.True(t, out.RecordDeleted)
	assert.Zero(t, out.Cascaded)

	// AND: the resubmitted record and its requests are untouched
	_, err = mem.GetRecord(ctx, r2.ID)
	assert.NoError(t, err)
	for _, id := range []string{targeted.ID, untargeted.ID} {
		got, err := mem.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, evaluation.StatusPending, got.Status, id)
	}
}

func TestApprove_LateRetryLeavesResubmittedRecordAlone(t *testing.T) {
	// GIVEN: a day unlocked and re-evaluated, with requests against the new
	// record, and a late retry that still names the deleted record
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	r1 := submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	_, err := wf.Approve(ctx, u1.ID, "admin")
	require.NoError(t, err)

	r2 := submit(t, wf, "w-1", "2025-03-10")
	u3, err := wf.SubmitUnlockRequest(ctx, evaluation.SubmitUnlockInput{
		RequesterID:    "sup-2",
		TargetRecordID: r2.ID,
	})
	require.NoError(t, err)
	u4 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-3")
	retry, err := wf.SubmitUnlockRequest(ctx, evaluation.SubmitUnlockInput{
		SubjectID:      "w-1",
		Date:           "2025-03-10",
		RequesterID:    "sup-1",
		TargetRecordID: r1.ID,
	})
	require.NoError(t, err)

	// WHEN: the retry is approved
	out, err := wf.Approve(ctx, retry.ID, "admin")

	// THEN: it is approved without deleting anything or cascading
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusApproved, out.Status)
	assert.False(t, out.RecordDeleted)
	assert.Zero(t, out.Cascaded)

	// AND: the new record and its requests survive
	_, err = mem.GetRecord(ctx, r2.ID)
	assert.NoError(t, err)
	for _, id := range []string{u3.ID, u4.ID} {
		got, err := mem.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, evaluation.StatusPending, got.Status, id)
	}

	// AND: the sweep does not pick them up either
	n, err := wf.SweepStragglers(ctx, evaluation.ScopeAll)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApprove_DeleteFailureRollsBackTransition(t *testing.T) {
	c := newClock()
	mem := store.NewMemory(store.WithClock(c.Now))
	wf := evaluation.NewWorkflow(failingDelete{Store: mem}, evaluation.WithClock(c.Now))
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")

	_, err := wf.Approve(ctx, req.ID, "admin")

	require.Error(t, err)
	assert.ErrorIs(t, err, evaluation.ErrStorageFailure)
	assert.True(t, evaluation.IsRetryable(err))

	stored, err := mem.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, stored.Status, "transition must roll back with the delete")
}

func TestApprove_TimeoutMapsToStorageFailure(t *testing.T) {
	wf, _ := newWorkflow(t)
	submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wf.Approve(ctx, req.ID, "admin")

	require.Error(t, err)
	res := evaluation.ResultOf(err)
	assert.False(t, res.Success)
	assert.Equal(t, evaluation.CodeStorageFailure, res.Code)
}

func TestSweepStragglers_IgnoresRequestsFiledAfterApproval(t *testing.T) {
	// GIVEN: a day unlocked, re-evaluated, and a fresh request filed afterwards
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	_, err := wf.Approve(ctx, u1.ID, "admin")
	require.NoError(t, err)
	submit(t, wf, "w-1", "2025-03-10")
	fresh := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-2")

	// WHEN: the sweep runs
	n, err := wf.SweepStragglers(ctx, evaluation.ScopeAll)

	// THEN: the fresh request is not swept
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := mem.GetRequest(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, got.Status)
}

// =============================================================================
// REJECTION
// =============================================================================

func TestReject_DoesNotCascadeOrDelete(t *testing.T) {
	// GIVEN: two pending requests for the same day
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	rec := submit(t, wf, "w-1", "2025-03-10")
	u1 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	u2 := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-2")

	// WHEN: one is rejected
	out, err := wf.Reject(ctx, u1.ID, "admin")

	// THEN: only that request changes
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusRejected, out.Status)

	got, err := mem.GetRequest(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, got.Status)

	_, err = mem.GetRecord(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestReject_AfterApproveIsNoop(t *testing.T) {
	wf, _ := newWorkflow(t)
	ctx := context.Background()
	submit(t, wf, "w-1", "2025-03-10")
	req := requestUnlock(t, wf, "w-1", "2025-03-10", "sup-1")
	_, err := wf.Approve(ctx, req.ID, "admin")
	require.NoError(t, err)

	out, err := wf.Reject(ctx, req.ID, "admin")

	require.NoError(t, err)
	assert.True(t, out.AlreadyResolved)
	assert.Equal(t, evaluation.StatusApproved, out.Status)
}

// =============================================================================
// RECORD REVIEW
// =============================================================================

func TestBulkApproveRecords_OnlyPending(t *testing.T) {
	wf, mem := newWorkflow(t)
	ctx := context.Background()
	a := submit(t, wf, "w-1", "2025-03-10")
	b := submit(t, wf, "w-2", "2025-03-10")
	c := submit(t, wf, "w-3", "2025-03-10")
	_, err := wf.ReviewRecords(ctx, []string{c.ID}, evaluation.StatusRejected)
	require.NoError(t, err)

	n, err := wf.BulkApproveRecords(ctx, []string{a.ID, b.ID, c.ID, a.ID, "missing"})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := mem.GetRecord(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusRejected, got.Status)
}

func TestReviewRecords_RejectsPendingTarget(t *testing.T) {
	wf, _ := newWorkflow(t)

	_, err := wf.ReviewRecords(context.Background(), []string{"x"}, evaluation.StatusPending)

	assert.ErrorIs(t, err, evaluation.ErrInvalidInput)
}
