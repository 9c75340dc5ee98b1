/*
types.go - Core data model for daily evaluations and unlock requests

PURPOSE:
  Defines the two persisted entities of the engine and the small value
  types they are keyed by:
  - EvaluationRecord: one scored evaluation per subject per day
  - UnlockRequest:    a request to delete a locked record so it can be redone

THE LOCK:
  A record is "locked" simply by existing. The composite key
  (SubjectID, Date) is the uniqueness boundary, regardless of status.
  The only way to free the slot is an approved UnlockRequest.

LEGACY STATUS:
  Rows written before review existed carry no status. They are read as
  approved (see Status.Effective).

SEE ALSO:
  - store.go: Persistence contracts keyed by these types
  - workflow.go: State transitions
*/
package evaluation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the civil-date format used for evaluation days.
const DateLayout = "2006-01-02"

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Effective maps the empty legacy status to approved.
func (s Status) Effective() Status {
	if s == "" {
		return StatusApproved
	}
	return s
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ParseStatus accepts the empty string (meaning "any") or a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" || s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

// =============================================================================
// SCOPE & KEY
// =============================================================================

// Scope restricts queries to one project. ScopeAll removes the filter.
type Scope string

const ScopeAll Scope = "all"

// Matches reports whether a row owned by projectID is visible in the scope.
func (s Scope) Matches(projectID string) bool {
	return s == ScopeAll || s == "" || string(s) == projectID
}

// Key is the composite uniqueness boundary of an EvaluationRecord.
type Key struct {
	SubjectID string
	Date      string
}

func (k Key) String() string {
	return k.SubjectID + "@" + k.Date
}

// Validate checks both halves are present and the date is a civil date.
func (k Key) Validate() error {
	if strings.TrimSpace(k.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, k.Date)
	}
	return nil
}

// =============================================================================
// EVALUATION RECORD
// =============================================================================

const (
	MinScore = 1
	MaxScore = 10
)

// Scores are the four integer criteria of a daily evaluation.
type Scores struct {
	Attendance   int
	Productivity int
	Quality      int
	Safety       int
}

func (s Scores) values() []int {
	return []int{s.Attendance, s.Productivity, s.Quality, s.Safety}
}

// Validate checks every score is within [MinScore, MaxScore].
func (s Scores) Validate() error {
	names := []string{"attendance", "productivity", "quality", "safety"}
	for i, v := range s.values() {
		if v < MinScore || v > MaxScore {
			return fmt.Errorf("%w: %s score %d out of range %d-%d", ErrInvalidInput, names[i], v, MinScore, MaxScore)
		}
	}
	return nil
}

// Average is the mean of the four scores rounded to two places.
func (s Scores) Average() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range s.values() {
		sum = sum.Add(decimal.NewFromInt(int64(v)))
	}
	return sum.Div(decimal.NewFromInt(4)).Round(2)
}

// EvaluationRecord is one daily scored evaluation for one subject.
type EvaluationRecord struct {
	ID          string
	SubjectID   string
	Date        string
	EvaluatorID string
	ProjectID   string
	Scores      Scores
	Average     decimal.Decimal
	Status      Status
	CreatedAt   time.Time
}

func (r EvaluationRecord) Key() Key {
	return Key{SubjectID: r.SubjectID, Date: r.Date}
}

// =============================================================================
// UNLOCK REQUEST
// =============================================================================

// UnlockRequest asks a reviewer to delete a locked record so the subject's
// evaluation for that day can be submitted again.
type UnlockRequest struct {
	ID            string
	SubjectID     string
	SubjectName   string
	RequesterID   string
	RequesterName string
	ProjectID     string

	// Optional. Empty when the requester did not know the surrogate id.
	TargetRecordID string

	Date   string
	Reason string
	Status Status

	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

func (r UnlockRequest) Key() Key {
	return Key{SubjectID: r.SubjectID, Date: r.Date}
}
