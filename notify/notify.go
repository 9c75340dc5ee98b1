// Package notify carries "something changed" signals between the store and
// reviewing sessions.
//
// Events are advisory. They name the table that changed and, when known,
// the project; receivers re-fetch instead of trusting a payload. Dropping
// an event is therefore harmless as long as a later event or refresh
// follows.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/warp/evaluation-engine/evaluation"
)

// Table names carried by events.
const (
	TableRecords  = "evaluation_records"
	TableRequests = "unlock_requests"
)

// Kind is the mutation that produced an event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// ErrClosed is returned when publishing to or subscribing on a closed channel.
var ErrClosed = errors.New("notification channel closed")

// Event signals a change to one of the engine tables. An empty ProjectID
// means the change may concern any project.
type Event struct {
	Table     string    `json:"table"`
	Kind      Kind      `json:"kind"`
	ProjectID string    `json:"project_id,omitempty"`
	At        time.Time `json:"at"`
}

// Visible reports whether a subscriber with scope should see e.
func (e Event) Visible(scope evaluation.Scope) bool {
	return e.ProjectID == "" || scope.Matches(e.ProjectID)
}

// Subscription is a stream of events. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Channel is the push boundary between the store and sessions.
type Channel interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context, scope evaluation.Scope) (Subscription, error)
}
