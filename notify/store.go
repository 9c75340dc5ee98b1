package notify

import (
	"context"
	"time"

	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
)

// Store decorates an evaluation.Store and publishes an event after every
// mutation that changed at least one row. Mutations made inside WithTx are
// published only after the transaction commits.
type Store struct {
	evaluation.Store

	ch  Channel
	log logger.Logger
	now func() time.Time

	// pending collects events while running inside WithTx.
	pending *[]Event
}

var _ evaluation.Store = (*Store)(nil)

// NewStore wraps inner. A nil logger discards.
func NewStore(inner evaluation.Store, ch Channel, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{Store: inner, ch: ch, log: log.Named("notify"), now: time.Now}
}

func (s *Store) CreateRecord(ctx context.Context, rec evaluation.EvaluationRecord) (evaluation.EvaluationRecord, error) {
	created, err := s.Store.CreateRecord(ctx, rec)
	if err == nil {
		s.emit(ctx, TableRecords, KindInsert, created.ProjectID)
	}
	return created, err
}

func (s *Store) SetRecordStatus(ctx context.Context, ids []string, to evaluation.Status, from ...evaluation.Status) (int, error) {
	n, err := s.Store.SetRecordStatus(ctx, ids, to, from...)
	if err == nil && n > 0 {
		s.emit(ctx, TableRecords, KindUpdate, "")
	}
	return n, err
}

func (s *Store) DeleteRecord(ctx context.Context, recordID string, key evaluation.Key) (bool, error) {
	deleted, err := s.Store.DeleteRecord(ctx, recordID, key)
	if err == nil && deleted {
		s.emit(ctx, TableRecords, KindDelete, "")
	}
	return deleted, err
}

func (s *Store) CreateRequest(ctx context.Context, req evaluation.UnlockRequest) (evaluation.UnlockRequest, error) {
	created, err := s.Store.CreateRequest(ctx, req)
	if err == nil {
		s.emit(ctx, TableRequests, KindInsert, created.ProjectID)
	}
	return created, err
}

func (s *Store) TransitionRequests(ctx context.Context, ids []string, from, to evaluation.Status, by string) (int, error) {
	n, err := s.Store.TransitionRequests(ctx, ids, from, to, by)
	if err == nil && n > 0 {
		s.emit(ctx, TableRequests, KindUpdate, "")
	}
	return n, err
}

// WithTx runs fn in the inner transaction and publishes its events once it
// commits. A rolled back transaction publishes nothing.
func (s *Store) WithTx(ctx context.Context, fn func(evaluation.Store) error) error {
	if s.pending != nil {
		return fn(s)
	}

	var events []Event
	err := s.Store.WithTx(ctx, func(tx evaluation.Store) error {
		return fn(&Store{Store: tx, ch: s.ch, log: s.log, now: s.now, pending: &events})
	})
	if err != nil {
		return err
	}
	for _, e := range events {
		s.publish(ctx, e)
	}
	return nil
}

func (s *Store) emit(ctx context.Context, table string, kind Kind, projectID string) {
	e := Event{Table: table, Kind: kind, ProjectID: projectID, At: s.now().UTC()}
	if s.pending != nil {
		*s.pending = append(*s.pending, e)
		return
	}
	s.publish(ctx, e)
}

// publish never fails the mutation; the row change is already durable.
func (s *Store) publish(ctx context.Context, e Event) {
	if err := s.ch.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn(ctx, "change event not published",
			logger.String("table", e.Table),
			logger.String("kind", string(e.Kind)),
			logger.Error(err),
		)
	}
}
