package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/notify"
)

// Registry owns the open reviewing sessions of one process. Each session
// gets its own notification subscription, ended when the session closes.
type Registry struct {
	resolver Resolver
	source   PendingSource
	channel  notify.Channel
	opts     []Option
	cfg      options

	mu       sync.Mutex
	sessions map[string]*registered
}

type registered struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRegistry creates a registry. A nil channel opens sessions without
// push updates; they then refresh only on demand.
func NewRegistry(resolver Resolver, source PendingSource, channel notify.Channel, opts ...Option) *Registry {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		resolver: resolver,
		source:   source,
		channel:  channel,
		opts:     opts,
		cfg:      cfg,
		sessions: make(map[string]*registered),
	}
}

// Open starts a session for reviewerID and loads its first pending list.
func (r *Registry) Open(ctx context.Context, reviewerID string, scope evaluation.Scope) (*Session, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", evaluation.ErrInvalidInput)
	}
	if scope == "" {
		scope = evaluation.ScopeAll
	}

	s := NewSession(uuid.NewString(), reviewerID, scope, r.resolver, r.source, r.opts...)
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	entry := &registered{session: s, cancel: cancel, done: make(chan struct{})}

	if r.channel != nil {
		sub, err := r.channel.Subscribe(watchCtx, scope)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe session %s: %w", s.ID(), err)
		}
		go func() {
			defer close(entry.done)
			defer sub.Close()
			_ = s.Watch(watchCtx, sub)
		}()
	} else {
		close(entry.done)
	}

	r.mu.Lock()
	r.sessions[s.ID()] = entry
	r.mu.Unlock()

	r.cfg.metrics.AddSessions(1)
	r.cfg.log.Info(ctx, "reviewing session opened",
		logger.String("session_id", s.ID()),
		logger.String("reviewer_id", reviewerID),
		logger.String("scope", string(scope)),
	)
	return s, nil
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends a session and waits for its watcher to stop.
// Returns false for an unknown id.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	entry.cancel()
	<-entry.done
	entry.session.close()
	r.cfg.metrics.AddSessions(-1)
	return true
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Close(id)
	}
}
