package notify

import (
	"context"
	"sync"

	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
)

const defaultBufferSize = 64

// Hub is an in-process Channel. Every subscriber owns a buffered channel;
// publishing never blocks and drops the event for a subscriber whose
// buffer is full.
type Hub struct {
	bufferSize int
	log        logger.Logger
	metrics    *metrics.Manager

	mu     sync.RWMutex
	subs   map[uint64]*hubSubscription
	nextID uint64
	closed bool
}

var _ Channel = (*Hub)(nil)

// NewHub creates a hub with configuration options.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		bufferSize: defaultBufferSize,
		log:        logger.Nop(),
		subs:       make(map[uint64]*hubSubscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("notify")
	return h
}

// Publish fans e out to every subscriber whose scope can see it.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}

	for _, sub := range h.subs {
		if !e.Visible(sub.scope) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.metrics.RecordEventDropped(e.Table)
			h.log.Debug(ctx, "subscriber buffer full, event dropped",
				logger.String("table", e.Table),
				logger.String("scope", string(sub.scope)),
			)
		}
	}
	h.metrics.RecordEventPublished(e.Table)
	return nil
}

// Subscribe registers a subscriber. The subscription ends on Close or when
// ctx is done.
func (h *Hub) Subscribe(ctx context.Context, scope evaluation.Scope) (Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &hubSubscription{
		id:    h.nextID,
		scope: scope,
		ch:    make(chan Event, h.bufferSize),
		done:  make(chan struct{}),
		hub:   h,
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.metrics.AddSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Further publishes fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	// Publish holds the read lock while sending, so closing here is safe.
	close(sub.ch)
	h.metrics.AddSubscribers(-1)
}

type hubSubscription struct {
	id    uint64
	scope evaluation.Scope
	ch    chan Event
	done  chan struct{}
	hub   *Hub
	once  sync.Once
}

func (s *hubSubscription) Events() <-chan Event {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
	return nil
}
