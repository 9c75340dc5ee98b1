// Package natsbus implements notify.Channel over NATS core subjects, so
// several engine processes can share change notifications.
//
// Subjects are "<prefix>.<project>.<table>". Events without a project use
// the "_" token and reach every subscriber.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
	"github.com/warp/evaluation-engine/notify"
)

const (
	DefaultPrefix   = "evallock"
	broadcastToken  = "_"
	defaultBuffered = 64
)

// Bus publishes and subscribes to change events on a NATS connection.
type Bus struct {
	conn       *nats.Conn
	prefix     string
	bufferSize int
	log        logger.Logger
	metrics    *metrics.Manager
	owned      bool
}

var _ notify.Channel = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		if prefix = strings.Trim(prefix, ". "); prefix != "" {
			b.prefix = prefix
		}
	}
}

func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// Connect dials url and returns a Bus that closes the connection on Close.
func Connect(url string, opts ...Option) (*Bus, error) {
	conn, err := nats.Connect(url, nats.Name("evaluation-engine"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	b := New(conn, opts...)
	b.owned = true
	return b, nil
}

// New wraps an existing connection.
func New(conn *nats.Conn, opts ...Option) *Bus {
	b := &Bus{
		conn:       conn,
		prefix:     DefaultPrefix,
		bufferSize: defaultBuffered,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("natsbus")
	return b
}

// Subject returns the subject an event is published on.
func (b *Bus) Subject(e notify.Event) string {
	project := token(e.ProjectID)
	if project == "" {
		project = broadcastToken
	}
	return b.prefix + "." + project + "." + token(e.Table)
}

func (b *Bus) Publish(_ context.Context, e notify.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(b.Subject(e), data); err != nil {
		return evaluation.Storage("nats publish", err)
	}
	b.metrics.RecordEventPublished(e.Table)
	return nil
}

// Subscribe listens on the scope's subjects. A project scope also listens
// on broadcast subjects.
func (b *Bus) Subscribe(ctx context.Context, scope evaluation.Scope) (notify.Subscription, error) {
	subjects := []string{b.prefix + ".*.*"}
	if scope != "" && scope != evaluation.ScopeAll {
		subjects = []string{
			b.prefix + "." + token(string(scope)) + ".*",
			b.prefix + "." + broadcastToken + ".*",
		}
	}

	sub := &subscription{
		ch:   make(chan notify.Event, b.bufferSize),
		done: make(chan struct{}),
		bus:  b,
	}
	for _, subject := range subjects {
		ns, err := b.conn.Subscribe(subject, sub.handle)
		if err != nil {
			sub.Close()
			return nil, evaluation.Storage("nats subscribe "+subject, err)
		}
		sub.nats = append(sub.nats, ns)
	}
	b.metrics.AddSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Close drains the connection if the bus dialed it.
func (b *Bus) Close() error {
	if !b.owned {
		return nil
	}
	return b.conn.Drain()
}

type subscription struct {
	bus  *Bus
	nats []*nats.Subscription
	ch   chan notify.Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *subscription) handle(msg *nats.Msg) {
	var e notify.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		s.bus.log.Warn(context.Background(), "undecodable change event",
			logger.String("subject", msg.Subject),
			logger.Error(err),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.bus.metrics.RecordEventDropped(e.Table)
	}
}

func (s *subscription) Events() <-chan notify.Event {
	return s.ch
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.ch)
	s.mu.Unlock()

	var firstErr error
	for _, ns := range s.nats {
		if err := ns.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.bus.metrics.AddSubscribers(-1)
	return firstErr
}

// token makes s safe as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
