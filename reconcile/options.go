package reconcile

import (
	"time"

	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
)

type options struct {
	log              logger.Logger
	metrics          *metrics.Manager
	expireTombstones bool
	refreshTimeout   time.Duration
}

func defaultOptions() options {
	return options{
		log:              logger.Nop(),
		expireTombstones: true,
		refreshTimeout:   defaultRefreshTimeout,
	}
}

// Option configures sessions and the registry.
type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTombstoneExpiry toggles dropping tombstones once storage confirms
// the id left pending. On by default.
func WithTombstoneExpiry(enabled bool) Option {
	return func(o *options) {
		o.expireTombstones = enabled
	}
}

// WithRefreshTimeout bounds the refresh that follows a failed action and
// each refresh driven by a change event.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}
