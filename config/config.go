// Package config defines engine configuration and its loading.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Transport names for change notifications.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Config contains process configuration.
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DatabasePath is the SQLite file. ":memory:" keeps everything in process.
	DatabasePath string `koanf:"database_path"`

	// StorageTimeoutMS bounds every workflow operation. Zero disables it.
	StorageTimeoutMS int `koanf:"storage_timeout_ms"`

	// EventBuffer is the per-subscriber notification buffer.
	EventBuffer int `koanf:"event_buffer"`

	// Transport selects the notification channel: memory or nats.
	Transport string `koanf:"transport"`

	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`

	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string `koanf:"cors_origins"`

	// TombstoneExpiry drops session tombstones once storage confirms the
	// resolution.
	TombstoneExpiry bool `koanf:"tombstone_expiry"`

	// SweepIntervalS runs the straggler sweep every N seconds. Zero disables it.
	SweepIntervalS int `koanf:"sweep_interval_s"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		Addr:              ":8080",
		LogLevel:          "info",
		DatabasePath:      "./data/evallock.db",
		StorageTimeoutMS:  5000,
		EventBuffer:       64,
		Transport:         TransportMemory,
		NATSURL:           "nats://127.0.0.1:4222",
		NATSSubjectPrefix: "evallock",
		CORSOrigins:       []string{"*"},
		TombstoneExpiry:   true,
		SweepIntervalS:    60,
	}
}

func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.DatabasePath) == "":
		return fmt.Errorf("%w: database_path must not be empty", ErrInvalidConfig)
	case c.StorageTimeoutMS < 0:
		return fmt.Errorf("%w: storage_timeout_ms must not be negative", ErrInvalidConfig)
	case c.EventBuffer <= 0:
		return fmt.Errorf("%w: event_buffer must be positive", ErrInvalidConfig)
	case c.SweepIntervalS < 0:
		return fmt.Errorf("%w: sweep_interval_s must not be negative", ErrInvalidConfig)
	}

	switch c.Transport {
	case TransportMemory:
	case TransportNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: nats_url is required for the nats transport", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}
