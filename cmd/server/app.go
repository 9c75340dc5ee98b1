package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/evaluation-engine/api"
	"github.com/warp/evaluation-engine/config"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
	"github.com/warp/evaluation-engine/notify"
	"github.com/warp/evaluation-engine/notify/natsbus"
	"github.com/warp/evaluation-engine/reconcile"
	"github.com/warp/evaluation-engine/store/sqlite"
)

// app is the wired process: storage, notifications, workflow and HTTP.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	metrics  *metrics.Manager
	db       *sqlite.Store
	channel  channel
	workflow *evaluation.Workflow
	sessions *reconcile.Registry
	sweeper  *api.CascadeSweeper
	handler  *api.Handler
}

// channel is a notification channel the process owns and must close.
type channel interface {
	notify.Channel
	Close() error
}

func loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.DatabasePath = opts.DBPath
	}
	return cfg, nil
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	m := metrics.NewManager()

	db, err := openStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	ch, err := openChannel(cfg, log, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := notify.NewStore(db, ch, log)
	wf := evaluation.NewWorkflow(store,
		evaluation.WithTimeout(cfg.StorageTimeout()),
		evaluation.WithLogger(log),
		evaluation.WithMetrics(m),
	)
	sessions := reconcile.NewRegistry(wf, store, ch,
		reconcile.WithTombstoneExpiry(cfg.TombstoneExpiry),
		reconcile.WithRefreshTimeout(cfg.StorageTimeout()),
		reconcile.WithLogger(log),
		reconcile.WithMetrics(m),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		db:       db,
		channel:  ch,
		workflow: wf,
		sessions: sessions,
		sweeper:  api.NewCascadeSweeper(wf, cfg.SweepInterval(), log),
		handler:  api.NewHandler(wf, sessions, ch, api.WithLogger(log), api.WithMetrics(m)),
	}, nil
}

// Close releases everything newApp opened, sessions first.
func (a *app) Close() error {
	a.sweeper.Stop()
	a.sessions.CloseAll()
	return errors.Join(a.channel.Close(), a.db.Close())
}

func openStore(path string) (*sqlite.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return db, nil
}

func openChannel(cfg *config.Config, log logger.Logger, m *metrics.Manager) (channel, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		bus, err := natsbus.Connect(cfg.NATSURL,
			natsbus.WithPrefix(cfg.NATSSubjectPrefix),
			natsbus.WithBufferSize(cfg.EventBuffer),
			natsbus.WithLogger(log),
			natsbus.WithMetrics(m),
		)
		if err != nil {
			return nil, fmt.Errorf("connect notification bus: %w", err)
		}
		return bus, nil
	default:
		return notify.NewHub(
			notify.WithBufferSize(cfg.EventBuffer),
			notify.WithLogger(log),
			notify.WithMetrics(m),
		), nil
	}
}
