/*
sweeper.go - Periodic straggler sweep

PURPOSE:
  Approving an unlock request cascades to pending duplicates for the same
  subject and day after the approval commits. If that cascade fails, the
  duplicates stay pending. The sweeper re-runs the cascade for such
  stragglers on a fixed interval.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass is bounded by the workflow's own storage timeout

CONFIGURATION:
  - CheckInterval: How often to sweep (config sweep_interval_s)
  - Enabled: Whether the sweeper is active (false when the interval is 0)

USAGE:
  sweeper := NewCascadeSweeper(wf, interval, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - evaluation/workflow.go: SweepStragglers
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
)

// Sweeper is the workflow surface the sweeper needs.
type Sweeper interface {
	SweepStragglers(ctx context.Context, scope evaluation.Scope) (int, error)
}

// CascadeSweeper periodically approves straggler unlock requests.
type CascadeSweeper struct {
	Workflow      Sweeper
	CheckInterval time.Duration
	Enabled       bool

	log    logger.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCascadeSweeper creates a sweeper. A non-positive interval disables it.
func NewCascadeSweeper(wf Sweeper, interval time.Duration, log logger.Logger) *CascadeSweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &CascadeSweeper{
		Workflow:      wf,
		CheckInterval: interval,
		Enabled:       interval > 0,
		log:           log.Named("sweeper"),
	}
}

// Start begins the sweeper. Calling Start twice is a no-op.
func (cs *CascadeSweeper) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info(context.Background(), "sweeper disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	cs.log.Info(context.Background(), "sweeper started",
		logger.String("interval", cs.CheckInterval.String()))
}

// Stop stops the sweeper and waits for a running pass to finish.
func (cs *CascadeSweeper) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil
	cs.log.Info(context.Background(), "sweeper stopped")
}

func (cs *CascadeSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	// Run immediately on start
	cs.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			cs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep over every project and returns how many
// requests it approved.
func (cs *CascadeSweeper) RunNow(ctx context.Context) int {
	n, err := cs.Workflow.SweepStragglers(ctx, evaluation.ScopeAll)
	if err != nil {
		cs.log.Warn(ctx, "straggler sweep failed",
			logger.Int("approved", n),
			logger.Error(err),
		)
		return n
	}
	if n > 0 {
		cs.log.Info(ctx, "straggler sweep completed", logger.Int("approved", n))
	}
	return n
}
