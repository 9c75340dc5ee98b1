package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/evaluation-engine/evaluation"
)

type countingSweeper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingSweeper) SweepStragglers(_ context.Context, scope evaluation.Scope) (int, error) {
	c.calls.Add(1)
	if scope != evaluation.ScopeAll {
		return 0, errors.New("sweeper must cover every project")
	}
	return c.n, c.err
}

func TestCascadeSweeper_RunsOnStartAndStops(t *testing.T) {
	// GIVEN: A sweeper with a long interval
	wf := &countingSweeper{n: 2}
	cs := NewCascadeSweeper(wf, time.Hour, nil)

	// WHEN: It starts
	cs.Start()
	cs.Start()

	// THEN: One immediate pass runs, and Stop is safe to repeat
	assert.Eventually(t, func() bool { return wf.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cs.Stop()
	cs.Stop()
	assert.Equal(t, int32(1), wf.calls.Load())
}

func TestCascadeSweeper_TicksRepeatedly(t *testing.T) {
	wf := &countingSweeper{}
	cs := NewCascadeSweeper(wf, 10*time.Millisecond, nil)

	cs.Start()
	defer cs.Stop()

	assert.Eventually(t, func() bool { return wf.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestCascadeSweeper_DisabledWithZeroInterval(t *testing.T) {
	wf := &countingSweeper{}
	cs := NewCascadeSweeper(wf, 0, nil)

	cs.Start()
	cs.Stop()

	assert.False(t, cs.Enabled)
	assert.Equal(t, int32(0), wf.calls.Load())
}

func TestCascadeSweeper_RunNowReportsPartialCount(t *testing.T) {
	wf := &countingSweeper{n: 1, err: evaluation.Storage("list", errors.New("timeout"))}
	cs := NewCascadeSweeper(wf, 0, nil)

	assert.Equal(t, 1, cs.RunNow(context.Background()))
}
