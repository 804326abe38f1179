package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduled-trader/internal/metrics"
	"scheduled-trader/internal/types"
)

// blockingEngine holds every tick until release is closed or ctx ends.
type blockingEngine struct {
	release   chan struct{}
	started   chan struct{}
	running   atomic.Int32
	maxActive atomic.Int32
	ticks     atomic.Int32
	sawCancel atomic.Bool
	fail      error
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		release: make(chan struct{}),
		started: make(chan struct{}, 100),
	}
}

func (e *blockingEngine) Tick(ctx context.Context) (*types.TickReport, error) {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		cur := e.maxActive.Load()
		if n <= cur || e.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	seq := e.ticks.Add(1)
	e.started <- struct{}{}

	select {
	case <-e.release:
	case <-ctx.Done():
		e.sawCancel.Store(true)
		return nil, ctx.Err()
	}
	if e.fail != nil {
		return nil, e.fail
	}
	return &types.TickReport{Seq: uint64(seq)}, nil
}

// sleepEngine takes a fixed time per tick.
type sleepEngine struct {
	d         time.Duration
	running   atomic.Int32
	maxActive atomic.Int32
	ticks     atomic.Int32
}

func (e *sleepEngine) Tick(ctx context.Context) (*types.TickReport, error) {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	if n > e.maxActive.Load() {
		e.maxActive.Store(n)
	}
	e.ticks.Add(1)
	time.Sleep(e.d)
	return &types.TickReport{}, nil
}

func waitStarted(t *testing.T, eng *blockingEngine) {
	t.Helper()
	select {
	case <-eng.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not start")
	}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == Idle }, 2*time.Second, time.Millisecond)
}

func TestFireSkipsWhileTickRunning(t *testing.T) {
	eng := newBlockingEngine()
	m := metrics.New()
	s := New(eng, Options{Interval: time.Hour, Metrics: m})
	ctx := context.Background()

	require.True(t, s.Fire(ctx))
	waitStarted(t, eng)
	assert.Equal(t, TickRunning, s.State())

	assert.False(t, s.Fire(ctx))
	assert.False(t, s.Fire(ctx))
	assert.Equal(t, int64(2), s.Skipped())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TicksSkipped))

	close(eng.release)
	waitIdle(t, s)
	require.NoError(t, s.Last().Err)

	require.True(t, s.Fire(ctx))
	waitStarted(t, eng)
	waitIdle(t, s)
	assert.Equal(t, int32(2), eng.ticks.Load())
	assert.Equal(t, int32(1), eng.maxActive.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TicksTotal.WithLabelValues("succeeded")))
}

func TestRunNeverOverlapsTicks(t *testing.T) {
	eng := &sleepEngine{d: 40 * time.Millisecond}
	s := New(eng, Options{Interval: 5 * time.Millisecond, RunOnStart: true, ShutdownGrace: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int32(1), eng.maxActive.Load())
	assert.Greater(t, s.Skipped(), int64(0))
	assert.GreaterOrEqual(t, eng.ticks.Load(), int32(2))
}

func TestFailedTickKeepsScheduling(t *testing.T) {
	eng := newBlockingEngine()
	eng.fail = errors.New("broker unavailable")
	close(eng.release)
	m := metrics.New()
	s := New(eng, Options{Interval: 5 * time.Millisecond, ShutdownGrace: time.Second, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return eng.ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, s.Last().Err)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.TicksTotal.WithLabelValues("failed")), float64(3))
}

func TestShutdownWaitsForRunningTick(t *testing.T) {
	eng := newBlockingEngine()
	s := New(eng, Options{Interval: time.Hour, RunOnStart: true, ShutdownGrace: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitStarted(t, eng)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a tick was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(eng.release)
	require.NoError(t, <-done)
	assert.False(t, eng.sawCancel.Load())
	require.NoError(t, s.Last().Err)
}

func TestShutdownCancelsTickAfterGrace(t *testing.T) {
	eng := newBlockingEngine()
	s := New(eng, Options{Interval: time.Hour, RunOnStart: true, ShutdownGrace: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitStarted(t, eng)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after grace expired")
	}
	assert.True(t, eng.sawCancel.Load())
	assert.ErrorIs(t, s.Last().Err, context.Canceled)
}

func TestRunOnce(t *testing.T) {
	eng := newBlockingEngine()
	close(eng.release)
	s := New(eng, Options{})

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Seq)
	assert.Equal(t, Idle, s.State())
}

type panicEngine struct{}

func (panicEngine) Tick(ctx context.Context) (*types.TickReport, error) {
	panic("boom")
}

func TestPanickingTickIsAFailure(t *testing.T) {
	s := New(panicEngine{}, Options{})
	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, Idle, s.State())
}

func TestRunRejectsZeroInterval(t *testing.T) {
	err := New(panicEngine{}, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
