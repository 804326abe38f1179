// Package scheduler fires engine ticks on a fixed interval with at most one
// tick in flight. A fire that lands while a tick is running is dropped and
// counted, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/metrics"
	"scheduled-trader/internal/types"
)

type State int32

const (
	Idle State = iota
	TickRunning
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case TickRunning:
		return "TICK_RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Options struct {
	Interval   time.Duration
	RunOnStart bool
	// ShutdownGrace is how long a running tick may continue after shutdown
	// begins before its context is cancelled.
	ShutdownGrace time.Duration
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Outcome is the result of the most recent finished tick.
type Outcome struct {
	Report *types.TickReport
	Err    error
	At     time.Time
}

type Scheduler struct {
	eng  interfaces.Engine
	opts Options

	state   atomic.Int32
	skipped atomic.Int64
	wg      sync.WaitGroup

	mu   sync.Mutex
	last Outcome
}

func New(eng interfaces.Engine, opts Options) *Scheduler {
	return &Scheduler{eng: eng, opts: opts}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Skipped counts fires dropped because a tick was already running.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

func (s *Scheduler) Last() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run blocks until ctx is cancelled. Tick failures are logged and the loop
// continues. On shutdown the timer stops first, then a running tick gets
// ShutdownGrace to finish before its context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return fmt.Errorf("%w: schedule interval must be positive", types.ErrConfiguration)
	}

	tickCtx, cancelTicks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTicks()

	logger.Info(ctx, "Scheduler started",
		"interval", s.opts.Interval.String(),
		"run_on_start", s.opts.RunOnStart,
	)

	if s.opts.RunOnStart {
		s.Fire(tickCtx)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Fire(tickCtx)
		case <-ctx.Done():
			ticker.Stop()
			s.drain(ctx, cancelTicks)
			logger.Info(ctx, "Scheduler stopped", "skipped", s.Skipped())
			return nil
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, cancelTicks context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.State() == TickRunning {
		logger.Info(ctx, "Waiting for running tick", "grace", s.opts.ShutdownGrace.String())
	}

	timer := time.NewTimer(s.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	logger.Warn(ctx, "Shutdown grace expired, cancelling running tick")
	cancelTicks()
	<-done
}

// Fire starts a tick in the background unless one is already running.
// It reports whether a tick was started.
func (s *Scheduler) Fire(ctx context.Context) bool {
	if !s.state.CompareAndSwap(int32(Idle), int32(TickRunning)) {
		s.skipped.Add(1)
		s.opts.Metrics.TickSkipped()
		logger.Warn(ctx, "Tick skipped, previous tick still running",
			"skipped_total", s.Skipped(),
		)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finish(s.runTick(ctx))
	}()
	return true
}

// RunOnce runs a single tick synchronously, for one-shot invocations.
func (s *Scheduler) RunOnce(ctx context.Context) (*types.TickReport, error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(TickRunning)) {
		return nil, fmt.Errorf("tick already running")
	}
	out := s.runTick(ctx)
	s.finish(out)
	return out.Report, out.Err
}

func (s *Scheduler) runTick(ctx context.Context) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("tick panicked: %v", r)}
			logger.Error(ctx, "Tick panicked", "panic", fmt.Sprint(r))
		}
		out.At = time.Now()
		s.opts.Metrics.ObserveTick(out.Report, out.At.Sub(start), out.Err)
	}()

	report, err := s.eng.Tick(ctx)
	return Outcome{Report: report, Err: err}
}

func (s *Scheduler) finish(out Outcome) {
	s.mu.Lock()
	s.last = out
	s.mu.Unlock()

	if out.Err != nil {
		s.state.Store(int32(Failed))
	} else {
		s.state.Store(int32(Succeeded))
	}
	s.state.Store(int32(Idle))
}
