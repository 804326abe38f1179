package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/reconcile"
	"scheduled-trader/internal/types"
)

type Options struct {
	Reconcile reconcile.Options
	// HistoryLimit caps TickState.History; 0 keeps everything.
	HistoryLimit int
	Now          func() time.Time
}

// Engine runs one reconciliation tick at a time. It holds no state between
// ticks; everything durable goes through the state store.
type Engine struct {
	brk     interfaces.Broker
	eval    interfaces.Evaluator
	store   interfaces.StateStore
	journal interfaces.Journal
	opts    Options
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(brk interfaces.Broker, eval interfaces.Evaluator, st interfaces.StateStore, j interfaces.Journal, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{brk: brk, eval: eval, store: st, journal: j, opts: opts}
}

// Tick runs snapshot, evaluate, reconcile, execute and commit. Any error
// means nothing was committed and the previous state stands; intents the
// broker rejected are reported, not returned as errors.
func (e *Engine) Tick(ctx context.Context) (*types.TickReport, error) {
	started := e.opts.Now()

	prev, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	seq := prev.Seq + 1

	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	target, err := e.eval.Evaluate(ctx, snap)
	if err != nil {
		if !errors.Is(err, types.ErrEvaluation) {
			err = fmt.Errorf("%w: %w", types.ErrEvaluation, err)
		}
		return nil, err
	}
	if target == nil {
		target = types.TargetAllocation{}
	}

	plan := reconcile.Plan(target, snap.Account.Positions, snap.OpenOrders, e.opts.Reconcile)
	logger.Info(ctx, "Plan computed",
		"seq", seq,
		"cancels", len(plan.Cancels),
		"intents", len(plan.Intents),
	)

	exec := newOrderExecutor(e.brk, e.journal, seq)
	if err := exec.cancel(ctx, plan.Cancels); err != nil {
		return nil, err
	}
	if err := exec.submit(ctx, plan.Intents); err != nil {
		return nil, err
	}

	vanished := e.resolveVanished(ctx, prev, snap.OpenOrders)

	next, resolved := buildNextState(stateInputs{
		prev:         prev,
		now:          started,
		target:       target,
		positions:    snap.Account.Positions,
		open:         snap.OpenOrders,
		cancelled:    exec.cancelled,
		settled:      exec.settled,
		submitted:    exec.submitted,
		rejected:     exec.rejectedRecords,
		vanished:     vanished,
		historyLimit: e.opts.HistoryLimit,
	})

	if err := e.store.Commit(ctx, next); err != nil {
		return nil, fmt.Errorf("commit tick %d: %w", seq, err)
	}

	for _, r := range resolved {
		exec.journalRecord(types.EventResolved, r)
	}

	return &types.TickReport{
		Seq:       next.Seq,
		StartedAt: started,
		Duration:  e.opts.Now().Sub(started),
		Cancelled: exec.cancelled,
		Submitted: exec.submitted,
		Rejected:  exec.rejected,
	}, nil
}

// snapshot fetches the account and open orders concurrently.
func (e *Engine) snapshot(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acct, err := e.brk.AccountSnapshot(gctx)
		if err != nil {
			return err
		}
		snap.Account = acct
		return nil
	})
	g.Go(func() error {
		open, err := e.brk.OpenOrders(gctx)
		if err != nil {
			return err
		}
		snap.OpenOrders = open
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// resolveVanished looks up orders the previous tick left in flight that the
// broker no longer reports as open, to record how they ended. Lookups are
// best effort; a failed lookup keeps the last known record.
func (e *Engine) resolveVanished(ctx context.Context, prev types.TickState, open []types.OrderRecord) []types.OrderRecord {
	stillOpen := make(map[string]struct{}, len(open))
	for _, o := range open {
		stillOpen[inFlightKey(o)] = struct{}{}
	}

	var out []types.OrderRecord
	for _, key := range sortedKeys(prev.InFlight) {
		if _, ok := stillOpen[key]; ok {
			continue
		}
		rec := prev.InFlight[key]
		if rec.IntentID != "" {
			latest, err := e.brk.OrderByIntent(ctx, rec.IntentID)
			if err == nil {
				rec = latest
				rec.IntentID = prev.InFlight[key].IntentID
			} else {
				logger.Warn(ctx, "Could not resolve vanished order",
					"intent_id", rec.IntentID,
					"order_id", rec.BrokerOrderID,
					"error", err.Error(),
				)
			}
		}
		if !rec.Status.Terminal() {
			rec.Reason = "no longer open at broker"
		}
		out = append(out, rec)
	}
	return out
}
