// Package reconcile diffs a target allocation against current positions and
// unresolved broker orders and produces the order plan for one tick.
package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scheduled-trader/internal/types"
)

// IntentIDLength fits the shortest order tag accepted by the supported venues.
const IntentIDLength = 20

type Options struct {
	// MinOrderSize is the smallest quantity worth sending. Deltas below it are dropped.
	MinOrderSize decimal.Decimal
	// WholeUnits truncates deltas toward zero before the size check.
	WholeUnits bool
	// NewID generates intent ids; defaults to NewIntentID.
	NewID func() string
	// Now stamps CreatedAt; defaults to time.Now.
	Now func() time.Time
}

// NewIntentID returns a random 20-character hex id.
func NewIntentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IntentIDLength]
}

type draft struct {
	symbol string
	delta  decimal.Decimal
}

// Plan is a pure function of its inputs apart from the injected id generator and clock.
// Cancels come back ordered by symbol then intent id; intents sells first, then buys,
// each group by symbol.
func Plan(target types.TargetAllocation, positions []types.Position, inFlight []types.OrderRecord, opts Options) types.Plan {
	if opts.NewID == nil {
		opts.NewID = NewIntentID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	current := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		current[p.Symbol] = current[p.Symbol].Add(p.Quantity)
	}

	working := make(map[string][]types.OrderRecord)
	for _, o := range inFlight {
		if o.Status.Terminal() || !o.Remaining().IsPositive() {
			continue
		}
		working[o.Symbol] = append(working[o.Symbol], o)
	}

	symbols := make(map[string]struct{}, len(target)+len(current)+len(working))
	for s := range target {
		symbols[s] = struct{}{}
	}
	for s := range current {
		symbols[s] = struct{}{}
	}
	for s := range working {
		symbols[s] = struct{}{}
	}

	var plan types.Plan
	var drafts []draft
	for symbol := range symbols {
		raw := target[symbol].Sub(current[symbol])

		pending := decimal.Zero
		for _, o := range working[symbol] {
			if raw.IsZero() || o.Side.Sign().Sign() != raw.Sign() {
				plan.Cancels = append(plan.Cancels, o)
				continue
			}
			pending = pending.Add(o.SignedRemaining())
		}

		delta := raw.Sub(pending)
		if !pending.IsZero() && delta.Sign() != raw.Sign() {
			// In-flight orders already cover the move.
			continue
		}
		if opts.WholeUnits {
			delta = delta.Truncate(0)
		}
		if delta.IsZero() || delta.Abs().LessThan(opts.MinOrderSize) {
			continue
		}
		drafts = append(drafts, draft{symbol: symbol, delta: delta})
	}

	sort.Slice(plan.Cancels, func(i, j int) bool {
		a, b := plan.Cancels[i], plan.Cancels[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.IntentID != b.IntentID {
			return a.IntentID < b.IntentID
		}
		return a.BrokerOrderID < b.BrokerOrderID
	})

	sort.Slice(drafts, func(i, j int) bool {
		si, sj := drafts[i].delta.IsNegative(), drafts[j].delta.IsNegative()
		if si != sj {
			return si
		}
		return drafts[i].symbol < drafts[j].symbol
	})

	now := opts.Now()
	for _, d := range drafts {
		side := types.SideBuy
		if d.delta.IsNegative() {
			side = types.SideSell
		}
		plan.Intents = append(plan.Intents, types.OrderIntent{
			IntentID:  opts.NewID(),
			Symbol:    d.symbol,
			Side:      side,
			Quantity:  d.delta.Abs(),
			CreatedAt: now,
		})
	}
	return plan
}
