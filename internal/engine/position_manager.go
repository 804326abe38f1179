package engine

import (
	"sort"
	"time"

	"scheduled-trader/internal/types"
)

type stateInputs struct {
	prev      types.TickState
	now       time.Time
	target    types.TargetAllocation
	positions []types.Position
	open      []types.OrderRecord
	cancelled []types.OrderRecord
	settled   []types.OrderRecord
	submitted []types.OrderRecord
	rejected  []types.OrderRecord
	vanished  []types.OrderRecord

	historyLimit int
}

// inFlightKey is the intent id, or the broker id for orders placed outside
// the engine.
func inFlightKey(o types.OrderRecord) string {
	if o.IntentID != "" {
		return o.IntentID
	}
	return "order:" + o.BrokerOrderID
}

func sortedKeys(m map[string]types.OrderRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildNextState derives the state to commit. The broker's open orders are
// the source of truth for what is in flight; everything that left flight
// this tick goes to History, which keeps only the newest historyLimit records.
func buildNextState(in stateInputs) (types.TickState, []types.OrderRecord) {
	next := types.NewTickState()
	next.Seq = in.prev.Seq + 1
	next.LastTickAt = in.now

	for sym, qty := range in.target {
		next.Allocation[sym] = qty
	}

	for _, p := range in.positions {
		if !p.Quantity.IsZero() {
			next.Positions = append(next.Positions, p)
		}
	}
	sort.Slice(next.Positions, func(i, j int) bool { return next.Positions[i].Symbol < next.Positions[j].Symbol })

	for _, o := range in.open {
		next.InFlight[inFlightKey(o)] = o
	}

	var resolved []types.OrderRecord
	resolved = append(resolved, in.vanished...)

	for _, c := range in.cancelled {
		delete(next.InFlight, inFlightKey(c))
		resolved = append(resolved, c)
	}
	for _, c := range in.settled {
		delete(next.InFlight, inFlightKey(c))
		resolved = append(resolved, c)
	}

	for _, s := range in.submitted {
		if s.Status.Terminal() {
			resolved = append(resolved, s)
			continue
		}
		next.InFlight[inFlightKey(s)] = s
	}
	resolved = append(resolved, in.rejected...)

	history := append(append([]types.OrderRecord{}, in.prev.History...), resolved...)
	if in.historyLimit > 0 && len(history) > in.historyLimit {
		history = history[len(history)-in.historyLimit:]
	}
	next.History = history

	return next, resolved
}
