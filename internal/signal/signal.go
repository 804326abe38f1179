// Package signal holds the pluggable evaluators that turn a broker snapshot
// into a target allocation. The engine treats them as opaque.
package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// Hold keeps every current position where it is.
type Hold struct{}

var _ interfaces.Evaluator = Hold{}

func (Hold) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	target := make(types.TargetAllocation, len(snap.Account.Positions))
	for _, p := range snap.Account.Positions {
		target[p.Symbol] = p.Quantity
	}
	return target, nil
}

// Static always returns the same allocation. Symbols held but not listed are liquidated.
type Static struct {
	targets types.TargetAllocation
}

var _ interfaces.Evaluator = (*Static)(nil)

func NewStatic(targets map[string]decimal.Decimal) *Static {
	t := make(types.TargetAllocation, len(targets))
	for k, v := range targets {
		t[k] = v
	}
	return &Static{targets: t}
}

func (s *Static) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	out := make(types.TargetAllocation, len(s.targets))
	for k, v := range s.targets {
		out[k] = v
	}
	return out, nil
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error)

func (f Func) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	return f(ctx, snap)
}

func evalErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrEvaluation, fmt.Sprintf(format, args...))
}

func validate(t types.TargetAllocation) error {
	for sym := range t {
		if sym == "" {
			return evalErr("empty symbol in target allocation")
		}
	}
	return nil
}
