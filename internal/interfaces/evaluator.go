package interfaces

import (
	"context"

	"scheduled-trader/internal/types"
)

// Evaluator turns a broker snapshot into a target allocation.
type Evaluator interface {
	Evaluate(ctx context.Context, snapshot types.Snapshot) (types.TargetAllocation, error)
}
