package signalobs

import (
	"context"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/trace"
	"scheduled-trader/internal/types"
)

type observableEvaluator struct {
	eval interfaces.Evaluator
}

var _ interfaces.Evaluator = (*observableEvaluator)(nil)

func Wrap(eval interfaces.Evaluator) interfaces.Evaluator {
	return &observableEvaluator{eval: eval}
}

func (oe *observableEvaluator) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	ctx, span := trace.StartSpan(ctx, "signal.Evaluate")
	defer span.End()

	start := time.Now()
	target, err := oe.eval.Evaluate(ctx, snap)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Signal evaluation failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if logger.IsDebugEnabled() {
		symbols := make(map[string]string, len(target))
		for s, q := range target {
			symbols[s] = q.String()
		}
		logger.DebugSkip(ctx, 1, "Target allocation", "targets", symbols)
	}
	logger.InfoSkip(ctx, 1, "Signal evaluated",
		"symbols", len(target),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return target, nil
}
