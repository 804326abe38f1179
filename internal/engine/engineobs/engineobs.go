package engineobs

import (
	"context"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/trace"
	"scheduled-trader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Tick(ctx context.Context) (*types.TickReport, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Tick")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Starting tick")

	report, err := oe.engine.Tick(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Tick failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Tick completed",
		"seq", report.Seq,
		"cancelled", len(report.Cancelled),
		"submitted", len(report.Submitted),
		"rejected", len(report.Rejected),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}
