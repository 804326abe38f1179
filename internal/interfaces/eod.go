package interfaces

import (
	"context"
	"time"
)

type EodSummarizer interface {
	SummarizeDay(ctx context.Context, t time.Time) (csvPath string, err error)
	SummarizeToday(ctx context.Context) (csvPath string, err error)
	// ShouldRunNow reports whether the daily cutoff has passed and today's
	// summary has not been written yet.
	ShouldRunNow(now time.Time) (shouldRun bool, csvPath string)
}
