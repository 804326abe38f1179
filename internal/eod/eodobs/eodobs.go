package eodobs

import (
	"context"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeDay")
	defer span.End()

	csvPath, err := oes.summarizer.SummarizeDay(ctx, t)
	return oes.report(ctx, t, csvPath, err)
}

func (oes *observableEodSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeToday")
	defer span.End()

	csvPath, err := oes.summarizer.SummarizeToday(ctx)
	return oes.report(ctx, time.Now(), csvPath, err)
}

func (oes *observableEodSummarizer) report(ctx context.Context, t time.Time, csvPath string, err error) (string, error) {
	date := t.Format("2006-01-02")
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary generation failed", err,
			"date", date,
		)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No journal entries for EOD summary",
			"date", date,
		)
		return "", nil
	}

	logger.InfoSkip(ctx, 2, "EOD summary generated",
		"date", date,
		"csv_path", csvPath,
	)
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow(now time.Time) (bool, string) {
	shouldRun, csvPath := oes.summarizer.ShouldRunNow(now)

	logger.DebugSkip(context.Background(), 1, "EOD check completed",
		"should_run", shouldRun,
		"csv_path", csvPath,
	)

	return shouldRun, csvPath
}
