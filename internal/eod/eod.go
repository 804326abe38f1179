// Package eod writes the end-of-day journal summary, either on demand or
// once a day after a configured cutoff.
package eod

import (
	"context"
	"errors"
	"os"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/journal"
	"scheduled-trader/internal/logger"
)

type eodSummarizer struct {
	dir string
	// cutoff is the offset from local midnight after which the day is summarized.
	// Negative disables the daily run.
	cutoff time.Duration
	now    func() time.Time
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

func (s *eodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	return journal.Summarize(s.dir, t)
}

func (s *eodSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	return s.SummarizeDay(ctx, s.now())
}

func (s *eodSummarizer) ShouldRunNow(now time.Time) (bool, string) {
	outPath := journal.SummaryPath(s.dir, now)
	if s.cutoff < 0 {
		return false, outPath
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Before(midnight.Add(s.cutoff)) {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}

// Watch checks every interval and summarizes the day once its cutoff has
// passed. It returns when ctx is done.
func Watch(ctx context.Context, s interfaces.EodSummarizer, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			ok, _ := s.ShouldRunNow(now)
			if !ok {
				continue
			}
			if _, err := s.SummarizeDay(ctx, now); err != nil {
				logger.Warn(ctx, "EOD summary failed", "error", err.Error())
			}
		}
	}
}
