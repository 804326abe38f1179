package eod

import (
	"fmt"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/store"
	"scheduled-trader/internal/types"
)

// New builds the summarizer for cfg.Journal. An empty summary_at disables
// the daily run; on-demand summaries always work.
func New(cfg *store.Config) (interfaces.EodSummarizer, error) {
	cutoff := time.Duration(-1)
	if at := cfg.Journal.SummaryAt; at != "" {
		t, err := time.Parse("15:04", at)
		if err != nil {
			return nil, fmt.Errorf("%w: journal.summary_at %q: %v", types.ErrConfiguration, at, err)
		}
		cutoff = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}
	return newSummarizer(cfg.Journal.Dir, cutoff, time.Now), nil
}

func newSummarizer(dir string, cutoff time.Duration, now func() time.Time) *eodSummarizer {
	return &eodSummarizer{dir: dir, cutoff: cutoff, now: now}
}
