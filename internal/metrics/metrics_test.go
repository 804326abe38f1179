package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"scheduled-trader/internal/types"
)

func TestObserveTick(t *testing.T) {
	m := New()

	report := &types.TickReport{
		Submitted: []types.OrderRecord{
			{Side: types.SideSell, Quantity: decimal.NewFromInt(1)},
			{Side: types.SideBuy, Quantity: decimal.NewFromInt(1)},
			{Side: types.SideBuy, Quantity: decimal.NewFromInt(1)},
		},
		Rejected:  []types.Rejection{{Code: types.RejectMarketClosed}},
		Cancelled: []types.OrderRecord{{}},
	}
	m.ObserveTick(report, 200*time.Millisecond, nil)
	m.ObserveTick(nil, time.Second, errors.New("broker unavailable"))
	m.TickSkipped()
	m.BrokerRetry()

	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("succeeded ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("BUY")); got != 2 {
		t.Errorf("buys = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OrdersRejected); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrdersCancelled); got != 1 {
		t.Errorf("cancelled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TicksSkipped); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastSuccessfulTick); got <= 0 {
		t.Errorf("expected last successful tick timestamp to be set, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick(nil, time.Second, nil)
	m.TickSkipped()
	m.BrokerRetry()
}
