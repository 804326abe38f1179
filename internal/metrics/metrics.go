// Package metrics exposes the scheduler and order-flow counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/types"
)

const namespace = "trader"

type Metrics struct {
	registry *prometheus.Registry

	TicksTotal         *prometheus.CounterVec
	TicksSkipped       prometheus.Counter
	TickDuration       prometheus.Histogram
	OrdersSubmitted    *prometheus.CounterVec
	OrdersRejected     prometheus.Counter
	OrdersCancelled    prometheus.Counter
	BrokerRetries      prometheus.Counter
	LastSuccessfulTick prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks run, by result.",
		}, []string{"result"}),
		TicksSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Timer fires skipped because a tick was still running.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		OrdersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the broker, by side.",
		}, []string{"side"}),
		OrdersRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Intents the broker refused.",
		}),
		OrdersCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Stale in-flight orders cancelled.",
		}),
		BrokerRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_retries_total",
			Help:      "Broker calls retried after a transient failure.",
		}),
		LastSuccessfulTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_tick_timestamp_seconds",
			Help:      "Unix time of the last committed tick.",
		}),
	}
}

// ObserveTick records the outcome of one tick. A nil receiver is a no-op.
func (m *Metrics) ObserveTick(report *types.TickReport, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(dur.Seconds())
	if err != nil {
		m.TicksTotal.WithLabelValues("failed").Inc()
		return
	}
	m.TicksTotal.WithLabelValues("succeeded").Inc()
	m.LastSuccessfulTick.SetToCurrentTime()
	if report == nil {
		return
	}
	for _, o := range report.Submitted {
		m.OrdersSubmitted.WithLabelValues(string(o.Side)).Inc()
	}
	m.OrdersRejected.Add(float64(len(report.Rejected)))
	m.OrdersCancelled.Add(float64(len(report.Cancelled)))
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.TicksSkipped.Inc()
}

func (m *Metrics) BrokerRetry() {
	if m == nil {
		return
	}
	m.BrokerRetries.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Serve runs the /metrics listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info(ctx, "Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
