package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"scheduled-trader/internal/broker"
	"scheduled-trader/internal/broker/brokerobs"
	"scheduled-trader/internal/broker/kite"
	"scheduled-trader/internal/broker/paper"
	"scheduled-trader/internal/engine"
	"scheduled-trader/internal/engine/engineobs"
	"scheduled-trader/internal/eod"
	"scheduled-trader/internal/eod/eodobs"
	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/journal"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/metrics"
	"scheduled-trader/internal/signal"
	"scheduled-trader/internal/signal/signalobs"
	"scheduled-trader/internal/state"
	"scheduled-trader/internal/state/stateobs"
	"scheduled-trader/internal/store"
	"scheduled-trader/internal/trace"
)

// app holds everything a tick needs, wired and wrapped with observability.
type app struct {
	cfg     *store.Config
	store   interfaces.StateStore
	broker  interfaces.Broker
	journal *journal.Journal
	eod     interfaces.EodSummarizer
	metrics *metrics.Metrics
	engine  interfaces.Engine
}

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// bootstrap builds the app. Any error here is a startup failure.
func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}

	a := &app{cfg: cfg, metrics: metrics.New()}

	st, err := state.New(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open state store", err, "backend", cfg.State.Backend)
		return nil, err
	}
	a.store = stateobs.Wrap(st)

	// The first load doubles as the reachability check for the store.
	prev, err := a.store.Load(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	logger.Info(ctx, "State loaded",
		"backend", cfg.State.Backend,
		"seq", prev.Seq,
		"in_flight", len(prev.InFlight),
	)

	a.broker, err = initializeBroker(ctx, cfg, a.metrics)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	eval, err := initializeEvaluator(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.journal, err = journal.Open(cfg.Journal.Dir)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	compressOldJournals(ctx, cfg)

	a.eod, err = initializeEOD(cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.engine = engineobs.Wrap(engine.New(cfg, a.broker, eval, a.store, a.journal))
	return a, nil
}

// initializeBroker builds the venue and wraps it in the retrying gateway
// and the observability middleware.
func initializeBroker(ctx context.Context, cfg *store.Config, m *metrics.Metrics) (interfaces.Broker, error) {
	venue, err := initializeVenue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := broker.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Broker.Retry.MaxAttempts
	policy.BaseDelay = cfg.Broker.Retry.BaseDelay
	policy.MaxDelay = cfg.Broker.Retry.MaxDelay
	policy.Multiplier = cfg.Broker.Retry.Multiplier
	policy.OnRetry = func(callCtx context.Context, attempt int, delay time.Duration, err error) {
		m.BrokerRetry()
		logger.Warn(callCtx, "Retrying broker call",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)
	}

	gw := broker.NewGateway(venue, broker.GatewayOptions{
		Retry:       policy,
		CallTimeout: cfg.Broker.CallTimeout,
		Limiter:     broker.NewRateLimiterPerSecond(cfg.Broker.RateLimitPerSec),
	})
	return brokerobs.Wrap(gw), nil
}

func initializeVenue(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	if cfg.Broker.Provider != "kite" {
		logger.Info(ctx, "Using paper venue", "buying_power", cfg.Broker.Paper.BuyingPower.String())
		return paper.New(paper.Params{
			BuyingPower: cfg.Broker.Paper.BuyingPower,
			Prices:      cfg.Broker.Paper.Prices,
		}), nil
	}

	k, err := kite.New(kite.Params{
		APIKey:       cfg.Credentials.APIKey,
		APISecret:    cfg.Credentials.APISecret,
		AccessToken:  cfg.Credentials.AccessToken,
		RequestToken: cfg.Credentials.RequestToken,
		Exchange:     cfg.Broker.Exchange,
		Product:      cfg.Broker.Product,
		HTTPTimeout:  cfg.Broker.CallTimeout,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to initialize kite", err)
		return nil, err
	}

	if cfg.Mode == "LIVE" {
		logger.Info(ctx, "Using kite venue", "exchange", cfg.Broker.Exchange, "product", cfg.Broker.Product)
		return k, nil
	}
	return paperFromAccount(ctx, cfg, k)
}

// paperFromAccount seeds a paper venue with the real account so DRY_RUN
// plans against live holdings without sending orders.
func paperFromAccount(ctx context.Context, cfg *store.Config, src interfaces.Broker) (interfaces.Broker, error) {
	sctx, cancel := context.WithTimeout(ctx, cfg.Broker.CallTimeout)
	defer cancel()

	acct, err := src.AccountSnapshot(sctx)
	if err != nil {
		return nil, fmt.Errorf("seed paper venue from kite: %w", err)
	}
	logger.Info(ctx, "Using paper venue seeded from kite account",
		"positions", len(acct.Positions),
		"buying_power", acct.BuyingPower.String(),
	)
	return paper.New(paper.Params{
		BuyingPower: acct.BuyingPower,
		Prices:      cfg.Broker.Paper.Prices,
		Positions:   acct.Positions,
	}), nil
}

func initializeEvaluator(ctx context.Context, cfg *store.Config) (interfaces.Evaluator, error) {
	eval, err := signal.New(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Signal.Provider == "noop" {
		logger.Warn(ctx, "No signal provider configured - holding current positions")
	}
	return signalobs.Wrap(eval), nil
}

// initializeEOD wraps the journal summarizer with observability.
func initializeEOD(cfg *store.Config) (interfaces.EodSummarizer, error) {
	s, err := eod.New(cfg)
	if err != nil {
		return nil, err
	}
	return eodobs.Wrap(s), nil
}

func compressOldJournals(ctx context.Context, cfg *store.Config) {
	if cfg.Journal.RetentionDays <= 0 {
		return
	}
	if err := journal.CompressOlder(cfg.Journal.Dir, cfg.Journal.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old journals", "error", err.Error())
	}
}

// checkConnection fetches one account snapshot before scheduling. It is
// fatal only in LIVE mode.
func (a *app) checkConnection(ctx context.Context) error {
	acct, err := a.broker.AccountSnapshot(ctx)
	if err != nil {
		if a.cfg.Mode == "LIVE" {
			return fmt.Errorf("broker connection check: %w", err)
		}
		logger.Warn(ctx, "Broker connection check failed", "error", err.Error())
		return nil
	}
	logger.Info(ctx, "Broker connection ok",
		"positions", len(acct.Positions),
		"buying_power", acct.BuyingPower.String(),
	)
	return nil
}

func (a *app) summarizeToday(ctx context.Context) {
	_, _ = a.eod.SummarizeToday(ctx)
}

func (a *app) close(ctx context.Context) {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warn(ctx, "Failed to close journal", "error", err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn(ctx, "Failed to close state store", "error", err.Error())
		}
	}
}
