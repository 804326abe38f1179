package engine

import (
	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/reconcile"
	"scheduled-trader/internal/store"
)

// New builds an engine from config. j may be nil.
func New(cfg *store.Config, brk interfaces.Broker, eval interfaces.Evaluator, st interfaces.StateStore, j interfaces.Journal) interfaces.Engine {
	return newEngine(brk, eval, st, j, Options{
		Reconcile: reconcile.Options{
			MinOrderSize: cfg.Reconcile.MinOrderSize,
			WholeUnits:   cfg.Reconcile.WholeUnits,
		},
		HistoryLimit: cfg.State.HistoryLimit,
	})
}
