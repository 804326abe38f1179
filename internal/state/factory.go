package state

import (
	"context"
	"fmt"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/store"
	"scheduled-trader/internal/types"
)

// New opens the backend selected by cfg.State.Backend.
func New(ctx context.Context, cfg *store.Config) (interfaces.StateStore, error) {
	switch cfg.State.Backend {
	case "", "file":
		return OpenFile(cfg.State.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.Credentials.PostgresDSN)
	case "redis":
		return OpenRedis(ctx, RedisConfig{
			Addr:         cfg.State.Redis.Addr,
			Password:     cfg.Credentials.RedisPass,
			DB:           cfg.State.Redis.DB,
			KeyPrefix:    cfg.State.Redis.KeyPrefix,
			HistoryLimit: cfg.State.HistoryLimit,
		})
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", types.ErrConfiguration, cfg.State.Backend)
	}
}

// Peek returns the last committed state for inspection. The file backend is
// read without the writer lock so it works while the scheduler is running.
func Peek(ctx context.Context, cfg *store.Config) (types.TickState, error) {
	if cfg.State.Backend == "" || cfg.State.Backend == "file" {
		return ReadFile(cfg.State.Path)
	}
	st, err := New(ctx, cfg)
	if err != nil {
		return types.TickState{}, err
	}
	defer st.Close()
	return st.Load(ctx)
}
