package interfaces

import (
	"context"

	"scheduled-trader/internal/types"
)

// StateStore durably holds the last committed TickState.
type StateStore interface {
	// Load returns the last committed state, or an initial state on first run.
	Load(ctx context.Context) (types.TickState, error)

	// Commit atomically replaces the stored state. On failure nothing is visible to later loads.
	Commit(ctx context.Context, state types.TickState) error

	Close() error
}
