package interfaces

import (
	"context"

	"scheduled-trader/internal/types"
)

type Engine interface {
	Tick(ctx context.Context) (*types.TickReport, error)
}
