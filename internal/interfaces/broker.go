package interfaces

import (
	"context"

	"scheduled-trader/internal/types"
)

// Broker is the normalized brokerage contract. Venue adapters implement it
// directly; the resilient gateway and observability middleware wrap it.
type Broker interface {
	// AccountSnapshot returns current positions and buying power.
	AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error)

	// OpenOrders returns every non-terminal order on the account.
	OpenOrders(ctx context.Context) ([]types.OrderRecord, error)

	// SubmitOrder places an order tagged with intent.IntentID.
	SubmitOrder(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error)

	// CancelOrder cancels a working order. Unknown or already resolved orders return types.ErrNotFound.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// OrderByIntent finds an order by its idempotency token or returns types.ErrNotFound.
	OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error)
}
