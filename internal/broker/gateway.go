package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// GatewayOptions configures the resilient gateway around a venue adapter.
type GatewayOptions struct {
	Retry       RetryPolicy
	CallTimeout time.Duration
	Limiter     *RateLimiter
}

// Gateway adds per-call timeouts, rate limiting, retry with backoff and
// idempotent submission to a venue adapter. It holds no trading state.
type Gateway struct {
	venue   interfaces.Broker
	retry   RetryPolicy
	timeout time.Duration
	limiter *RateLimiter
}

var _ interfaces.Broker = (*Gateway)(nil)

func NewGateway(venue interfaces.Broker, opts GatewayOptions) *Gateway {
	return &Gateway{
		venue:   venue,
		retry:   opts.Retry,
		timeout: opts.CallTimeout,
		limiter: opts.Limiter,
	}
}

// call runs one bounded attempt against the venue.
func (g *Gateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return types.Transient(fmt.Errorf("call timed out after %s: %w", g.timeout, err))
	}
	return err
}

func (g *Gateway) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	var snap types.AccountSnapshot
	err := g.retry.Do(ctx, func(ctx context.Context, _ int) error {
		return g.call(ctx, func(ctx context.Context) error {
			var err error
			snap, err = g.venue.AccountSnapshot(ctx)
			return err
		})
	})
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("account snapshot: %w", err)
	}
	return snap, nil
}

func (g *Gateway) OpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	var orders []types.OrderRecord
	err := g.retry.Do(ctx, func(ctx context.Context, _ int) error {
		return g.call(ctx, func(ctx context.Context) error {
			var err error
			orders, err = g.venue.OpenOrders(ctx)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	return orders, nil
}

// SubmitOrder looks the intent id up before every attempt, so an attempt
// that timed out after the venue accepted it is never placed twice.
func (g *Gateway) SubmitOrder(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error) {
	if intent.IntentID == "" {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectOther, "missing intent id")
	}

	var rec types.OrderRecord
	err := g.retry.Do(ctx, func(ctx context.Context, _ int) error {
		existing, err := g.lookup(ctx, intent.IntentID)
		if err == nil {
			rec = existing
			if existing.Status == types.OrderRejected {
				return rejectedAtVenue(intent.Symbol, existing.Reason)
			}
			return nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return err
		}

		return g.call(ctx, func(ctx context.Context) error {
			var err error
			rec, err = g.venue.SubmitOrder(ctx, intent)
			return err
		})
	})
	if err != nil {
		return types.OrderRecord{}, fmt.Errorf("submit %s %s %s: %w", intent.Side, intent.Quantity, intent.Symbol, err)
	}
	if rec.IntentID == "" {
		rec.IntentID = intent.IntentID
	}
	return rec, nil
}

// rejectedAtVenue turns an order the venue accepted and then refused into
// the same error a synchronous refusal would give.
func rejectedAtVenue(symbol, reason string) error {
	if reason == "" {
		reason = "rejected at broker"
	}
	return types.Reject(symbol, types.RejectOther, reason)
}

func (g *Gateway) lookup(ctx context.Context, intentID string) (types.OrderRecord, error) {
	var rec types.OrderRecord
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.venue.OrderByIntent(ctx, intentID)
		return err
	})
	return rec, err
}

func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	err := g.retry.Do(ctx, func(ctx context.Context, _ int) error {
		return g.call(ctx, func(ctx context.Context) error {
			return g.venue.CancelOrder(ctx, brokerOrderID)
		})
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

func (g *Gateway) OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error) {
	var rec types.OrderRecord
	err := g.retry.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		rec, err = g.lookup(ctx, intentID)
		return err
	})
	if err != nil {
		return types.OrderRecord{}, fmt.Errorf("order by intent %s: %w", intentID, err)
	}
	return rec, nil
}
