package brokerobs

import (
	"context"
	"errors"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/trace"
	"scheduled-trader/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

func (ob *observableBroker) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	ctx, span := trace.StartSpan(ctx, "broker.AccountSnapshot")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching account snapshot")

	snap, err := ob.broker.AccountSnapshot(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account snapshot", err)
		return snap, err
	}

	logger.DebugSkip(ctx, 1, "Account snapshot fetched",
		"positions", len(snap.Positions),
		"buying_power", snap.BuyingPower.String(),
	)
	return snap, nil
}

func (ob *observableBroker) OpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OpenOrders")
	defer span.End()

	orders, err := ob.broker.OpenOrders(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch open orders", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Open orders fetched", "count", len(orders))
	return orders, nil
}

// SubmitOrder logs rejections at warn level; they are expected outcomes, not faults.
func (ob *observableBroker) SubmitOrder(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SubmitOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Submitting order",
		"symbol", intent.Symbol,
		"side", intent.Side,
		"qty", intent.Quantity.String(),
		"intent_id", intent.IntentID,
	)

	rec, err := ob.broker.SubmitOrder(ctx, intent)
	if err != nil {
		if errors.Is(err, types.ErrOrderRejected) {
			logger.WarnSkip(ctx, 1, "Order rejected",
				"symbol", intent.Symbol,
				"intent_id", intent.IntentID,
				"error", err.Error(),
			)
		} else {
			logger.ErrorWithErrSkip(ctx, 1, "Failed to submit order", err,
				"symbol", intent.Symbol,
				"side", intent.Side,
				"qty", intent.Quantity.String(),
				"intent_id", intent.IntentID,
			)
		}
		return rec, err
	}

	logger.InfoSkip(ctx, 1, "Order submitted",
		"symbol", intent.Symbol,
		"intent_id", intent.IntentID,
		"order_id", rec.BrokerOrderID,
		"status", rec.Status,
	)
	return rec, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", brokerOrderID)

	if err := ob.broker.CancelOrder(ctx, brokerOrderID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			logger.WarnSkip(ctx, 1, "Order already resolved", "order_id", brokerOrderID)
		} else {
			logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", brokerOrderID)
		}
		return err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled", "order_id", brokerOrderID)
	return nil
}

func (ob *observableBroker) OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OrderByIntent")
	defer span.End()

	rec, err := ob.broker.OrderByIntent(ctx, intentID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to look up order by intent", err, "intent_id", intentID)
	}
	return rec, err
}
