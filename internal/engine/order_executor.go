package engine

import (
	"context"
	"errors"
	"fmt"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/types"
)

// orderExecutor carries out one tick's plan against the broker and
// journals every order event as it happens.
type orderExecutor struct {
	broker  interfaces.Broker
	journal interfaces.Journal
	seq     uint64

	cancelled       []types.OrderRecord
	settled         []types.OrderRecord
	submitted       []types.OrderRecord
	rejected        []types.Rejection
	rejectedRecords []types.OrderRecord
}

func newOrderExecutor(broker interfaces.Broker, journal interfaces.Journal, seq uint64) *orderExecutor {
	return &orderExecutor{
		broker:  broker,
		journal: journal,
		seq:     seq,
	}
}

// cancel withdraws stale orders. An order the broker no longer knows was
// resolved in the meantime; its final state is looked up once and it lands
// in settled, or counts as cancelled when the lookup gives nothing final.
func (oe *orderExecutor) cancel(ctx context.Context, orders []types.OrderRecord) error {
	for _, o := range orders {
		err := oe.broker.CancelOrder(ctx, o.BrokerOrderID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("cancel %s (%s): %w", o.BrokerOrderID, o.Symbol, err)
		}

		if err != nil {
			if final, ok := oe.finalState(ctx, o); ok {
				oe.settled = append(oe.settled, final)
				continue
			}
			o.Status = types.OrderCancelled
			o.Reason = "already resolved at broker"
		} else {
			o.Status = types.OrderCancelled
			o.Reason = "stale against new target"
		}
		oe.cancelled = append(oe.cancelled, o)
		oe.journalRecord(types.EventCancelled, o)
	}
	return nil
}

// finalState asks the broker how an order it no longer holds ended.
func (oe *orderExecutor) finalState(ctx context.Context, o types.OrderRecord) (types.OrderRecord, bool) {
	if o.IntentID == "" {
		return types.OrderRecord{}, false
	}
	rec, err := oe.broker.OrderByIntent(ctx, o.IntentID)
	if err != nil {
		logger.Warn(ctx, "Could not look up resolved order",
			"intent_id", o.IntentID,
			"order_id", o.BrokerOrderID,
			"error", err.Error(),
		)
		return types.OrderRecord{}, false
	}
	if !rec.Status.Terminal() {
		return types.OrderRecord{}, false
	}
	rec.IntentID = o.IntentID
	return rec, true
}

// submit sends intents strictly in order. A rejection is recorded and the
// next intent proceeds; any other failure stops the tick.
func (oe *orderExecutor) submit(ctx context.Context, intents []types.OrderIntent) error {
	for _, in := range intents {
		rec, err := oe.broker.SubmitOrder(ctx, in)
		if err == nil {
			oe.submitted = append(oe.submitted, rec)
			logger.Order(ctx, types.EventSubmitted, in.Symbol, string(in.Side), in.Quantity.String(), in.IntentID,
				"order_id", rec.BrokerOrderID,
				"status", rec.Status,
			)
			oe.journalRecord(types.EventSubmitted, rec)
			continue
		}

		if !errors.Is(err, types.ErrOrderRejected) {
			return err
		}

		rej := types.Rejection{Intent: in, Code: types.RejectOther, Reason: err.Error()}
		var re *types.RejectionError
		if errors.As(err, &re) {
			rej.Code = re.Code
			rej.Reason = re.Message
		}
		oe.rejected = append(oe.rejected, rej)

		rec = types.OrderRecord{
			IntentID:  in.IntentID,
			Symbol:    in.Symbol,
			Side:      in.Side,
			Quantity:  in.Quantity,
			Status:    types.OrderRejected,
			Reason:    rej.Code + ": " + rej.Reason,
			UpdatedAt: in.CreatedAt,
		}
		oe.rejectedRecords = append(oe.rejectedRecords, rec)
		logger.Order(ctx, types.EventRejected, in.Symbol, string(in.Side), in.Quantity.String(), in.IntentID,
			"code", rej.Code,
			"reason", rej.Reason,
		)
		oe.journalRecord(types.EventRejected, rec)
	}
	return nil
}

func (oe *orderExecutor) journalRecord(event string, r types.OrderRecord) {
	if oe.journal == nil {
		return
	}
	err := oe.journal.Record(types.JournalEntry{
		Seq:           oe.seq,
		Event:         event,
		IntentID:      r.IntentID,
		BrokerOrderID: r.BrokerOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Quantity:      r.Quantity,
		Filled:        r.FilledQuantity,
		Status:        r.Status,
		Reason:        r.Reason,
	})
	if err != nil {
		logger.ErrorWithErr(context.Background(), "Failed to write journal entry", err,
			"event", event,
			"intent_id", r.IntentID,
		)
	}
}
