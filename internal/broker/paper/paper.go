// Package paper is an in-memory venue used for DRY_RUN mode. Market orders
// fill immediately at the configured mark price; the intent id is honoured as
// an idempotency token exactly like a live venue would.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

type Params struct {
	BuyingPower decimal.Decimal
	// Prices are mark prices per symbol. When non-empty, symbols outside it are rejected.
	Prices map[string]decimal.Decimal
	// Positions seeds the account.
	Positions []types.Position
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Paper struct {
	mu          sync.Mutex
	p           Params
	buyingPower decimal.Decimal
	positions   map[string]*types.Position
	orders      map[string]*types.OrderRecord // broker order id -> order
	byIntent    map[string]string             // intent id -> broker order id
	seq         int64
	closed      bool
}

var _ interfaces.Broker = (*Paper)(nil)

func New(p Params) *Paper {
	if p.Now == nil {
		p.Now = time.Now
	}
	pp := &Paper{
		p:           p,
		buyingPower: p.BuyingPower,
		positions:   make(map[string]*types.Position),
		orders:      make(map[string]*types.OrderRecord),
		byIntent:    make(map[string]string),
	}
	for _, pos := range p.Positions {
		pos := pos
		pp.positions[pos.Symbol] = &pos
	}
	return pp
}

// SetMarketClosed makes every new submission fail with a market-closed rejection.
func (pp *Paper) SetMarketClosed(closed bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.closed = closed
}

func (pp *Paper) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.AccountSnapshot{}, types.Transient(err)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	positions := make([]types.Position, 0, len(pp.positions))
	for _, pos := range pp.positions {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return types.AccountSnapshot{
		Positions:   positions,
		BuyingPower: pp.buyingPower,
		TakenAt:     pp.p.Now(),
	}, nil
}

func (pp *Paper) OpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Transient(err)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	open := make([]types.OrderRecord, 0)
	for _, o := range pp.orders {
		if !o.Status.Terminal() {
			open = append(open, *o)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].BrokerOrderID < open[j].BrokerOrderID })
	return open, nil
}

func (pp *Paper) SubmitOrder(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderRecord{}, types.Transient(err)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if id, ok := pp.byIntent[intent.IntentID]; ok {
		return *pp.orders[id], nil
	}

	if pp.closed {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectMarketClosed, "market is closed")
	}
	if !intent.Quantity.IsPositive() {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectInvalidQuantity, "quantity must be positive")
	}
	price, known := pp.p.Prices[intent.Symbol]
	if len(pp.p.Prices) > 0 && !known {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectInvalidSymbol, "unknown symbol")
	}

	cost := price.Mul(intent.Quantity)
	if intent.Side == types.SideBuy && cost.GreaterThan(pp.buyingPower) {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectInsufficientFunds,
			fmt.Sprintf("need %s, have %s", cost.StringFixed(2), pp.buyingPower.StringFixed(2)))
	}

	pp.seq++
	rec := &types.OrderRecord{
		IntentID:       intent.IntentID,
		BrokerOrderID:  fmt.Sprintf("SIM-%d", pp.seq),
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		FilledQuantity: intent.Quantity,
		Status:         types.OrderFilled,
		UpdatedAt:      pp.p.Now(),
	}
	pp.orders[rec.BrokerOrderID] = rec
	pp.byIntent[intent.IntentID] = rec.BrokerOrderID
	pp.fill(intent.Symbol, intent.Quantity.Mul(intent.Side.Sign()), price)

	return *rec, nil
}

// fill applies a signed quantity to the position book and buying power.
func (pp *Paper) fill(symbol string, signedQty, price decimal.Decimal) {
	pp.buyingPower = pp.buyingPower.Sub(signedQty.Mul(price))

	pos := pp.positions[symbol]
	if pos == nil {
		pp.positions[symbol] = &types.Position{Symbol: symbol, Quantity: signedQty, AvgCost: price}
		return
	}

	newQty := pos.Quantity.Add(signedQty)
	switch {
	case newQty.IsZero():
		delete(pp.positions, symbol)
		return
	case pos.Quantity.Sign() == signedQty.Sign():
		// Adding to the position moves the average cost.
		total := pos.AvgCost.Mul(pos.Quantity.Abs()).Add(price.Mul(signedQty.Abs()))
		pos.AvgCost = total.Div(newQty.Abs())
	case newQty.Sign() != pos.Quantity.Sign():
		// Crossed through flat: the remainder opens at the fill price.
		pos.AvgCost = price
	}
	pos.Quantity = newQty
}

func (pp *Paper) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return types.Transient(err)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	o, ok := pp.orders[brokerOrderID]
	if !ok || o.Status.Terminal() {
		return fmt.Errorf("order %s: %w", brokerOrderID, types.ErrNotFound)
	}
	o.Status = types.OrderCancelled
	o.UpdatedAt = pp.p.Now()
	return nil
}

func (pp *Paper) OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderRecord{}, types.Transient(err)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	id, ok := pp.byIntent[intentID]
	if !ok {
		return types.OrderRecord{}, fmt.Errorf("intent %s: %w", intentID, types.ErrNotFound)
	}
	return *pp.orders[id], nil
}

// OrderCount returns how many distinct orders were accepted.
func (pp *Paper) OrderCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.orders)
}
