package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further broker updates are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Position is a holding at the broker. Quantity is signed (negative = short).
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// OrderIntent is a locally computed order not yet confirmed by the broker.
// IntentID doubles as the idempotency token sent with the order.
type OrderIntent struct {
	IntentID  string          `json:"intent_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

type OrderRecord struct {
	IntentID       string          `json:"intent_id"`
	BrokerOrderID  string          `json:"broker_order_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         OrderStatus     `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining is the unfilled quantity, never negative.
func (r OrderRecord) Remaining() decimal.Decimal {
	rem := r.Quantity.Sub(r.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// SignedRemaining is Remaining with the side's sign applied.
func (r OrderRecord) SignedRemaining() decimal.Decimal {
	return r.Remaining().Mul(r.Side.Sign())
}

type AccountSnapshot struct {
	Positions   []Position      `json:"positions"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	TakenAt     time.Time       `json:"taken_at"`
}

// Snapshot is what a signal evaluator sees on each tick.
type Snapshot struct {
	Account    AccountSnapshot `json:"account"`
	OpenOrders []OrderRecord   `json:"open_orders"`
}

// TargetAllocation maps symbol to desired signed quantity.
type TargetAllocation map[string]decimal.Decimal

// TickState is the durable record owned by the state store.
type TickState struct {
	Seq        uint64                 `json:"seq"`
	LastTickAt time.Time              `json:"last_tick_at"`
	Allocation TargetAllocation       `json:"allocation"`
	Positions  []Position             `json:"positions"`
	InFlight   map[string]OrderRecord `json:"in_flight"`
	History    []OrderRecord          `json:"history"`
}

// NewTickState returns the initial state used on first run.
func NewTickState() TickState {
	return TickState{
		Allocation: TargetAllocation{},
		Positions:  []Position{},
		InFlight:   map[string]OrderRecord{},
		History:    []OrderRecord{},
	}
}

// Normalize replaces nil collections so that loaded and fresh states compare equal.
func (s TickState) Normalize() TickState {
	if s.Allocation == nil {
		s.Allocation = TargetAllocation{}
	}
	if s.Positions == nil {
		s.Positions = []Position{}
	}
	if s.InFlight == nil {
		s.InFlight = map[string]OrderRecord{}
	}
	if s.History == nil {
		s.History = []OrderRecord{}
	}
	return s
}

// Plan is the reconciler output. Cancels run first, then Intents in order.
type Plan struct {
	Cancels []OrderRecord `json:"cancels"`
	Intents []OrderIntent `json:"intents"`
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Cancels) == 0 && len(p.Intents) == 0
}

// Rejection records an intent the broker refused.
type Rejection struct {
	Intent OrderIntent `json:"intent"`
	Code   string      `json:"code"`
	Reason string      `json:"reason"`
}

// TickReport summarizes a finished tick.
type TickReport struct {
	Seq       uint64        `json:"seq"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Cancelled []OrderRecord `json:"cancelled"`
	Submitted []OrderRecord `json:"submitted"`
	Rejected  []Rejection   `json:"rejected"`
}
