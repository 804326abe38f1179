package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal events.
const (
	EventSubmitted = "submitted"
	EventRejected  = "rejected"
	EventCancelled = "cancelled"
	EventResolved  = "resolved"
)

// JournalEntry is one audit line for an order event.
type JournalEntry struct {
	Time          time.Time
	Seq           uint64
	Event         string
	IntentID      string
	BrokerOrderID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	Status        OrderStatus
	Reason        string
}
