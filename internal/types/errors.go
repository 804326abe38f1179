package types

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerUnavailable is returned once retries of a transient broker failure are exhausted.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrOrderRejected is a permanent, per-intent broker refusal. Never retried.
	ErrOrderRejected = errors.New("order rejected")
	// ErrStoreUnavailable is returned when the state store cannot load or commit.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	// ErrTransient marks a venue failure that is safe to retry (timeout, 5xx, 429, network).
	ErrTransient  = errors.New("transient broker failure")
	ErrEvaluation = errors.New("signal evaluation failed")
)

// Rejection codes reported by venue adapters.
const (
	RejectInvalidSymbol     = "INVALID_SYMBOL"
	RejectInsufficientFunds = "INSUFFICIENT_BUYING_POWER"
	RejectMarketClosed      = "MARKET_CLOSED"
	RejectInvalidQuantity   = "INVALID_QUANTITY"
	RejectOther             = "REJECTED"
)

// RejectionError carries the venue's reason for refusing an order.
type RejectionError struct {
	Symbol  string
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s %s: %s", e.Symbol, e.Code, e.Message)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrOrderRejected
}

// Reject builds a RejectionError.
func Reject(symbol, code, message string) error {
	return &RejectionError{Symbol: symbol, Code: code, Message: message}
}

// Transient wraps err so that the gateway retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
