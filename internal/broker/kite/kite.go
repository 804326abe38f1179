package kite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// MaxTagLength is the longest order tag Kite accepts. Intent ids must fit.
const MaxTagLength = 20

type Params struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	RequestToken string
	Exchange     string
	Product      string
	HTTPTimeout  time.Duration
}

// client is the subset of *kiteconnect.Client the adapter uses.
type client interface {
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
	GetOrders() (kiteconnect.Orders, error)
	GetOrderHistory(orderID string) ([]kiteconnect.Order, error)
	GetPositions() (kiteconnect.Positions, error)
	GetHoldings() (kiteconnect.Holdings, error)
	GetUserMargins() (kiteconnect.AllMargins, error)
}

// Kite adapts Zerodha Kite Connect to the normalized broker contract.
// The order tag carries the intent id.
type Kite struct {
	kc       client
	exchange string
	product  string
	now      func() time.Time
}

var _ interfaces.Broker = (*Kite)(nil)

// New builds a Kite adapter. Without an access token the request token is
// exchanged for a session using the API secret.
func New(p Params) (*Kite, error) {
	kc := kiteconnect.New(p.APIKey)
	if p.HTTPTimeout > 0 {
		kc.SetHTTPClient(&http.Client{Timeout: p.HTTPTimeout})
	}

	token := p.AccessToken
	if token == "" {
		session, err := kc.GenerateSession(p.RequestToken, p.APISecret)
		if err != nil {
			return nil, fmt.Errorf("kite session: %w", err)
		}
		token = session.AccessToken
	}
	kc.SetAccessToken(token)

	return newWithClient(kc, p.Exchange, p.Product), nil
}

func newWithClient(kc client, exchange, product string) *Kite {
	if exchange == "" {
		exchange = "NSE"
	}
	if product == "" {
		product = kiteconnect.ProductCNC
	}
	return &Kite{kc: kc, exchange: exchange, product: product, now: time.Now}
}

// do runs a blocking SDK call but returns as soon as ctx is done. The SDK
// has no context support; an abandoned call finishes in the background and
// its outcome is picked up later through the intent tag.
func do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func (k *Kite) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	margins, err := do(ctx, k.kc.GetUserMargins)
	if err != nil {
		return types.AccountSnapshot{}, classify("", err)
	}
	positions, err := do(ctx, k.kc.GetPositions)
	if err != nil {
		return types.AccountSnapshot{}, classify("", err)
	}

	book := map[string]*types.Position{}
	add := func(symbol string, qty int, avg float64) {
		if qty == 0 {
			return
		}
		q := decimal.NewFromInt(int64(qty))
		price := decimal.NewFromFloat(avg)
		pos := book[symbol]
		if pos == nil {
			book[symbol] = &types.Position{Symbol: symbol, Quantity: q, AvgCost: price}
			return
		}
		// Same rule as a paper fill: only adding moves the cost basis.
		next := pos.Quantity.Add(q)
		switch {
		case next.IsZero():
		case pos.Quantity.Sign() == q.Sign():
			total := pos.AvgCost.Mul(pos.Quantity.Abs()).Add(price.Mul(q.Abs()))
			pos.AvgCost = total.Div(next.Abs())
		case next.Sign() != pos.Quantity.Sign():
			pos.AvgCost = price
		}
		pos.Quantity = next
	}

	if k.product == kiteconnect.ProductCNC {
		// Delivery holdings plus today's delivery trades.
		holdings, err := do(ctx, k.kc.GetHoldings)
		if err != nil {
			return types.AccountSnapshot{}, classify("", err)
		}
		for _, h := range holdings {
			if h.Exchange == k.exchange {
				add(h.Tradingsymbol, h.Quantity+h.T1Quantity, h.AveragePrice)
			}
		}
		for _, p := range positions.Day {
			if p.Exchange == k.exchange && p.Product == k.product {
				add(p.Tradingsymbol, p.Quantity, p.AveragePrice)
			}
		}
	} else {
		for _, p := range positions.Net {
			if p.Exchange == k.exchange && p.Product == k.product {
				add(p.Tradingsymbol, p.Quantity, p.AveragePrice)
			}
		}
	}

	out := make([]types.Position, 0, len(book))
	for _, pos := range book {
		if !pos.Quantity.IsZero() {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	return types.AccountSnapshot{
		Positions:   out,
		BuyingPower: decimal.NewFromFloat(margins.Equity.Net),
		TakenAt:     k.now(),
	}, nil
}

func (k *Kite) OpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	orders, err := do(ctx, k.kc.GetOrders)
	if err != nil {
		return nil, classify("", err)
	}
	open := make([]types.OrderRecord, 0)
	for _, o := range orders {
		if o.Exchange != k.exchange {
			continue
		}
		rec := k.toRecord(o)
		if !rec.Status.Terminal() {
			open = append(open, rec)
		}
	}
	return open, nil
}

func (k *Kite) SubmitOrder(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error) {
	if len(intent.IntentID) > MaxTagLength {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectOther,
			fmt.Sprintf("intent id longer than %d characters", MaxTagLength))
	}
	if !intent.Quantity.IsInteger() || !intent.Quantity.IsPositive() {
		return types.OrderRecord{}, types.Reject(intent.Symbol, types.RejectInvalidQuantity,
			"kite orders need a positive whole quantity, got "+intent.Quantity.String())
	}

	txn := kiteconnect.TransactionTypeBuy
	if intent.Side == types.SideSell {
		txn = kiteconnect.TransactionTypeSell
	}
	params := kiteconnect.OrderParams{
		Exchange:        k.exchange,
		Tradingsymbol:   intent.Symbol,
		Validity:        kiteconnect.ValidityDay,
		Product:         k.product,
		OrderType:       kiteconnect.OrderTypeMarket,
		TransactionType: txn,
		Quantity:        int(intent.Quantity.IntPart()),
		Tag:             intent.IntentID,
	}

	resp, err := do(ctx, func() (kiteconnect.OrderResponse, error) {
		return k.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	})
	if err != nil {
		return types.OrderRecord{}, classify(intent.Symbol, err)
	}

	rec := types.OrderRecord{
		IntentID:      intent.IntentID,
		BrokerOrderID: resp.OrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		Status:        types.OrderPending,
		UpdatedAt:     k.now(),
	}

	// RMS checks run after acceptance; the first history entry tells us if it bounced.
	history, err := do(ctx, func() ([]kiteconnect.Order, error) {
		return k.kc.GetOrderHistory(resp.OrderID)
	})
	if err != nil || len(history) == 0 {
		return rec, nil
	}
	rec = k.toRecord(history[len(history)-1])
	rec.IntentID = intent.IntentID
	if rec.Status == types.OrderRejected {
		return rec, types.Reject(intent.Symbol, rejectionCode(rec.Reason), rec.Reason)
	}
	return rec, nil
}

func (k *Kite) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := do(ctx, func() (kiteconnect.OrderResponse, error) {
		return k.kc.CancelOrder(kiteconnect.VarietyRegular, brokerOrderID, nil)
	})
	if err == nil {
		return nil
	}
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) && (kerr.ErrorType == kiteconnect.OrderError || kerr.ErrorType == kiteconnect.InputError) {
		return fmt.Errorf("order %s: %s: %w", brokerOrderID, kerr.Message, types.ErrNotFound)
	}
	return classify("", err)
}

func (k *Kite) OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error) {
	orders, err := do(ctx, k.kc.GetOrders)
	if err != nil {
		return types.OrderRecord{}, classify("", err)
	}
	for _, o := range orders {
		if tagged(o, intentID) {
			return k.toRecord(o), nil
		}
	}
	return types.OrderRecord{}, fmt.Errorf("intent %s: %w", intentID, types.ErrNotFound)
}

func tagged(o kiteconnect.Order, tag string) bool {
	return tag != "" && o.Tag == tag
}

func (k *Kite) toRecord(o kiteconnect.Order) types.OrderRecord {
	side := types.SideBuy
	if o.TransactionType == kiteconnect.TransactionTypeSell {
		side = types.SideSell
	}
	filled := decimal.NewFromFloat(o.FilledQuantity)
	rec := types.OrderRecord{
		IntentID:       o.Tag,
		BrokerOrderID:  o.OrderID,
		Symbol:         o.TradingSymbol,
		Side:           side,
		Quantity:       decimal.NewFromFloat(o.Quantity),
		FilledQuantity: filled,
		Status:         mapStatus(o.Status, filled),
		Reason:         o.StatusMessage,
		UpdatedAt:      o.OrderTimestamp.Time,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = k.now()
	}
	return rec
}

func mapStatus(status string, filled decimal.Decimal) types.OrderStatus {
	switch strings.ToUpper(status) {
	case "COMPLETE":
		return types.OrderFilled
	case "REJECTED":
		return types.OrderRejected
	case "CANCELLED":
		return types.OrderCancelled
	default:
		if filled.IsPositive() {
			return types.OrderPartiallyFilled
		}
		return types.OrderPending
	}
}

// classify maps SDK errors onto the normalized taxonomy.
func classify(symbol string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.Transient(err)
	}
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		return types.Transient(err)
	}
	switch kerr.ErrorType {
	case kiteconnect.NetworkError, kiteconnect.GeneralError, kiteconnect.DataError:
		return types.Transient(err)
	case kiteconnect.OrderError, kiteconnect.InputError, kiteconnect.UserError,
		kiteconnect.PermissionError, kiteconnect.TokenError, kiteconnect.TwoFAError:
		if symbol == "" {
			return fmt.Errorf("kite %s: %s", kerr.ErrorType, kerr.Message)
		}
		return types.Reject(symbol, rejectionCode(kerr.Message), kerr.Message)
	default:
		return types.Transient(err)
	}
}

func rejectionCode(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "insufficient") || strings.Contains(m, "margin") || strings.Contains(m, "funds"):
		return types.RejectInsufficientFunds
	case strings.Contains(m, "market") && (strings.Contains(m, "closed") || strings.Contains(m, "hours")):
		return types.RejectMarketClosed
	case strings.Contains(m, "instrument") || strings.Contains(m, "tradingsymbol") || strings.Contains(m, "symbol"):
		return types.RejectInvalidSymbol
	case strings.Contains(m, "quantity") || strings.Contains(m, "lot"):
		return types.RejectInvalidQuantity
	default:
		return types.RejectOther
	}
}
