package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduled-trader/internal/broker"
	"scheduled-trader/internal/reconcile"
	"scheduled-trader/internal/signal"
	"scheduled-trader/internal/state"
	"scheduled-trader/internal/types"
)

// scriptBroker accepts every order as PENDING unless told otherwise and
// records the order of calls.
type scriptBroker struct {
	mu sync.Mutex

	positions []types.Position
	open      []types.OrderRecord
	byIntent  map[string]types.OrderRecord
	reject    map[string]bool
	downOn    string
	fill      bool
	// gone holds broker ids that finished before a cancel reached them.
	gone map[string]bool

	calls  []string
	nextID int
}

func newScriptBroker(positions ...types.Position) *scriptBroker {
	return &scriptBroker{
		positions: positions,
		byIntent:  map[string]types.OrderRecord{},
		reject:    map[string]bool{},
		gone:      map[string]bool{},
	}
}

func (b *scriptBroker) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.AccountSnapshot{Positions: b.positions, BuyingPower: decimal.NewFromInt(1_000_000)}, nil
}

func (b *scriptBroker) OpenOrders(ctx context.Context) ([]types.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.OrderRecord(nil), b.open...), nil
}

func (b *scriptBroker) SubmitOrder(ctx context.Context, in types.OrderIntent) (types.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fmt.Sprintf("submit %s %s", in.Side, in.Symbol))
	if in.Symbol == b.downOn {
		return types.OrderRecord{}, &broker.UnavailableError{Attempts: 3, Err: types.Transient(errors.New("503"))}
	}
	if b.reject[in.Symbol] {
		return types.OrderRecord{}, types.Reject(in.Symbol, types.RejectInsufficientFunds, "margin")
	}
	b.nextID++
	rec := types.OrderRecord{
		IntentID:      in.IntentID,
		BrokerOrderID: fmt.Sprintf("B%d", b.nextID),
		Symbol:        in.Symbol,
		Side:          in.Side,
		Quantity:      in.Quantity,
		Status:        types.OrderPending,
	}
	if b.fill {
		rec.Status = types.OrderFilled
		rec.FilledQuantity = in.Quantity
	}
	b.byIntent[in.IntentID] = rec
	return rec, nil
}

func (b *scriptBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "cancel "+brokerOrderID)
	if b.gone[brokerOrderID] {
		return fmt.Errorf("order %s: %w", brokerOrderID, types.ErrNotFound)
	}
	for i, o := range b.open {
		if o.BrokerOrderID == brokerOrderID {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("order %s: %w", brokerOrderID, types.ErrNotFound)
}

func (b *scriptBroker) OrderByIntent(ctx context.Context, intentID string) (types.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.byIntent[intentID]
	if !ok {
		return types.OrderRecord{}, types.ErrNotFound
	}
	return rec, nil
}

type memJournal struct {
	entries []types.JournalEntry
}

func (j *memJournal) Record(e types.JournalEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) events() []string {
	out := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Event+" "+e.Symbol)
	}
	return out
}

func pos(symbol string, qty int64) types.Position {
	return types.Position{Symbol: symbol, Quantity: decimal.NewFromInt(qty)}
}

func targets(kv ...any) types.TargetAllocation {
	t := types.TargetAllocation{}
	for i := 0; i < len(kv); i += 2 {
		t[kv[i].(string)] = decimal.NewFromInt(int64(kv[i+1].(int)))
	}
	return t
}

func newTestEngine(brk *scriptBroker, target types.TargetAllocation, st *state.Memory, j *memJournal) *Engine {
	n := 0
	clock := time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)
	return newEngine(brk, signal.NewStatic(target), st, j, Options{
		Reconcile: reconcile.Options{
			MinOrderSize: decimal.NewFromInt(1),
			NewID: func() string {
				n++
				return fmt.Sprintf("id-%02d", n)
			},
			Now: func() time.Time { return clock },
		},
		HistoryLimit: 10,
		Now:          func() time.Time { return clock },
	})
}

func TestTickSubmitsPlanAndCommits(t *testing.T) {
	brk := newScriptBroker(pos("AAPL", 3))
	st := state.NewMemory()
	j := &memJournal{}
	eng := newTestEngine(brk, targets("AAPL", 10), st, j)

	report, err := eng.Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Submitted, 1)
	assert.Equal(t, "AAPL", report.Submitted[0].Symbol)
	assert.True(t, decimal.NewFromInt(7).Equal(report.Submitted[0].Quantity))
	assert.Equal(t, uint64(1), report.Seq)

	s, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Seq)
	require.Contains(t, s.InFlight, "id-01")
	assert.Equal(t, types.OrderPending, s.InFlight["id-01"].Status)
	assert.True(t, decimal.NewFromInt(10).Equal(s.Allocation["AAPL"]))
	assert.Equal(t, []string{"submitted AAPL"}, j.events())
}

func TestTickRecordsRejectionsAndContinues(t *testing.T) {
	brk := newScriptBroker()
	brk.reject["CCC"] = true
	st := state.NewMemory()
	eng := newTestEngine(brk, targets("AAA", 1, "BBB", 1, "CCC", 1, "DDD", 1, "EEE", 1), st, &memJournal{})

	report, err := eng.Tick(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Submitted, 4)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "CCC", report.Rejected[0].Intent.Symbol)
	assert.Equal(t, types.RejectInsufficientFunds, report.Rejected[0].Code)
	assert.Equal(t, 1, st.Commits())

	s, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.InFlight, 4)
	require.Len(t, s.History, 1)
	assert.Equal(t, types.OrderRejected, s.History[0].Status)
}

func TestTickSellsBeforeBuys(t *testing.T) {
	brk := newScriptBroker(pos("MSFT", 10), pos("TSLA", 4))
	eng := newTestEngine(brk, targets("AAPL", 5, "NVDA", 2), state.NewMemory(), &memJournal{})

	_, err := eng.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"submit SELL MSFT",
		"submit SELL TSLA",
		"submit BUY AAPL",
		"submit BUY NVDA",
	}, brk.calls)
}

func TestTickCommitFailureKeepsPreviousState(t *testing.T) {
	brk := newScriptBroker()
	brk.fill = true
	st := state.NewMemory()
	eng := newTestEngine(brk, targets("AAPL", 5), st, &memJournal{})

	_, err := eng.Tick(context.Background())
	require.NoError(t, err)
	before, err := st.Load(context.Background())
	require.NoError(t, err)

	st.FailCommit = errors.New("disk full")
	eng.eval = signal.NewStatic(targets("AAPL", 9))
	_, err = eng.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	after, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.Seq, after.Seq)
	assert.True(t, decimal.NewFromInt(5).Equal(after.Allocation["AAPL"]))
	assert.Equal(t, 1, st.Commits())
}

func TestTickBrokerUnavailableAbortsWithoutCommit(t *testing.T) {
	brk := newScriptBroker()
	brk.downOn = "BBB"
	st := state.NewMemory()
	eng := newTestEngine(brk, targets("AAA", 1, "BBB", 1, "CCC", 1), st, &memJournal{})

	_, err := eng.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBrokerUnavailable)
	assert.Equal(t, 0, st.Commits())
	assert.Equal(t, []string{"submit BUY AAA", "submit BUY BBB"}, brk.calls)
}

func TestTickEvaluatorErrorSkipsCommit(t *testing.T) {
	brk := newScriptBroker()
	st := state.NewMemory()
	eng := newTestEngine(brk, nil, st, &memJournal{})
	eng.eval = signal.Func(func(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
		return nil, errors.New("model offline")
	})

	_, err := eng.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEvaluation)
	assert.Equal(t, 0, st.Commits())
	assert.Empty(t, brk.calls)
}

func TestTickCarriesInFlightAndResolvesFinished(t *testing.T) {
	brk := newScriptBroker()
	st := state.NewMemory()
	j := &memJournal{}
	eng := newTestEngine(brk, targets("AAPL", 10), st, j)

	_, err := eng.Tick(context.Background())
	require.NoError(t, err)

	// Order still working at the broker: no duplicate is sent.
	brk.mu.Lock()
	brk.open = []types.OrderRecord{brk.byIntent["id-01"]}
	brk.mu.Unlock()
	report, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Submitted)
	s, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, s.InFlight, "id-01")

	// Broker filled it between ticks.
	brk.mu.Lock()
	filled := brk.byIntent["id-01"]
	filled.Status = types.OrderFilled
	filled.FilledQuantity = filled.Quantity
	brk.byIntent["id-01"] = filled
	brk.open = nil
	brk.positions = []types.Position{pos("AAPL", 10)}
	brk.mu.Unlock()

	_, err = eng.Tick(context.Background())
	require.NoError(t, err)
	s, err = st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.InFlight)
	require.Len(t, s.History, 1)
	assert.Equal(t, types.OrderFilled, s.History[0].Status)
	assert.Equal(t, uint64(3), s.Seq)
	assert.Equal(t, []string{"submitted AAPL", "resolved AAPL"}, j.events())
}

func TestTickCancelsStaleOrders(t *testing.T) {
	brk := newScriptBroker(pos("AAPL", 10))
	brk.open = []types.OrderRecord{{
		IntentID:      "old",
		BrokerOrderID: "B9",
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Quantity:      decimal.NewFromInt(5),
		Status:        types.OrderPending,
	}}
	st := state.NewMemory()
	eng := newTestEngine(brk, targets("AAPL", 10), st, &memJournal{})

	report, err := eng.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Cancelled, 1)
	assert.Equal(t, types.OrderCancelled, report.Cancelled[0].Status)
	assert.Equal(t, []string{"cancel B9"}, brk.calls)

	s, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.InFlight)
	require.Len(t, s.History, 1)
}

func TestTickStaleOrderThatFilledIsRecordedAsFilled(t *testing.T) {
	stale := types.OrderRecord{
		IntentID:      "old",
		BrokerOrderID: "B9",
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Quantity:      decimal.NewFromInt(5),
		Status:        types.OrderPending,
	}
	brk := newScriptBroker(pos("AAPL", 10))
	brk.open = []types.OrderRecord{stale}
	brk.gone["B9"] = true
	filled := stale
	filled.Status = types.OrderFilled
	filled.FilledQuantity = stale.Quantity
	brk.byIntent["old"] = filled

	st := state.NewMemory()
	j := &memJournal{}
	eng := newTestEngine(brk, targets("AAPL", 10), st, j)

	report, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Cancelled)

	s, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.InFlight)
	require.Len(t, s.History, 1)
	assert.Equal(t, types.OrderFilled, s.History[0].Status)
	assert.Equal(t, "old", s.History[0].IntentID)
	assert.Equal(t, []string{"resolved AAPL"}, j.events())
}

func TestTickStaleExternalOrderGoneCountsAsCancelled(t *testing.T) {
	brk := newScriptBroker(pos("AAPL", 10))
	brk.open = []types.OrderRecord{{
		BrokerOrderID: "B7",
		Symbol:        "AAPL",
		Side:          types.SideSell,
		Quantity:      decimal.NewFromInt(2),
		Status:        types.OrderPending,
	}}
	brk.gone["B7"] = true
	st := state.NewMemory()
	eng := newTestEngine(brk, targets("AAPL", 10), st, &memJournal{})

	report, err := eng.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Cancelled, 1)
	assert.Equal(t, types.OrderCancelled, report.Cancelled[0].Status)
	assert.Equal(t, "already resolved at broker", report.Cancelled[0].Reason)
}

func TestBuildNextStateCapsHistory(t *testing.T) {
	prev := types.NewTickState()
	for i := 0; i < 4; i++ {
		prev.History = append(prev.History, types.OrderRecord{IntentID: fmt.Sprintf("h%d", i), Status: types.OrderFilled})
	}
	next, resolved := buildNextState(stateInputs{
		prev:         prev,
		rejected:     []types.OrderRecord{{IntentID: "r1", Status: types.OrderRejected}},
		positions:    []types.Position{pos("B", 1), pos("A", 0), pos("C", -2)},
		historyLimit: 3,
	})
	require.Len(t, resolved, 1)
	require.Len(t, next.History, 3)
	assert.Equal(t, "h2", next.History[0].IntentID)
	assert.Equal(t, "r1", next.History[2].IntentID)
	require.Len(t, next.Positions, 2)
	assert.Equal(t, "B", next.Positions[0].Symbol)
	assert.Equal(t, "C", next.Positions[1].Symbol)
}
