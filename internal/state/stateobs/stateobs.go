package stateobs

import (
	"context"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/trace"
	"scheduled-trader/internal/types"
)

type observableStore struct {
	store interfaces.StateStore
}

var _ interfaces.StateStore = (*observableStore)(nil)

// Wrap wraps a state store with observability middleware
func Wrap(store interfaces.StateStore) interfaces.StateStore {
	return &observableStore{store: store}
}

func (so *observableStore) Load(ctx context.Context) (types.TickState, error) {
	ctx, span := trace.StartSpan(ctx, "state.Load")
	defer span.End()

	st, err := so.store.Load(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to load tick state", err)
		return st, err
	}

	logger.DebugSkip(ctx, 1, "Tick state loaded",
		"seq", st.Seq,
		"in_flight", len(st.InFlight),
		"positions", len(st.Positions),
	)
	return st, nil
}

func (so *observableStore) Commit(ctx context.Context, st types.TickState) error {
	ctx, span := trace.StartSpan(ctx, "state.Commit")
	defer span.End()

	if err := so.store.Commit(ctx, st); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to commit tick state", err, "seq", st.Seq)
		return err
	}

	logger.DebugSkip(ctx, 1, "Tick state committed",
		"seq", st.Seq,
		"in_flight", len(st.InFlight),
		"history", len(st.History),
	)
	return nil
}

func (so *observableStore) Close() error {
	return so.store.Close()
}
