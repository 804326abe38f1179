// Package state persists the TickState between ticks and across restarts.
// Every backend commits atomically: a load after a crash sees either the
// previous committed state or the new one, never a mix.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}

func encode(s types.TickState) ([]byte, error) {
	return json.MarshalIndent(s.Normalize(), "", "  ")
}

func decode(b []byte) (types.TickState, error) {
	var s types.TickState
	if err := json.Unmarshal(b, &s); err != nil {
		return types.TickState{}, err
	}
	return s.Normalize(), nil
}

// Memory keeps the state in process. Commits are deep copies so callers
// cannot mutate what was committed.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	commits int
	// FailCommit, when set, is returned by the next Commit instead of storing.
	FailCommit error
}

var _ interfaces.StateStore = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (types.TickState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return types.NewTickState(), nil
	}
	return decode(m.data)
}

func (m *Memory) Commit(ctx context.Context, s types.TickState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailCommit; err != nil {
		m.FailCommit = nil
		return unavailable("commit", err)
	}
	b, err := encode(s)
	if err != nil {
		return unavailable("commit", err)
	}
	m.data = b
	m.commits++
	return nil
}

// Commits counts successful commits.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *Memory) Close() error { return nil }
