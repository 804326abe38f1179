package interfaces

import "scheduled-trader/internal/types"

// Journal is the append-only audit trail of order events.
type Journal interface {
	Record(e types.JournalEntry) error
}
