// Package decisionlog records the immutable audit trail of every action the
// agent selects, whether or not it executed (I7: exactly one event per
// selection).
package decisionlog

import (
	"context"
	"time"

	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/state"
)

// Event is one immutable Decision Event (§3).
type Event struct {
	ID          int64
	Symbol      string
	Timestamp   time.Time
	StateTuple  state.Tuple
	Fallback    bool
	Action      qlearning.Action
	Executed    bool
	Exploring   bool
	Refused     bool
	RefusalReason ledger.RefusalReason
	Rationale   string
	ActionValues map[qlearning.Action]float64
	Reward      float64
}

// Store persists Decision Events. Implementations must make Append
// append-only: an event, once written, is never edited or deleted.
type Store interface {
	Append(ctx context.Context, event Event) (int64, error)
	Recent(ctx context.Context, symbol string, limit int) ([]Event, error)
}

// MemStore is an in-memory Store, used by tests and as a reference
// implementation alongside storage's Postgres-backed Store.
type MemStore struct {
	events []Event
	nextID int64
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Append(ctx context.Context, event Event) (int64, error) {
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, event)
	return event.ID, nil
}

func (m *MemStore) Recent(ctx context.Context, symbol string, limit int) ([]Event, error) {
	var matched []Event
	for i := len(m.events) - 1; i >= 0 && len(matched) < limit; i-- {
		if m.events[i].Symbol == symbol {
			matched = append(matched, m.events[i])
		}
	}
	return matched, nil
}
