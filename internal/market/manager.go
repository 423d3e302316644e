package market

import (
	"context"
	"fmt"
	"time"
)

// Manager coordinates fetching from Feed and caching into Store. It ensures
// the rest of the system always reads bars from the local store, never
// directly from the live feed.
type Manager struct {
	feed  Feed
	store Store
}

// NewManager creates a Manager.
func NewManager(feed Feed, store Store) *Manager {
	return &Manager{feed: feed, store: store}
}

// Sync ensures the local store has bars for symbol up to upToDate, fetching
// only the missing tail from the feed. Repeated calls after a StorageError
// are safe: SaveBars is idempotent on (symbol, timestamp).
func (m *Manager) Sync(ctx context.Context, symbol string, upToDate time.Time) error {
	latest, err := m.store.GetLatestBarTime(ctx, symbol)
	if err != nil {
		return fmt.Errorf("market manager: latest bar time for %s: %w", symbol, err)
	}
	if latest.IsZero() {
		latest = upToDate.AddDate(-1, 0, 0)
	}
	if !latest.Before(upToDate) {
		return nil
	}

	fetchFrom := latest.AddDate(0, 0, 1)
	bars, err := m.feed.FetchBars(ctx, symbol, fetchFrom, upToDate)
	if err != nil {
		return fmt.Errorf("market manager: fetch %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil
	}
	if err := m.store.SaveBars(ctx, bars); err != nil {
		return fmt.Errorf("market manager: save %s: %w", symbol, err)
	}
	return nil
}

// Bars retrieves bar history from the local store. This is the only method
// the indicator calculator and state discretizer should use.
func (m *Manager) Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	return m.store.GetBars(ctx, symbol, from, to)
}
