package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketedge/qtrader/internal/qlearning"
)

// Load returns the persisted Q-table for symbol, or a fresh table seeded
// with hp if none has been saved yet.
func (s *Store) Load(ctx context.Context, symbol string, hp qlearning.Hyperparams) (*qlearning.Table, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state_json FROM q_tables WHERE symbol = $1`, symbol).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return qlearning.NewTable(hp), nil
		}
		return nil, fmt.Errorf("storage: load q-table %s: %w", symbol, err)
	}

	var state qlearning.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("storage: load q-table %s: decode: %w", symbol, err)
	}
	return qlearning.Restore(hp, state), nil
}

// Save persists table's current state, replacing whatever was previously
// stored for symbol.
func (s *Store) Save(ctx context.Context, symbol string, table *qlearning.Table) error {
	raw, err := json.Marshal(table.Snapshot())
	if err != nil {
		return fmt.Errorf("storage: save q-table %s: encode: %w", symbol, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO q_tables (symbol, state_json, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (symbol) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = now()`,
		symbol, raw)
	if err != nil {
		return fmt.Errorf("storage: save q-table %s: %w", symbol, err)
	}
	return nil
}
