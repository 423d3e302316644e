package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketedge/qtrader/internal/decisionlog"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/qlearning"
)

// Append inserts a decision event. The decision_events_notify trigger
// (see Schema) broadcasts every insert over Postgres NOTIFY so the
// dashboard's websocket layer can push it live without polling.
func (s *Store) Append(ctx context.Context, event decisionlog.Event) (int64, error) {
	tupleJSON, err := json.Marshal(event.StateTuple)
	if err != nil {
		return 0, fmt.Errorf("storage: append decision event: encode state tuple: %w", err)
	}
	var valuesJSON []byte
	if event.ActionValues != nil {
		valuesJSON, err = json.Marshal(event.ActionValues)
		if err != nil {
			return 0, fmt.Errorf("storage: append decision event: encode action values: %w", err)
		}
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO decision_events (symbol, ts, state_tuple_json, fallback, action, executed,
			exploring, refused, refusal_reason, rationale, action_values_json, reward)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		event.Symbol, event.Timestamp, tupleJSON, event.Fallback, string(event.Action), event.Executed,
		event.Exploring, event.Refused, string(event.RefusalReason), event.Rationale, valuesJSON, event.Reward).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: append decision event: %w", err)
	}
	return id, nil
}

// Recent returns the most recent limit decision events for symbol, newest
// first.
func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]decisionlog.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, ts, state_tuple_json, fallback, action, executed, exploring,
			refused, refusal_reason, rationale, action_values_json, reward
		FROM decision_events
		WHERE symbol = $1
		ORDER BY id DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent decision events: %w", err)
	}
	defer rows.Close()

	var events []decisionlog.Event
	for rows.Next() {
		var e decisionlog.Event
		var action, refusalReason string
		var tupleJSON, valuesJSON []byte
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Timestamp, &tupleJSON, &e.Fallback, &action, &e.Executed,
			&e.Exploring, &e.Refused, &refusalReason, &e.Rationale, &valuesJSON, &e.Reward); err != nil {
			return nil, fmt.Errorf("storage: recent decision events: scan: %w", err)
		}
		e.Action = qlearning.Action(action)
		e.RefusalReason = ledger.RefusalReason(refusalReason)
		if err := json.Unmarshal(tupleJSON, &e.StateTuple); err != nil {
			return nil, fmt.Errorf("storage: recent decision events: decode state tuple: %w", err)
		}
		if len(valuesJSON) > 0 {
			if err := json.Unmarshal(valuesJSON, &e.ActionValues); err != nil {
				return nil, fmt.Errorf("storage: recent decision events: decode action values: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: recent decision events: rows: %w", err)
	}
	return events, nil
}
