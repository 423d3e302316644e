// Package storage is the Postgres-backed implementation of every storage
// capability the agent depends on: price/indicator history (market.Store),
// the trade ledger (ledger.Ledger), Q-table persistence
// (tradingloop.QTableStore), and the decision log (decisionlog.Store) —
// all against one pool, using github.com/jackc/pgx/v5 (the teacher's own
// driver choice).
//
// Design rules:
//   - SaveBars/SaveIndicators are idempotent on their natural uniqueness
//     keys via ON CONFLICT DO NOTHING, so a retried ingest never duplicates
//     rows. Decision-log appends are plain inserts with a generated id and
//     are not deduplicated.
//   - Ledger Buy/Sell run inside a single pgx.Tx: lot selection, lot
//     update, and the new row are one atomic unit, matching
//     ledger.MemStore's mutex-guarded in-memory equivalent.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed implementation of every persistence
// capability the agent needs, built on one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at connString and verifies the connection with
// a ping. Callers own the returned Store's lifetime and must call Close.
func Open(ctx context.Context, connString string) (*Store, error) {
	if connString == "" {
		return nil, fmt.Errorf("storage: connection string is required")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity, used by the CLI entrypoints' health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Schema is the full DDL for a fresh database, applied by Store.Migrate
// (run from scripts/run_migration.go). Embedding it here
// (rather than a separate .sql file loaded at runtime) keeps the schema
// and the Go code that depends on its column names in the same place.
const Schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume BIGINT NOT NULL,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS indicator_samples (
	symbol TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	name TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, ts, name)
);

CREATE TABLE IF NOT EXISTS trades (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	status TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	exit_price NUMERIC,
	exit_time TIMESTAMPTZ,
	realized_pnl NUMERIC,
	decision_rationale TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS trades_symbol_status_idx ON trades (symbol, status);
CREATE INDEX IF NOT EXISTS trades_symbol_action_idx ON trades (symbol, action, status);

CREATE TABLE IF NOT EXISTS q_tables (
	symbol TEXT PRIMARY KEY,
	state_json JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decision_events (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	state_tuple_json JSONB NOT NULL,
	fallback BOOLEAN NOT NULL,
	action TEXT NOT NULL,
	executed BOOLEAN NOT NULL,
	exploring BOOLEAN NOT NULL,
	refused BOOLEAN NOT NULL,
	refusal_reason TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	action_values_json JSONB,
	reward DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_events_symbol_id_idx ON decision_events (symbol, id DESC);

CREATE OR REPLACE FUNCTION notify_decision_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('decision_events', json_build_object(
		'id', NEW.id,
		'symbol', NEW.symbol,
		'action', NEW.action,
		'executed', NEW.executed,
		'reward', NEW.reward
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS decision_events_notify ON decision_events;
CREATE TRIGGER decision_events_notify
	AFTER INSERT ON decision_events
	FOR EACH ROW EXECUTE FUNCTION notify_decision_event();
`

// Migrate applies Schema. Safe to run repeatedly: every statement is
// idempotent (IF NOT EXISTS / CREATE OR REPLACE / DROP ... IF EXISTS).
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Exec runs arbitrary SQL against the pool, for ad hoc migrations beyond
// Schema (e.g. scripts/run_migration.go's optional -file flag).
func (s *Store) Exec(ctx context.Context, sql string) error {
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("storage: exec: %w", err)
	}
	return nil
}
