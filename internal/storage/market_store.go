package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/marketedge/qtrader/internal/market"
)

// SaveBars appends new bars, skipping any whose (symbol, timestamp) is
// already present.
func (s *Store) SaveBars(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: save bars: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range bars {
		_, err := tx.Exec(ctx, `
			INSERT INTO bars (symbol, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, ts) DO NOTHING`,
			b.Symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("storage: save bars: insert %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: save bars: commit: %w", err)
	}
	return nil
}

// GetBars returns bars for symbol ordered by timestamp ascending, within
// [from, to].
func (s *Store) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: get bars: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("storage: get bars: scan: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get bars: rows: %w", err)
	}
	return bars, nil
}

// Bars is an alias for GetBars under the name tradingloop.BarSource and
// settlement.Runner expect, so a *Store satisfies both market.Store and
// the trading loop's narrower read-only capability interface without a
// separate adapter type.
func (s *Store) Bars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	return s.GetBars(ctx, symbol, from, to)
}

// LastClose returns the close of the most recently stored bar for symbol,
// satisfying settlement.LastCloseSource. A symbol with no stored bar yields
// ok=false rather than an error.
func (s *Store) LastClose(ctx context.Context, symbol string) (float64, bool, error) {
	var close float64
	err := s.pool.QueryRow(ctx, `
		SELECT close FROM bars WHERE symbol = $1 ORDER BY ts DESC LIMIT 1`, symbol).Scan(&close)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("storage: last close: %w", err)
	}
	return close, true, nil
}

// GetLatestBarTime returns the timestamp of the most recent stored bar for
// symbol, or the zero time if none exists.
func (s *Store) GetLatestBarTime(ctx context.Context, symbol string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT ts FROM bars WHERE symbol = $1 ORDER BY ts DESC LIMIT 1`, symbol).Scan(&ts)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("storage: get latest bar time: %w", err)
	}
	return ts, nil
}

// SaveIndicators appends new indicator samples, skipping any whose
// (symbol, timestamp, name) is already present.
func (s *Store) SaveIndicators(ctx context.Context, samples []market.IndicatorSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: save indicators: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sample := range samples {
		_, err := tx.Exec(ctx, `
			INSERT INTO indicator_samples (symbol, ts, name, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (symbol, ts, name) DO NOTHING`,
			sample.Symbol, sample.Timestamp, string(sample.Name), sample.Value)
		if err != nil {
			return fmt.Errorf("storage: save indicators: insert %s@%s/%s: %w", sample.Symbol, sample.Timestamp, sample.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: save indicators: commit: %w", err)
	}
	return nil
}

// LatestIndicator returns the most recent value for (symbol, name) at or
// before asOf, and whether one exists.
func (s *Store) LatestIndicator(ctx context.Context, symbol string, name market.IndicatorName, asOf time.Time) (float64, bool, error) {
	var value float64
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM indicator_samples
		WHERE symbol = $1 AND name = $2 AND ts <= $3
		ORDER BY ts DESC LIMIT 1`, symbol, string(name), asOf).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("storage: latest indicator: %w", err)
	}
	return value, true, nil
}
