// Package market defines the price and indicator history the rest of the
// agent is built on, plus the external collaborators (feed, calendar) the
// core consumes through narrow interfaces.
//
// Design rules:
//   - Bars and indicator samples are immutable and append-only.
//   - No strategy or learning code talks to the feed directly — only to Store.
package market

import (
	"context"
	"time"
)

// IndicatorName identifies one of the derived indicator series.
type IndicatorName string

const (
	IndicatorRSI   IndicatorName = "RSI"
	IndicatorSMA50 IndicatorName = "SMA_50"
	IndicatorVWAP  IndicatorName = "VWAP"
)

// Bar is an immutable OHLCV observation for a symbol at a point in time.
// Uniqueness is on (Symbol, Timestamp); bars are never updated once stored.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// IndicatorSample is an immutable derived indicator value.
// Uniqueness is on (Symbol, Timestamp, Name).
type IndicatorSample struct {
	Symbol    string
	Timestamp time.Time
	Name      IndicatorName
	Value     float64
}

// Snapshot bundles the latest bar and indicator readings for a symbol, the
// minimum the state discretizer needs to build a Tuple.
type Snapshot struct {
	Symbol       string
	Latest       Bar
	Previous     Bar // zero value if no prior bar exists
	HasPrevious  bool
	RSI          float64
	RSIOk        bool
	SMA50        float64
	SMA50Ok      bool
	VWAP         float64
	VWAPOk       bool
}

// Store persists and retrieves bar and indicator history. Implementations
// must make SaveBars/SaveIndicators idempotent on the uniqueness keys above
// so a retried ingest after a StorageError never duplicates rows.
type Store interface {
	// SaveBars appends new bars, skipping any whose (symbol, timestamp) is
	// already present.
	SaveBars(ctx context.Context, bars []Bar) error

	// GetBars returns bars for symbol ordered by timestamp ascending, within
	// [from, to].
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)

	// GetLatestBarTime returns the timestamp of the most recent stored bar
	// for symbol, or the zero time if none exists.
	GetLatestBarTime(ctx context.Context, symbol string) (time.Time, error)

	// SaveIndicators appends new indicator samples, skipping any whose
	// (symbol, timestamp, name) is already present.
	SaveIndicators(ctx context.Context, samples []IndicatorSample) error

	// LatestIndicator returns the most recent value for (symbol, name) at or
	// before asOf, and whether one exists.
	LatestIndicator(ctx context.Context, symbol string, name IndicatorName, asOf time.Time) (float64, bool, error)
}

// Feed fetches OHLCV bars from the external market-data provider. This is the
// narrow interface the core consumes; the concrete HTTP implementation lives
// in feed.go and is deliberately the only place that speaks the provider's
// wire format.
type Feed interface {
	// FetchBars retrieves bars for symbol within [from, to], ordered by
	// timestamp ascending.
	FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)

	// LatestQuote retrieves the most recent bar available for symbol.
	LatestQuote(ctx context.Context, symbol string) (Bar, error)
}
