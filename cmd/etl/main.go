// Package main ingests OHLCV bars for the configured symbol universe and
// recomputes their derived indicators.
//
// Modeled on cmd/engine's nightly-job shape: load config, connect storage,
// check the market calendar, do the work, exit with a code a scheduler can
// branch on. Exit codes: 0 success, 1 I/O failure, 2 configuration error.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/indicators"
	"github.com/marketedge/qtrader/internal/market"
	"github.com/marketedge/qtrader/internal/storage"
)

const (
	exitSuccess = 0
	exitIOError = 1
	exitConfig  = 2
)

func main() {
	force := flag.Bool("force", false, "run outside market hours")
	flag.Parse()

	logger := log.New(os.Stdout, "[etl] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}

	cal := market.NewCalendarFromHolidays(nil)
	now := time.Now()
	if !*force && !cal.IsMarketOpen(now) {
		logger.Println("market is closed, skipping ingest (use --force to override)")
		os.Exit(exitSuccess)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to connect to storage: %v", err)
		os.Exit(exitIOError)
	}
	defer store.Close()

	feed, err := market.NewHTTPFeed(market.HTTPFeedConfig{BaseURL: cfg.Feed.BaseURL, APIKey: cfg.Feed.APIKey}, logger)
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}
	manager := market.NewManager(feed, store)

	failed := false
	for _, symbol := range cfg.Symbols {
		if err := manager.Sync(ctx, symbol, now); err != nil {
			logger.Printf("sync failed for %s: %v", symbol, err)
			failed = true
			continue
		}
		if err := recomputeIndicators(ctx, store, symbol, now, cfg.Indicators); err != nil {
			logger.Printf("indicator recompute failed for %s: %v", symbol, err)
			failed = true
			continue
		}
		logger.Printf("%s ingested", symbol)
	}

	if failed {
		os.Exit(exitIOError)
	}
	os.Exit(exitSuccess)
}

// recomputeIndicators pulls a window of bars sufficient for SMA_50/VWAP and
// writes today's RSI/SMA_50/VWAP samples, matching tradingloop.ComposeInputs'
// own lookback window so the agent's live state and the stored indicator
// history never disagree.
func recomputeIndicators(ctx context.Context, store *storage.Store, symbol string, asOf time.Time, cfg config.IndicatorConfig) error {
	from := asOf.AddDate(0, 0, -180)
	bars, err := store.GetBars(ctx, symbol, from, asOf)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	var samples []market.IndicatorSample
	if v, ok := indicators.RSI(bars, cfg.RSIPeriod); ok {
		samples = append(samples, market.IndicatorSample{Symbol: symbol, Timestamp: asOf, Name: market.IndicatorRSI, Value: v})
	}
	if v, ok := indicators.SMA(bars, cfg.SMAPeriod); ok {
		samples = append(samples, market.IndicatorSample{Symbol: symbol, Timestamp: asOf, Name: market.IndicatorSMA50, Value: v})
	}
	if v, ok := indicators.VWAP(bars, cfg.VWAPLookback); ok {
		samples = append(samples, market.IndicatorSample{Symbol: symbol, Timestamp: asOf, Name: market.IndicatorVWAP, Value: v})
	}
	if len(samples) == 0 {
		return nil
	}
	return store.SaveIndicators(ctx, samples)
}
