// Package main replays stored bar history through tradingloop.Engine against
// a throwaway in-memory ledger and Q-table store, then prints the resulting
// analytics.PerformanceReport. Nothing it does touches the live ledger,
// Q-tables, or decision log in storage — a backtest run affects no state
// cmd/trade or cmd/settle will ever see.
//
// Modeled on cmd/daily-stats' report-and-exit shape, generalized from a
// single day's realized trades to a full multi-day replay, and on
// cmd/engine's former runBacktest helper. Exit codes: 0 success, 1 I/O
// failure, 2 configuration error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/marketedge/qtrader/internal/analytics"
	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/decisionlog"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/market"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/reward"
	"github.com/marketedge/qtrader/internal/riskguard"
	"github.com/marketedge/qtrader/internal/storage"
	"github.com/marketedge/qtrader/internal/tradingloop"
	"github.com/shopspring/decimal"
)

const (
	exitSuccess = 0
	exitIOError = 1
	exitConfig  = 2
)

// historyWindow mirrors tradingloop's own indicator lookback so a replayed
// tick sees the same bar window a live tick would have seen on that day.
const historyWindow = 180 * 24 * time.Hour

func main() {
	symbolFlag := flag.String("symbol", "", "symbol to backtest (defaults to every configured symbol)")
	days := flag.Int("days", 365, "how many calendar days of stored bar history to replay")
	flag.Parse()

	logger := log.New(os.Stdout, "[backtest] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}

	symbols := cfg.Symbols
	if *symbolFlag != "" {
		symbols = []string{*symbolFlag}
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to connect to storage: %v", err)
		os.Exit(exitIOError)
	}
	defer store.Close()

	hp := qlearning.Hyperparams{
		LearningRate:     cfg.Hyperparams.LearningRate,
		DiscountFactor:   cfg.Hyperparams.DiscountFactor,
		ExplorationRate:  cfg.Hyperparams.ExplorationRate,
		ExplorationDecay: cfg.Hyperparams.ExplorationDecay,
		MinExploration:   cfg.Hyperparams.MinExploration,
	}

	failed := false
	for _, symbol := range symbols {
		report, trades, err := runBacktest(ctx, store, symbol, *days, hp, cfg, logger)
		if err != nil {
			logger.Printf("backtest failed for %s: %v", symbol, err)
			failed = true
			continue
		}
		fmt.Printf("\n%s — %d bars replayed, %d trades closed\n", symbol, trades, report.TotalTrades)
		fmt.Print(analytics.FormatReport(report))
	}

	if failed {
		os.Exit(exitIOError)
	}
	os.Exit(exitSuccess)
}

// runBacktest replays symbol's stored bars oldest-to-newest through a fresh
// tradingloop.Engine wired to in-memory everything, returning the resulting
// performance report and the number of bars replayed.
func runBacktest(ctx context.Context, store *storage.Store, symbol string, days int, hp qlearning.Hyperparams, cfg *config.Config, logger *log.Logger) (*analytics.PerformanceReport, int, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	bars, err := store.GetBars(ctx, symbol, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("read bar history: %w", err)
	}
	if len(bars) == 0 {
		return analytics.Analyze(nil, cfg.StartingCash), 0, nil
	}

	replaySource := &replayBarSource{store: store}
	memLedger := ledger.NewMemStore(decimal.NewFromFloat(cfg.StartingCash))
	memQTables := newMemQTableStore()
	memDecisions := decisionlog.NewMemStore()
	breaker := riskguard.New(cfg.RiskGuard, logger)

	engine := tradingloop.New(tradingloop.Engine{
		Bars:      replaySource,
		Ledger:    memLedger,
		QTables:   memQTables,
		Decisions: memDecisions,
		Breaker:   breaker,

		Hyperparams:     hp,
		Reward:          reward.Config{HoldPenalty: cfg.Reward.HoldPenalty, BuyPenaltyBase: cfg.Reward.BuyPenaltyBase, ExposureSoftCap: cfg.Reward.ExposureSoftCap},
		Indicators:      cfg.Indicators,
		MaxPositionSize: cfg.MaxPositionSize,
		StartingCash:    cfg.StartingCash,
		Logger:          logger,
	})

	for _, bar := range bars {
		replaySource.asOf = bar.Timestamp
		if err := engine.RunTick(ctx, symbol); err != nil {
			return nil, len(bars), fmt.Errorf("replay tick at %s: %w", bar.Timestamp.Format(time.RFC3339), err)
		}
	}

	closed, err := memLedger.Trades(ctx, symbol)
	if err != nil {
		return nil, len(bars), fmt.Errorf("read replayed trades: %w", err)
	}
	return analytics.Analyze(closed, cfg.StartingCash), len(bars), nil
}

// replayBarSource anchors every Bars call to asOf instead of the caller's
// requested window, so each replayed tick only ever sees bars up to the
// simulated day — never a look-ahead into the symbol's future.
type replayBarSource struct {
	store *storage.Store
	asOf  time.Time
}

func (r *replayBarSource) Bars(ctx context.Context, symbol string, _, _ time.Time) ([]market.Bar, error) {
	return r.store.GetBars(ctx, symbol, r.asOf.Add(-historyWindow), r.asOf)
}

// memQTableStore is an in-process, run-scoped Q-table store: every backtest
// starts every symbol from a fresh table, consistent with "throwaway" — it
// never reads or writes storage's persisted q_tables rows.
type memQTableStore struct {
	tables map[string]*qlearning.Table
}

func newMemQTableStore() *memQTableStore {
	return &memQTableStore{tables: make(map[string]*qlearning.Table)}
}

func (m *memQTableStore) Load(ctx context.Context, symbol string, hp qlearning.Hyperparams) (*qlearning.Table, error) {
	if t, ok := m.tables[symbol]; ok {
		return t, nil
	}
	t := qlearning.NewTable(hp)
	m.tables[symbol] = t
	return t, nil
}

func (m *memQTableStore) Save(ctx context.Context, symbol string, table *qlearning.Table) error {
	m.tables[symbol] = table
	return nil
}
