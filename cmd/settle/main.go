// Package main runs end-of-session closure: force-sell every symbol with
// an open position at its last known close and apply the terminal TD
// update, so no bootstrap term leaks across the day boundary.
//
// Registered as scheduler.JobTypeNightly's single job, matching the
// scheduler package's own doc comment ("Nightly jobs: run end-of-session
// settlement, persist Q-tables, roll the decision log forward").
//
// Exit codes: 0 success, 1 I/O failure, 2 configuration error.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/market"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/scheduler"
	"github.com/marketedge/qtrader/internal/settlement"
	"github.com/marketedge/qtrader/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	exitSuccess = 0
	exitIOError = 1
	exitConfig  = 2
)

func main() {
	force := flag.Bool("force", false, "run before the trading session has closed")
	flag.Parse()

	logger := log.New(os.Stdout, "[settle] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}

	cal := market.NewCalendarFromHolidays(nil)
	if !*force && !cal.IsSessionClose(time.Now()) {
		logger.Println("trading session has not closed yet, skipping settlement (use --force to override)")
		os.Exit(exitSuccess)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to connect to storage: %v", err)
		os.Exit(exitIOError)
	}
	defer store.Close()

	runner := settlement.New(settlement.Runner{
		Bars:      store,
		Prices:    store,
		Ledger:    store.Ledger(decimal.NewFromFloat(cfg.StartingCash)),
		QTables:   store,
		Decisions: store,

		Hyperparams: qlearning.Hyperparams{
			LearningRate:     cfg.Hyperparams.LearningRate,
			DiscountFactor:   cfg.Hyperparams.DiscountFactor,
			ExplorationRate:  cfg.Hyperparams.ExplorationRate,
			ExplorationDecay: cfg.Hyperparams.ExplorationDecay,
			MinExploration:   cfg.Hyperparams.MinExploration,
		},
		Indicators:   cfg.Indicators,
		StartingCash: cfg.StartingCash,
		Logger:       logger,
	})

	sched := scheduler.New(cal, logger)
	sched.RegisterJob(scheduler.Job{
		Name: "settlement",
		Type: scheduler.JobTypeNightly,
		RunFunc: func(ctx context.Context) error {
			return runner.Run(ctx, cfg.Symbols)
		},
	})

	if err := sched.RunNightlyJobs(ctx); err != nil {
		logger.Printf("settlement failed: %v", err)
		os.Exit(exitIOError)
	}
	os.Exit(exitSuccess)
}
