// Package main runs one trading-loop tick across the configured symbol
// universe: compose state, select an action, execute it against the
// ledger, learn, persist.
//
// Modeled on cmd/engine's registerMarketJobs control flow (snapshot ->
// decide -> execute -> log), generalized from one teacher-specific
// strategy call to tradingloop.Engine.RunTick per symbol, and driven
// through scheduler.Scheduler's JobTypeTick registration so market-hours
// gating (or --force to bypass it) is the scheduler's job, not this
// command's. Exit codes: 0 success, 1 I/O failure, 2 configuration error.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/market"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/reward"
	"github.com/marketedge/qtrader/internal/riskguard"
	"github.com/marketedge/qtrader/internal/scheduler"
	"github.com/marketedge/qtrader/internal/storage"
	"github.com/marketedge/qtrader/internal/tradingloop"
	"github.com/shopspring/decimal"
)

const (
	exitSuccess = 0
	exitIOError = 1
	exitConfig  = 2
)

func main() {
	exploit := flag.Bool("exploit", false, "disable exploration (forces argmax, still learns)")
	force := flag.Bool("force", false, "run outside market hours")
	flag.Parse()

	logger := log.New(os.Stdout, "[trade] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to connect to storage: %v", err)
		os.Exit(exitIOError)
	}
	defer store.Close()

	engine := tradingloop.New(tradingloop.Engine{
		Bars:      store,
		Ledger:    store.Ledger(decimal.NewFromFloat(cfg.StartingCash)),
		QTables:   store,
		Decisions: store,
		Breaker:   riskguard.New(cfg.RiskGuard, logger),

		Hyperparams: qlearning.Hyperparams{
			LearningRate:     cfg.Hyperparams.LearningRate,
			DiscountFactor:   cfg.Hyperparams.DiscountFactor,
			ExplorationRate:  cfg.Hyperparams.ExplorationRate,
			ExplorationDecay: cfg.Hyperparams.ExplorationDecay,
			MinExploration:   cfg.Hyperparams.MinExploration,
		},
		Reward: reward.Config{
			HoldPenalty:     cfg.Reward.HoldPenalty,
			BuyPenaltyBase:  cfg.Reward.BuyPenaltyBase,
			ExposureSoftCap: cfg.Reward.ExposureSoftCap,
		},
		Indicators:      cfg.Indicators,
		MaxPositionSize: cfg.MaxPositionSize,
		StartingCash:    cfg.StartingCash,
		Exploit:         *exploit,
		Logger:          logger,
	})

	cal := market.NewCalendarFromHolidays(nil)
	sched := scheduler.New(cal, logger)

	failed := false
	for _, symbol := range cfg.Symbols {
		symbol := symbol
		sched.RegisterJob(scheduler.Job{
			Name: "tick:" + symbol,
			Type: scheduler.JobTypeTick,
			RunFunc: func(ctx context.Context) error {
				if err := engine.RunTick(ctx, symbol); err != nil {
					logger.Printf("tick failed for %s: %v", symbol, err)
					failed = true
					return err
				}
				return nil
			},
		})
	}

	var runErr error
	if *force {
		runErr = sched.ForceRunTickJobs(ctx)
	} else {
		runErr = sched.RunTickJobs(ctx)
	}
	if runErr != nil {
		logger.Printf("tick run failed: %v", runErr)
		os.Exit(exitIOError)
	}

	if failed {
		os.Exit(exitIOError)
	}
	os.Exit(exitSuccess)
}
