// Package tradingloop orchestrates one trading-loop tick per symbol: compose
// snapshot, discretize, select an action, execute it against the ledger,
// compute a reward, learn, and persist — the seven-step sequence executed as
// a single logical unit per symbol per tick.
package tradingloop

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/decisionlog"
	"github.com/marketedge/qtrader/internal/indicators"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/market"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/reward"
	"github.com/marketedge/qtrader/internal/riskguard"
	"github.com/marketedge/qtrader/internal/state"
	"github.com/shopspring/decimal"
)

// historyWindow is how far back bars are pulled to feed the indicator
// calculator. 180 calendar days comfortably covers the ≥50 trading bars
// required for SMA_50/VWAP even across weekends and exchange holidays.
const historyWindow = 180 * 24 * time.Hour

// BarSource is the only market-data contract RunTick depends on. It is
// satisfied by *market.Manager, which guarantees bars always come from the
// local store, never directly from the live feed.
type BarSource interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error)
}

// QTableStore loads and persists one symbol's Q-table wholesale. A missing
// symbol must return a fresh table, never an error — Load is also how a
// symbol's table is first created.
type QTableStore interface {
	Load(ctx context.Context, symbol string, hp qlearning.Hyperparams) (*qlearning.Table, error)
	Save(ctx context.Context, symbol string, table *qlearning.Table) error
}

// Engine is the per-process trading-loop orchestrator. One Engine drives
// every configured symbol; RunTick is safe to call repeatedly and serially
// for the same symbol, never concurrently for it (§5).
type Engine struct {
	Bars      BarSource
	Ledger    ledger.Ledger
	QTables   QTableStore
	Decisions decisionlog.Store
	Breaker   *riskguard.Breaker

	Hyperparams     qlearning.Hyperparams
	Reward          reward.Config
	Indicators      config.IndicatorConfig
	MaxPositionSize int64
	StartingCash    float64

	// Exploit disables exploration for the whole run (the --exploit CLI
	// flag), forcing deterministic argmax selection. Learning still happens.
	Exploit bool

	Logger *log.Logger
	rng    *rand.Rand
}

// New creates an Engine. A nil logger falls back to a default logger, and a
// nil rng to a fresh PCG source seeded from the package-level random source.
func New(e Engine) *Engine {
	if e.Logger == nil {
		e.Logger = log.New(log.Writer(), "[tradingloop] ", log.LstdFlags)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	eng := e
	return &eng
}

// RunTick executes one tick of the seven-step sequence for symbol:
//
//  1. Compose snapshot (latest bar, indicators, position, cash, exposure).
//  2. Discretize. A fallback state forces a logged HOLD with executed=false
//     and skips steps 4-6 entirely (no ledger call, no reward, no learning).
//  3. Select an action.
//  4. Execute it against the ledger.
//  5. Compute the reward.
//  6. Compose the next state and apply the TD(0) update (done=false).
//  7. Persist the Q-table and write the Decision Event.
//
// A StorageError at any I/O boundary aborts the tick atomically (no partial
// write) and is reported to the Breaker; the caller's next tick retries from
// fresh ledger/Q-table state.
func (e *Engine) RunTick(ctx context.Context, symbol string) error {
	now := time.Now()

	table, err := e.QTables.Load(ctx, symbol, e.Hyperparams)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("load Q-table: %v", err))
		return fmt.Errorf("tradingloop: load Q-table for %s: %w", symbol, err)
	}

	bars, err := e.Bars.Bars(ctx, symbol, now.Add(-historyWindow), now)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("read bars: %v", err))
		return fmt.Errorf("tradingloop: read bars for %s: %w", symbol, err)
	}

	qty, err := e.Ledger.OpenQuantity(ctx, symbol)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("open quantity: %v", err))
		return fmt.Errorf("tradingloop: open quantity for %s: %w", symbol, err)
	}
	costBasis, err := e.Ledger.CostBasis(ctx, symbol)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("cost basis: %v", err))
		return fmt.Errorf("tradingloop: cost basis for %s: %w", symbol, err)
	}
	cash, err := e.Ledger.CashBalance(ctx)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("cash balance: %v", err))
		return fmt.Errorf("tradingloop: cash balance: %w", err)
	}

	inputs, latestClose := e.composeInputs(bars, qty, cash.InexactFloat64(), costBasis.InexactFloat64())
	tuple, ok := state.Discretize(inputs)

	if !ok {
		e.Logger.Printf("[%s] fallback state (undefined indicator or no prior bar) — forcing HOLD", symbol)
		if _, err := e.Decisions.Append(ctx, decisionlog.Event{
			Symbol:     symbol,
			Timestamp:  now,
			StateTuple: state.Fallback,
			Fallback:   true,
			Action:     qlearning.ActionHold,
			Executed:   false,
			Rationale:  "indicators undefined or insufficient history: fallback state forces HOLD",
		}); err != nil {
			e.Breaker.RecordStorageError(symbol, fmt.Sprintf("write decision event: %v", err))
			return fmt.Errorf("tradingloop: write fallback decision event for %s: %w", symbol, err)
		}
		e.Breaker.RecordSuccess()
		return nil
	}

	action, exploring, values := table.SelectAction(tuple, e.Exploit, e.rng)

	executed, refused, refusalReason, realizedPnL, rationale, err := e.execute(ctx, symbol, action, latestClose, qty, now)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("execute %s: %v", action, err))
		return fmt.Errorf("tradingloop: execute %s for %s: %w", action, symbol, err)
	}

	qty2, err := e.Ledger.OpenQuantity(ctx, symbol)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("open quantity (post-trade): %v", err))
		return fmt.Errorf("tradingloop: post-trade open quantity for %s: %w", symbol, err)
	}
	costBasis2, err := e.Ledger.CostBasis(ctx, symbol)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("cost basis (post-trade): %v", err))
		return fmt.Errorf("tradingloop: post-trade cost basis for %s: %w", symbol, err)
	}
	cash2, err := e.Ledger.CashBalance(ctx)
	if err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("cash balance (post-trade): %v", err))
		return fmt.Errorf("tradingloop: post-trade cash balance: %w", err)
	}

	exposureRatio := 0.0
	if e.StartingCash > 0 {
		exposureRatio = costBasis2.InexactFloat64() / e.StartingCash
	}

	r := reward.Compute(e.Reward, reward.Outcome{
		Action:        action,
		Executed:      executed,
		Refused:       refused,
		RealizedPnL:   realizedPnL,
		ExposureRatio: exposureRatio,
	})

	nextInputs, _ := e.composeInputs(bars, qty2, cash2.InexactFloat64(), costBasis2.InexactFloat64())
	nextTuple, nextOk := state.Discretize(nextInputs)
	if !nextOk {
		nextTuple = state.Fallback
	}

	table.Learn(tuple, action, r, nextTuple, false, e.Exploit)

	if err := e.QTables.Save(ctx, symbol, table); err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("save Q-table: %v", err))
		return fmt.Errorf("tradingloop: save Q-table for %s: %w", symbol, err)
	}

	if _, err := e.Decisions.Append(ctx, decisionlog.Event{
		Symbol:        symbol,
		Timestamp:     now,
		StateTuple:    tuple,
		Action:        action,
		Executed:      executed,
		Exploring:     exploring,
		Refused:       refused,
		RefusalReason: refusalReason,
		Rationale:     rationale,
		ActionValues:  values,
		Reward:        r,
	}); err != nil {
		e.Breaker.RecordStorageError(symbol, fmt.Sprintf("write decision event: %v", err))
		return fmt.Errorf("tradingloop: write decision event for %s: %w", symbol, err)
	}

	e.Breaker.RecordSuccess()
	return nil
}

// execute translates action into a ledger call (or a no-op for HOLD) and
// reports whether it executed, whether it was refused, and the realized
// P&L produced by an executed SELL.
func (e *Engine) execute(ctx context.Context, symbol string, action qlearning.Action, price float64, openQty int64, now time.Time) (executed, refused bool, reason ledger.RefusalReason, realizedPnL float64, rationale string, err error) {
	switch action {
	case qlearning.ActionHold:
		return true, false, ledger.RefusalNone, 0, "policy selected HOLD", nil

	case qlearning.ActionBuy:
		if !e.Breaker.Allowed() {
			return false, true, ledger.RefusalNone, 0, fmt.Sprintf("riskguard open: %s", e.Breaker.TripReason()), nil
		}
		res, buyErr := e.Ledger.Buy(ctx, symbol, e.MaxPositionSize, decimal.NewFromFloat(price), "policy selected BUY", now)
		if buyErr != nil {
			return false, false, ledger.RefusalNone, 0, "", buyErr
		}
		if res.Refused {
			return false, true, res.Reason, 0, fmt.Sprintf("BUY refused: %s", res.Reason), nil
		}
		return true, false, ledger.RefusalNone, 0, "policy selected BUY", nil

	case qlearning.ActionSell:
		if openQty <= 0 {
			return false, true, ledger.RefusalInsufficientPosition, 0, "SELL selected with no open position", nil
		}
		if !e.Breaker.Allowed() {
			return false, true, ledger.RefusalNone, 0, fmt.Sprintf("riskguard open: %s", e.Breaker.TripReason()), nil
		}
		res, sellErr := e.Ledger.Sell(ctx, symbol, openQty, decimal.NewFromFloat(price), "policy selected SELL", now)
		if sellErr != nil {
			return false, false, ledger.RefusalNone, 0, "", sellErr
		}
		if res.Refused {
			return false, true, res.Reason, 0, fmt.Sprintf("SELL refused: %s", res.Reason), nil
		}
		return true, false, ledger.RefusalNone, res.AggregateRealizedPnL.InexactFloat64(), "policy selected SELL, closed full position", nil

	default:
		return false, false, ledger.RefusalNone, 0, "", fmt.Errorf("tradingloop: unknown action %q", action)
	}
}

// composeInputs builds state.Inputs from bar history and the current ledger
// position. It returns the latest close alongside the inputs since callers
// need it as the execution price.
func (e *Engine) composeInputs(bars []market.Bar, qty int64, cash, costBasis float64) (state.Inputs, float64) {
	return ComposeInputs(bars, e.Indicators, qty, cash, e.StartingCash, costBasis)
}

// ComposeInputs builds state.Inputs from bar history, the indicator
// lookback configuration, and the current ledger position. It returns the
// latest close alongside the inputs since callers typically need it as an
// execution price. Exported so settlement (which discretizes the same way
// at end-of-session) does not reimplement the indicator wiring.
func ComposeInputs(bars []market.Bar, cfg config.IndicatorConfig, qty int64, cash, startingCash, costBasis float64) (state.Inputs, float64) {
	in := state.Inputs{
		Quantity:     qty,
		Cash:         cash,
		StartingCash: startingCash,
		CostBasis:    costBasis,
	}
	if len(bars) == 0 {
		return in, 0
	}

	latest := bars[len(bars)-1]
	in.Close = latest.Close
	if len(bars) >= 2 {
		in.HasPrevious = true
		in.PreviousClose = bars[len(bars)-2].Close
	}

	in.RSI, in.RSIOk = indicators.RSI(bars, cfg.RSIPeriod)
	in.SMA50, in.SMA50Ok = indicators.SMA(bars, cfg.SMAPeriod)
	in.VWAP, in.VWAPOk = indicators.VWAP(bars, cfg.VWAPLookback)

	return in, latest.Close
}
