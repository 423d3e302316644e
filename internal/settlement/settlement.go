// Package settlement closes out every open position at end-of-session and
// issues the terminal TD update for each symbol, so no bootstrap term leaks
// across a day boundary.
//
// Grounded on the reconciliation instinct behind a trading engine's nightly
// close-out job: walk every symbol with an open position, force it flat at
// the last known price, and record the outcome — but reshaped here to also
// teach the Q-learning engine that the episode ended (done=true).
package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/decisionlog"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/marketedge/qtrader/internal/qlearning"
	"github.com/marketedge/qtrader/internal/state"
	"github.com/marketedge/qtrader/internal/tradingloop"
	"github.com/shopspring/decimal"
)

// LastCloseSource supplies the final close price of the session for a
// symbol. A symbol with no stored bar yields ok=false rather than an error,
// distinguishing "nothing to settle against" from a storage failure.
type LastCloseSource interface {
	LastClose(ctx context.Context, symbol string) (price float64, ok bool, err error)
}

// Runner closes out every symbol with an open position at end-of-session.
type Runner struct {
	Bars      tradingloop.BarSource
	Prices    LastCloseSource
	Ledger    ledger.Ledger
	QTables   tradingloop.QTableStore
	Decisions decisionlog.Store

	Hyperparams  qlearning.Hyperparams
	Indicators   config.IndicatorConfig
	StartingCash float64

	Logger *log.Logger
}

// New creates a Runner. A nil logger falls back to a default one.
func New(r Runner) *Runner {
	if r.Logger == nil {
		r.Logger = log.New(log.Writer(), "[settlement] ", log.LstdFlags)
	}
	out := r
	return &out
}

// Run closes every symbol in symbols that has an open quantity: force-sells
// it at the last known close, records the realized P&L as a terminal
// reward, and applies a done=true TD update so no future bootstrap term
// leaks across the session boundary. A symbol with no stored bar is
// refused with a logged warning rather than force-sold at a fabricated
// price.
func (r *Runner) Run(ctx context.Context, symbols []string) error {
	now := time.Now()
	for _, symbol := range symbols {
		if err := r.settleSymbol(ctx, symbol, now); err != nil {
			return fmt.Errorf("settlement: %s: %w", symbol, err)
		}
	}
	return nil
}

func (r *Runner) settleSymbol(ctx context.Context, symbol string, now time.Time) error {
	qty, err := r.Ledger.OpenQuantity(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open quantity: %w", err)
	}
	if qty <= 0 {
		return nil
	}

	table, err := r.QTables.Load(ctx, symbol, r.Hyperparams)
	if err != nil {
		return fmt.Errorf("load Q-table: %w", err)
	}

	bars, err := r.Bars.Bars(ctx, symbol, now.AddDate(0, 0, -180), now)
	if err != nil {
		return fmt.Errorf("read bars: %w", err)
	}
	preCostBasis, err := r.Ledger.CostBasis(ctx, symbol)
	if err != nil {
		return fmt.Errorf("cost basis: %w", err)
	}
	preCash, err := r.Ledger.CashBalance(ctx)
	if err != nil {
		return fmt.Errorf("cash balance: %w", err)
	}
	preInputs, _ := tradingloop.ComposeInputs(bars, r.Indicators, qty, preCash.InexactFloat64(), r.StartingCash, preCostBasis.InexactFloat64())
	preTuple, discretized := state.Discretize(preInputs)
	if !discretized {
		preTuple = state.Fallback
	}

	price, havePrice, err := r.Prices.LastClose(ctx, symbol)
	if err != nil {
		return fmt.Errorf("last close: %w", err)
	}
	if !havePrice {
		r.Logger.Printf("[%s] no stored bar for end-of-session close — refusing to force-sell %d open shares at a fabricated price", symbol, qty)
		// No environment response: reward 0, s' = s, so no bootstrap term
		// leaks in either direction. The position stays open for the next
		// settlement attempt. A fallback pre-state gets no update at all.
		if discretized {
			table.Learn(preTuple, qlearning.ActionSell, 0, preTuple, false, false)
		}
		if err := r.QTables.Save(ctx, symbol, table); err != nil {
			return fmt.Errorf("save Q-table: %w", err)
		}
		_, err := r.Decisions.Append(ctx, decisionlog.Event{
			Symbol:        symbol,
			Timestamp:     now,
			StateTuple:    preTuple,
			Action:        qlearning.ActionSell,
			Executed:      false,
			Refused:       true,
			RefusalReason: ledger.RefusalNoPrice,
			Rationale:     "settlement SELL refused: no stored bar for end-of-session close",
		})
		if err != nil {
			return fmt.Errorf("write decision event: %w", err)
		}
		return nil
	}

	res, err := r.Ledger.Sell(ctx, symbol, qty, decimal.NewFromFloat(price), "end-of-session settlement", now)
	if err != nil {
		return fmt.Errorf("sell: %w", err)
	}

	executed := !res.Refused
	rationale := "end-of-session settlement"
	reward := 0.0
	if executed {
		reward = res.AggregateRealizedPnL.InexactFloat64()
	} else {
		rationale = fmt.Sprintf("settlement SELL refused: %s", res.Reason)
		r.Logger.Printf("[%s] settlement SELL refused: %s", symbol, res.Reason)
	}

	// done=true: no bootstrap term should leak from one session into the
	// next, so the next-state argument is irrelevant and never read. A
	// fallback pre-state gets no update at all.
	if discretized {
		table.Learn(preTuple, qlearning.ActionSell, reward, state.Fallback, true, false)
	}

	if err := r.QTables.Save(ctx, symbol, table); err != nil {
		return fmt.Errorf("save Q-table: %w", err)
	}

	if _, err := r.Decisions.Append(ctx, decisionlog.Event{
		Symbol:        symbol,
		Timestamp:     now,
		StateTuple:    preTuple,
		Action:        qlearning.ActionSell,
		Executed:      executed,
		Refused:       res.Refused,
		RefusalReason: res.Reason,
		Rationale:     rationale,
		Reward:        reward,
	}); err != nil {
		return fmt.Errorf("write decision event: %w", err)
	}

	r.Logger.Printf("[%s] settled: closed %d shares @ %.2f, realized_pnl=%.2f", symbol, qty, price, reward)
	return nil
}
