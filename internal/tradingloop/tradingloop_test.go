package tradingloop

import (
	"context"
	"testing"
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

type fakeBarSource struct {
	bars []market.Bar
}

func (f *fakeBarSource) Bars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	return f.bars, nil
}

type fakeQTableStore struct {
	tables map[string]*qlearning.Table
}

func newFakeQTableStore() *fakeQTableStore {
	return &fakeQTableStore{tables: make(map[string]*qlearning.Table)}
}

func (f *fakeQTableStore) Load(ctx context.Context, symbol string, hp qlearning.Hyperparams) (*qlearning.Table, error) {
	if t, ok := f.tables[symbol]; ok {
		return t, nil
	}
	return qlearning.NewTable(hp), nil
}

func (f *fakeQTableStore) Save(ctx context.Context, symbol string, table *qlearning.Table) error {
	f.tables[symbol] = table
	return nil
}

func indicatorConfig() config.IndicatorConfig {
	return config.IndicatorConfig{RSIPeriod: 14, SMAPeriod: 50, VWAPLookback: 50}
}

// trendingBars builds an uninterrupted upward run of n daily bars starting
// at basePrice, guaranteeing RSI/SMA/VWAP are all defined for n >= 51 and
// that the resulting tuple is distinct from state.Fallback (all-neutral).
func trendingBars(symbol string, n int, basePrice float64) []market.Bar {
	bars := make([]market.Bar, n)
	start := time.Date(2026, 1, 1, 9, 15, 0, 0, time.UTC)
	price := basePrice
	for i := 0; i < n; i++ {
		price += 1.0
		bars[i] = market.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      price - 1,
			High:      price + 0.5,
			Low:       price - 1.5,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func tupleFor(bars []market.Bar, cfg config.IndicatorConfig, qty int64, cash, startingCash, costBasis float64) state.Tuple {
	latest := bars[len(bars)-1]
	in := state.Inputs{
		Close:        latest.Close,
		Quantity:     qty,
		Cash:         cash,
		StartingCash: startingCash,
		CostBasis:    costBasis,
	}
	if len(bars) >= 2 {
		in.HasPrevious = true
		in.PreviousClose = bars[len(bars)-2].Close
	}
	in.RSI, in.RSIOk = indicators.RSI(bars, cfg.RSIPeriod)
	in.SMA50, in.SMA50Ok = indicators.SMA(bars, cfg.SMAPeriod)
	in.VWAP, in.VWAPOk = indicators.VWAP(bars, cfg.VWAPLookback)
	tup, ok := state.Discretize(in)
	if !ok {
		panic("tupleFor: test setup produced an undefined state")
	}
	return tup
}

func newEngine(t *testing.T, bars []market.Bar, led ledger.Ledger, qtables *fakeQTableStore, decisions decisionlog.Store, breaker *riskguard.Breaker, exploit bool) *Engine {
	t.Helper()
	return New(Engine{
		Bars:      &fakeBarSource{bars: bars},
		Ledger:    led,
		QTables:   qtables,
		Decisions: decisions,
		Breaker:   breaker,
		Hyperparams: qlearning.Hyperparams{
			LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 1.0,
			ExplorationDecay: 0.995, MinExploration: 0.01,
		},
		Reward:          reward.Config{HoldPenalty: -0.01, BuyPenaltyBase: -0.10, ExposureSoftCap: 0.5},
		Indicators:      indicatorConfig(),
		MaxPositionSize: 5,
		StartingCash:    100000,
		Exploit:         exploit,
	})
}

func TestRunTick_FallbackStateLogsHoldWithoutLedgerCall(t *testing.T) {
	ctx := context.Background()
	bars := trendingBars("AAPL", 5, 100) // far too short for SMA_50/RSI
	led := ledger.NewMemStore(decimal.NewFromInt(100000))
	qtables := newFakeQTableStore()
	decisions := decisionlog.NewMemStore()
	breaker := riskguard.New(config.RiskGuardConfig{MaxConsecutiveFailures: 5}, nil)

	eng := newEngine(t, bars, led, qtables, decisions, breaker, true)
	if err := eng.RunTick(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cash, _ := led.CashBalance(ctx)
	if !cash.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected cash unchanged at 100000, got %s", cash)
	}

	recent, _ := decisions.Recent(ctx, "AAPL", 1)
	if len(recent) != 1 {
		t.Fatalf("expected exactly one decision event, got %d", len(recent))
	}
	if recent[0].Action != qlearning.ActionHold || recent[0].Executed || !recent[0].Fallback {
		t.Errorf("expected a fallback HOLD with executed=false, got %+v", recent[0])
	}
}

func TestRunTick_HoldIsDefaultArgmaxOnFreshTable(t *testing.T) {
	ctx := context.Background()
	bars := trendingBars("AAPL", 60, 100)
	led := ledger.NewMemStore(decimal.NewFromInt(100000))
	qtables := newFakeQTableStore()
	decisions := decisionlog.NewMemStore()
	breaker := riskguard.New(config.RiskGuardConfig{MaxConsecutiveFailures: 5}, nil)

	eng := newEngine(t, bars, led, qtables, decisions, breaker, true) // exploit: deterministic argmax
	if err := eng.RunTick(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent, _ := decisions.Recent(ctx, "AAPL", 1)
	if len(recent) != 1 {
		t.Fatalf("expected one decision event, got %d", len(recent))
	}
	if recent[0].Action != qlearning.ActionHold {
		t.Errorf("expected HOLD to win the tie-break on an all-zero fresh table, got %s", recent[0].Action)
	}
	if recent[0].Reward != -0.01 {
		t.Errorf("expected HOLD reward -0.01, got %f", recent[0].Reward)
	}

	if qtables.tables["AAPL"] == nil {
		t.Error("expected the Q-table to be persisted after the tick")
	}
}

func TestRunTick_BuyExecutesAgainstLedger(t *testing.T) {
	ctx := context.Background()
	bars := trendingBars("AAPL", 60, 100)
	led := ledger.NewMemStore(decimal.NewFromInt(100000))
	decisions := decisionlog.NewMemStore()
	breaker := riskguard.New(config.RiskGuardConfig{MaxConsecutiveFailures: 5}, nil)

	tup := tupleFor(bars, indicatorConfig(), 0, 100000, 100000, 0)
	table := qlearning.NewTable(qlearning.Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 1.0, ExplorationDecay: 0.995, MinExploration: 0.01})
	table.Learn(tup, qlearning.ActionBuy, 100, tup, true, true) // pushes Q[tup][BUY] above 0

	qtables := newFakeQTableStore()
	qtables.tables["AAPL"] = table

	eng := newEngine(t, bars, led, qtables, decisions, breaker, true)
	if err := eng.RunTick(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qty, _ := led.OpenQuantity(ctx, "AAPL")
	if qty != 5 {
		t.Fatalf("expected BUY to open 5 shares (MaxPositionSize), got %d", qty)
	}

	recent, _ := decisions.Recent(ctx, "AAPL", 1)
	if len(recent) != 1 || recent[0].Action != qlearning.ActionBuy || !recent[0].Executed {
		t.Fatalf("expected an executed BUY decision event, got %+v", recent)
	}
}

func TestRunTick_SellClosesFullPositionAndRewardsRealizedPnL(t *testing.T) {
	ctx := context.Background()
	bars := trendingBars("AAPL", 60, 100)
	led := ledger.NewMemStore(decimal.NewFromInt(100000))
	decisions := decisionlog.NewMemStore()
	breaker := riskguard.New(config.RiskGuardConfig{MaxConsecutiveFailures: 5}, nil)

	entryPrice := bars[len(bars)-10].Close
	buyRes, err := led.Buy(ctx, "AAPL", 5, decimal.NewFromFloat(entryPrice), "seed", bars[len(bars)-10].Timestamp)
	if err != nil || buyRes.Refused {
		t.Fatalf("unexpected seed buy failure: err=%v refused=%v", err, buyRes.Refused)
	}

	costBasis, _ := led.CostBasis(ctx, "AAPL")
	cash, _ := led.CashBalance(ctx)
	tup := tupleFor(bars, indicatorConfig(), 5, cash.InexactFloat64(), 100000, costBasis.InexactFloat64())
	table := qlearning.NewTable(qlearning.Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 1.0, ExplorationDecay: 0.995, MinExploration: 0.01})
	table.Learn(tup, qlearning.ActionSell, 100, tup, true, true)

	qtables := newFakeQTableStore()
	qtables.tables["AAPL"] = table

	eng := newEngine(t, bars, led, qtables, decisions, breaker, true)
	if err := eng.RunTick(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qty, _ := led.OpenQuantity(ctx, "AAPL")
	if qty != 0 {
		t.Fatalf("expected SELL to flatten the full position, got open qty %d", qty)
	}

	recent, _ := decisions.Recent(ctx, "AAPL", 1)
	if len(recent) != 1 || recent[0].Action != qlearning.ActionSell || !recent[0].Executed {
		t.Fatalf("expected an executed SELL decision event, got %+v", recent)
	}
	latestClose := bars[len(bars)-1].Close
	wantPnL := (latestClose - entryPrice) * 5
	if recent[0].Reward < wantPnL-0.02 || recent[0].Reward > wantPnL+0.02 {
		t.Errorf("expected reward ~= realized pnl %.2f, got %f", wantPnL, recent[0].Reward)
	}
}

func TestRunTick_TrippedBreakerBlocksNewEntries(t *testing.T) {
	ctx := context.Background()
	bars := trendingBars("AAPL", 60, 100)
	led := ledger.NewMemStore(decimal.NewFromInt(100000))
	decisions := decisionlog.NewMemStore()
	breaker := riskguard.New(config.RiskGuardConfig{MaxConsecutiveFailures: 1}, nil)
	breaker.RecordStorageError("AAPL", "simulated outage")
	if breaker.Allowed() {
		t.Fatal("test setup: expected breaker to be tripped")
	}

	tup := tupleFor(bars, indicatorConfig(), 0, 100000, 100000, 0)
	table := qlearning.NewTable(qlearning.Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 1.0, ExplorationDecay: 0.995, MinExploration: 0.01})
	table.Learn(tup, qlearning.ActionBuy, 100, tup, true, true)

	qtables := newFakeQTableStore()
	qtables.tables["AAPL"] = table

	eng := newEngine(t, bars, led, qtables, decisions, breaker, true)
	if err := eng.RunTick(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qty, _ := led.OpenQuantity(ctx, "AAPL")
	if qty != 0 {
		t.Fatalf("expected the tripped breaker to block the BUY, got open qty %d", qty)
	}

	recent, _ := decisions.Recent(ctx, "AAPL", 1)
	if len(recent) != 1 || recent[0].Executed || !recent[0].Refused {
		t.Fatalf("expected a refused, non-executed BUY decision event, got %+v", recent)
	}
}
