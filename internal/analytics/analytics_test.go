package analytics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/shopspring/decimal"
)

func sellRow(id int64, symbol string, entryPrice, exitPrice float64, qty int64, holdDays int) ledger.Trade {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(time.Duration(holdDays) * 24 * time.Hour)
	pnl := float64(qty) * (exitPrice - entryPrice)
	return ledger.Trade{
		ID:          id,
		Symbol:      symbol,
		Action:      ledger.ActionSell,
		Quantity:    decimal.NewFromInt(qty),
		Price:       decimal.NewFromFloat(exitPrice),
		Status:      ledger.StatusClosed,
		OpenedAt:    entry,
		ExitPrice:   decimal.NewFromFloat(exitPrice),
		ExitTime:    exit,
		RealizedPnL: decimal.NewFromFloat(pnl),
	}
}

func TestAnalyze_EmptyTrades(t *testing.T) {
	report := Analyze(nil, 500000)
	if report == nil {
		t.Fatal("expected non-nil report")
	}
	if report.TotalTrades != 0 {
		t.Errorf("expected 0 trades, got %d", report.TotalTrades)
	}
}

func TestAnalyze_IgnoresOpenBuyRows(t *testing.T) {
	trades := []ledger.Trade{
		{ID: 1, Symbol: "AAPL", Action: ledger.ActionBuy, Status: ledger.StatusOpen},
		sellRow(2, "AAPL", 100, 110, 5, 3),
	}
	report := Analyze(trades, 100000)
	if report.TotalTrades != 1 {
		t.Fatalf("expected only the SELL row to count, got %d", report.TotalTrades)
	}
}

func TestAnalyze_WinRateAndPnL(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 110, 5, 2), // +50
		sellRow(2, "AAPL", 100, 90, 5, 2),  // -50
		sellRow(3, "AAPL", 100, 120, 5, 2), // +100
	}
	report := Analyze(trades, 100000)

	if report.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 2 || report.LosingTrades != 1 {
		t.Errorf("expected 2 wins / 1 loss, got %d/%d", report.WinningTrades, report.LosingTrades)
	}
	wantWinRate := 2.0 / 3.0 * 100
	if math.Abs(report.WinRate-wantWinRate) > 0.01 {
		t.Errorf("expected win rate %.2f, got %.2f", wantWinRate, report.WinRate)
	}
	if report.TotalPnL != 100 {
		t.Errorf("expected total P&L 100, got %.2f", report.TotalPnL)
	}
	wantProfitFactor := 150.0 / 50.0
	if report.ProfitFactor != wantProfitFactor {
		t.Errorf("expected profit factor %.2f, got %.2f", wantProfitFactor, report.ProfitFactor)
	}
}

func TestAnalyze_AllWinsYieldsInfiniteProfitFactor(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 110, 5, 1),
		sellRow(2, "AAPL", 100, 115, 5, 1),
	}
	report := Analyze(trades, 100000)
	if !math.IsInf(report.ProfitFactor, 1) {
		t.Errorf("expected +Inf profit factor with no losses, got %.2f", report.ProfitFactor)
	}
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 150, 10, 1), // equity 100000 -> 100500
		sellRow(2, "AAPL", 100, 50, 10, 2),  // equity -> 100000 (drawdown 500 from peak 100500)
		sellRow(3, "AAPL", 100, 200, 10, 3), // equity -> 101000
	}
	report := Analyze(trades, 100000)
	if report.MaxDrawdown != 500 {
		t.Errorf("expected max drawdown 500, got %.2f", report.MaxDrawdown)
	}
}

func TestAnalyze_SharpeRatioZeroWithFewerThanTwoTrades(t *testing.T) {
	trades := []ledger.Trade{sellRow(1, "AAPL", 100, 110, 5, 1)}
	report := Analyze(trades, 100000)
	if report.SharpeRatio != 0 {
		t.Errorf("expected Sharpe ratio 0 with a single trade, got %.2f", report.SharpeRatio)
	}
}

func TestAnalyze_SharpeRatioZeroWhenPnLConstant(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 110, 5, 1),
		sellRow(2, "AAPL", 100, 110, 5, 1),
		sellRow(3, "AAPL", 100, 110, 5, 1),
	}
	report := Analyze(trades, 100000)
	if report.SharpeRatio != 0 {
		t.Errorf("expected Sharpe ratio 0 with zero variance, got %.2f", report.SharpeRatio)
	}
}

func TestEquityCurve_TracksRunningEquityAndDrawdown(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 150, 10, 1),
		sellRow(2, "AAPL", 100, 50, 10, 2),
	}
	curve := EquityCurve(trades, 100000)
	if len(curve) != 3 { // starting point + 2 sells
		t.Fatalf("expected 3 equity curve points, got %d", len(curve))
	}
	if curve[len(curve)-1].Equity != 100000 {
		t.Errorf("expected final equity 100000, got %.2f", curve[len(curve)-1].Equity)
	}
}

func TestFormatReport_EmptyTradesMessage(t *testing.T) {
	got := FormatReport(Analyze(nil, 100000))
	if !strings.Contains(got, "No closed trades") {
		t.Errorf("expected empty-report message, got %q", got)
	}
}

func TestFormatReport_IncludesKeyMetrics(t *testing.T) {
	trades := []ledger.Trade{
		sellRow(1, "AAPL", 100, 110, 5, 1),
		sellRow(2, "AAPL", 100, 90, 5, 1),
	}
	got := FormatReport(Analyze(trades, 100000))
	for _, want := range []string{"Total trades", "Win rate", "Sharpe ratio", "Profit factor"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected report to mention %q, got:\n%s", want, got)
		}
	}
}
