// Package analytics computes performance metrics from closed trade records.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 252 trading days)
//   - Profit factor (gross profits / gross losses)
//   - Equity curve reconstruction
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of ledger.Trade.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/marketedge/qtrader/internal/ledger"
	"gonum.org/v1/gonum/stat"
)

// PerformanceReport holds all computed performance metrics over a symbol's
// closed (SELL) trades.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	Date     time.Time
	Equity   float64
	Drawdown float64
}

// Analyze computes the full performance report from a symbol's trade
// history. Only SELL rows are counted: each carries the aggregate realized
// P&L of the lots it closed (closed BUY rows carry their per-lot share of the
// same P&L and are skipped to avoid double counting); everything else is
// derived from that sequence of realizations.
// Returns an empty report (not nil) if no SELL rows are present.
func Analyze(trades []ledger.Trade, initialCapital float64) *PerformanceReport {
	report := &PerformanceReport{}

	sells := closedSells(trades)
	if len(sells) == 0 {
		return report
	}

	pnls := make([]float64, 0, len(sells))
	for _, t := range sells {
		pnl, _ := t.RealizedPnL.Float64()
		pnls = append(pnls, pnl)

		report.TotalTrades++
		report.TotalPnL += pnl
		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	report.SharpeRatio = annualizedSharpe(pnls)

	return report
}

// EquityCurve generates the equity curve from a symbol's SELL rows, ordered
// by exit time.
func EquityCurve(trades []ledger.Trade, initialCapital float64) []EquityCurvePoint {
	sells := closedSells(trades)
	if len(sells) == 0 {
		return nil
	}

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sells)+1)
	points = append(points, EquityCurvePoint{Date: sells[0].OpenedAt, Equity: equity})

	for _, t := range sells {
		pnl, _ := t.RealizedPnL.Float64()
		equity += pnl
		if equity > peak {
			peak = equity
		}
		points = append(points, EquityCurvePoint{
			Date:     t.ExitTime,
			Equity:   equity,
			Drawdown: peak - equity,
		})
	}

	return points
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════════\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("═══════════════════════════════════════════════════\n\n")

	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d\n", report.WinningTrades)
	fmt.Fprintf(&b, "  Win rate:        %.1f%%\n", report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n")

	b.WriteString("── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total P&L:       %.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     %.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    %.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      %.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n")

	b.WriteString("── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    %.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)
	b.WriteString("\n")

	b.WriteString("═══════════════════════════════════════════════════\n")

	return b.String()
}

// closedSells returns every SELL row, sorted by exit time ascending. SELL
// rows are always StatusClosed and carry the aggregate realized P&L for
// the FIFO lots they consumed.
func closedSells(trades []ledger.Trade) []ledger.Trade {
	var sells []ledger.Trade
	for _, t := range trades {
		if t.Action == ledger.ActionSell {
			sells = append(sells, t)
		}
	}
	sort.Slice(sells, func(i, j int) bool {
		return sells[i].ExitTime.Before(sells[j].ExitTime)
	})
	return sells
}

// annualizedSharpe computes the Sharpe ratio over a sequence of per-trade
// P&L realizations, assuming a zero risk-free rate and 252 trading days
// per year. Mean/stddev are delegated to gonum/stat rather than hand-rolled.
func annualizedSharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	mean := stat.Mean(pnls, nil)
	stdDev := stat.StdDev(pnls, nil)
	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(252)
}
