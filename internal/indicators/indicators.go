// Package indicators provides the stateless technical indicator
// calculations the state discretizer reads from.
//
// Every function returns (value, ok) rather than falling back to a
// placeholder number: an indicator with insufficient history is undefined,
// not neutral, and the caller must treat it as such.
package indicators

import (
	"math"

	"github.com/marketedge/qtrader/internal/market"
)

// RSI computes the Relative Strength Index over period using Wilder
// smoothing. bars must be ordered oldest-first. Returns ok=false if fewer
// than period+1 bars are available.
func RSI(bars []market.Bar, period int) (value float64, ok bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// SMA computes the Simple Moving Average of closing prices over the last
// period bars. Returns ok=false if fewer than period bars are available.
func SMA(bars []market.Bar, period int) (value float64, ok bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period), true
}

// VWAP computes the Volume Weighted Average Price over the last lookback
// bars, using the typical price (H+L+C)/3 weighted by volume. Returns
// ok=false if fewer than lookback bars are available or total volume is
// zero (VWAP is meaningless without volume).
func VWAP(bars []market.Bar, lookback int) (value float64, ok bool) {
	if lookback <= 0 || len(bars) < lookback {
		return 0, false
	}

	start := len(bars) - lookback
	var pvSum, volSum float64
	for i := start; i < len(bars); i++ {
		b := bars[i]
		typical := (b.High + b.Low + b.Close) / 3
		pvSum += typical * float64(b.Volume)
		volSum += float64(b.Volume)
	}
	if volSum == 0 {
		return 0, false
	}
	return pvSum / volSum, true
}
