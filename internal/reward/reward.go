// Package reward implements the pure mapping from a trading-loop outcome to
// the scalar reward fed into the Q-learning update.
package reward

import (
	"math"

	"github.com/marketedge/qtrader/internal/qlearning"
)

// Config holds the tunable reward magnitudes. Zero values are not valid
// defaults — callers should seed this from config.RewardConfig.
type Config struct {
	// HoldPenalty is the small negative constant charged for an executed
	// HOLD (opportunity cost). Must be <= 0.
	HoldPenalty float64

	// BuyPenaltyBase is the base charge for an executed BUY before the
	// exposure scaling multiplier. Must be <= 0.
	BuyPenaltyBase float64

	// ExposureSoftCap is the exposure_ratio above which the BUY penalty
	// starts scaling up. Set to math.Inf(1) to disable scaling entirely
	// (flat BUY penalty).
	ExposureSoftCap float64
}

// Outcome bundles what the trading loop observed for one step.
type Outcome struct {
	Action      qlearning.Action
	Executed    bool
	Refused     bool
	RealizedPnL float64 // only meaningful for an executed SELL
	ExposureRatio float64 // cost_basis / starting_cash, post-execution
}

// Compute returns the reward for outcome under cfg.
//
//   - HOLD, executed -> cfg.HoldPenalty (a small negative constant).
//   - BUY, executed -> cfg.BuyPenaltyBase scaled by exposure:
//     BuyPenaltyBase * (1 + max(0, exposureRatio - ExposureSoftCap)).
//   - SELL, executed -> outcome.RealizedPnL verbatim.
//   - Refused (INSUFFICIENT_CASH / INSUFFICIENT_POSITION) or not executed
//     (fallback state) -> 0, no reinforcement either way.
func Compute(cfg Config, outcome Outcome) float64 {
	if outcome.Refused || !outcome.Executed {
		return 0
	}

	switch outcome.Action {
	case qlearning.ActionHold:
		return cfg.HoldPenalty
	case qlearning.ActionBuy:
		excess := math.Max(0, outcome.ExposureRatio-cfg.ExposureSoftCap)
		return cfg.BuyPenaltyBase * (1 + excess)
	case qlearning.ActionSell:
		return outcome.RealizedPnL
	default:
		return 0
	}
}
