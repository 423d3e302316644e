// Package config provides application-wide configuration management.
// All configuration is loaded from environment variables. The tunable
// parameters of the indicator, Q-learning, ledger, and reward logic come from
// here; the state discretizer's bucket thresholds and ε band are fixed
// constants in package state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all system configuration. Loaded once at startup and passed
// as read-only to all components.
type Config struct {
	// StartingCash is the reference bankroll used for I5 (cash identity) and
	// the cash/exposure bucketing in the state discretizer.
	StartingCash float64

	// MaxPositionSize is the number of shares a single BUY is allowed to open.
	MaxPositionSize int64

	// Symbols is the fixed universe of equities the agent trades.
	Symbols []string

	// Hyperparams are the Q-learning hyperparameters.
	Hyperparams HyperparamsConfig

	// Reward holds the reward-shaping configuration parameters.
	Reward RewardConfig

	// RiskGuard holds the circuit-breaker thresholds that halt new trade
	// entries after a run of StorageError failures.
	RiskGuard RiskGuardConfig

	// Indicators holds the lookback windows used to compute RSI/SMA/VWAP.
	Indicators IndicatorConfig

	// Feed holds market-data feed credentials and endpoint configuration.
	Feed FeedConfig

	// DatabaseURL is the read-write Postgres connection string for the core.
	// The core refuses to start without it.
	DatabaseURL string

	// DashboardDatabaseURL is the read-only connection string handed to the
	// dashboard process. Empty means the dashboard reuses DatabaseURL.
	DashboardDatabaseURL string
}

// HyperparamsConfig mirrors qlearning.Hyperparams without importing the
// qlearning package, keeping config free of downstream dependencies.
type HyperparamsConfig struct {
	LearningRate     float64
	DiscountFactor   float64
	ExplorationRate  float64
	ExplorationDecay float64
	MinExploration   float64
}

// RewardConfig carries the tunable magnitudes behind the reward function.
type RewardConfig struct {
	HoldPenalty     float64
	BuyPenaltyBase  float64
	ExposureSoftCap float64
}

// RiskGuardConfig mirrors riskguard.Breaker's thresholds without importing
// the riskguard package, keeping config free of downstream dependencies.
type RiskGuardConfig struct {
	MaxConsecutiveFailures int
	MaxFailuresPerHour     int
	CooldownMinutes        int
}

// IndicatorConfig holds the indicator lookback windows. The SMA_50 naming
// in the state discretizer assumes SMAPeriod defaults to 50.
type IndicatorConfig struct {
	RSIPeriod    int
	SMAPeriod    int
	VWAPLookback int
}

// FeedConfig holds market-data feed credentials.
type FeedConfig struct {
	BaseURL string
	APIKey  string
}

// Load reads configuration from environment variables. If a ".env" file is
// present in the working directory it is loaded first (and never overrides
// variables already set in the real environment).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StartingCash:    envFloat("STARTING_CASH", 100000),
		MaxPositionSize: envInt("MAX_POSITION_SIZE", 25),
		Symbols:         envSymbols("SYMBOLS"),
		Hyperparams: HyperparamsConfig{
			LearningRate:     envFloat("LEARNING_RATE", 0.1),
			DiscountFactor:   envFloat("DISCOUNT_FACTOR", 0.95),
			ExplorationRate:  envFloat("EXPLORATION_RATE", 1.0),
			ExplorationDecay: envFloat("EXPLORATION_DECAY", 0.995),
			MinExploration:   envFloat("MIN_EXPLORATION", 0.01),
		},
		Reward: RewardConfig{
			HoldPenalty:     envFloat("HOLD_PENALTY", -0.01),
			BuyPenaltyBase:  envFloat("BUY_PENALTY_BASE", -0.10),
			ExposureSoftCap: envFloat("EXPOSURE_SOFT_CAP", 0.5),
		},
		RiskGuard: RiskGuardConfig{
			MaxConsecutiveFailures: int(envInt("RISK_MAX_CONSECUTIVE_FAILURES", 5)),
			MaxFailuresPerHour:     int(envInt("RISK_MAX_FAILURES_PER_HOUR", 10)),
			CooldownMinutes:        int(envInt("RISK_COOLDOWN_MINUTES", 30)),
		},
		Indicators: IndicatorConfig{
			RSIPeriod:    int(envInt("RSI_PERIOD", 14)),
			SMAPeriod:    int(envInt("SMA_PERIOD", 50)),
			VWAPLookback: int(envInt("VWAP_LOOKBACK", 50)),
		},
		Feed: FeedConfig{
			BaseURL: os.Getenv("FEED_BASE_URL"),
			APIKey:  os.Getenv("FEED_API_KEY"),
		},
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DashboardDatabaseURL: os.Getenv("DASHBOARD_DATABASE_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.StartingCash <= 0 {
		return fmt.Errorf("STARTING_CASH must be positive, got %f", c.StartingCash)
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE must be positive, got %d", c.MaxPositionSize)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must name at least one symbol")
	}
	if c.Hyperparams.LearningRate <= 0 || c.Hyperparams.LearningRate > 1 {
		return fmt.Errorf("LEARNING_RATE must be in (0, 1], got %f", c.Hyperparams.LearningRate)
	}
	if c.Hyperparams.DiscountFactor < 0 || c.Hyperparams.DiscountFactor > 1 {
		return fmt.Errorf("DISCOUNT_FACTOR must be in [0, 1], got %f", c.Hyperparams.DiscountFactor)
	}
	if c.Hyperparams.ExplorationRate < 0 || c.Hyperparams.ExplorationRate > 1 {
		return fmt.Errorf("EXPLORATION_RATE must be in [0, 1], got %f", c.Hyperparams.ExplorationRate)
	}
	if c.Hyperparams.ExplorationDecay <= 0 || c.Hyperparams.ExplorationDecay > 1 {
		return fmt.Errorf("EXPLORATION_DECAY must be in (0, 1], got %f", c.Hyperparams.ExplorationDecay)
	}
	if c.Hyperparams.MinExploration < 0 || c.Hyperparams.MinExploration > c.Hyperparams.ExplorationRate {
		return fmt.Errorf("MIN_EXPLORATION must be in [0, EXPLORATION_RATE], got %f", c.Hyperparams.MinExploration)
	}
	return nil
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func envSymbols(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}
