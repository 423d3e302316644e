package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STARTING_CASH", "MAX_POSITION_SIZE", "SYMBOLS",
		"LEARNING_RATE", "DISCOUNT_FACTOR", "EXPLORATION_RATE",
		"EXPLORATION_DECAY", "MIN_EXPLORATION", "DATABASE_URL",
		"DASHBOARD_DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SYMBOLS", "aapl, msft ,GOOG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StartingCash != 100000 {
		t.Errorf("expected default starting cash 100000, got %f", cfg.StartingCash)
	}
	if cfg.MaxPositionSize != 25 {
		t.Errorf("expected default max position size 25, got %d", cfg.MaxPositionSize)
	}
	want := []string{"AAPL", "MSFT", "GOOG"}
	if len(cfg.Symbols) != len(want) {
		t.Fatalf("expected %d symbols, got %v", len(want), cfg.Symbols)
	}
	for i, s := range want {
		if cfg.Symbols[i] != s {
			t.Errorf("symbol %d: expected %s, got %s", i, s, cfg.Symbols[i])
		}
	}
	if cfg.Hyperparams.LearningRate != 0.1 {
		t.Errorf("expected default learning rate 0.1, got %f", cfg.Hyperparams.LearningRate)
	}
	if cfg.Hyperparams.ExplorationDecay != 0.995 {
		t.Errorf("expected default exploration decay 0.995, got %f", cfg.Hyperparams.ExplorationDecay)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYMBOLS", "AAPL")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_RequiresSymbols(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SYMBOLS is missing")
	}
}

func TestValidate_RejectsBadHyperparams(t *testing.T) {
	cfg := &Config{
		StartingCash:    100000,
		MaxPositionSize: 25,
		Symbols:         []string{"AAPL"},
		DatabaseURL:     "postgres://localhost/test",
		Hyperparams: HyperparamsConfig{
			LearningRate:     1.5, // invalid: > 1
			DiscountFactor:   0.95,
			ExplorationRate:  1.0,
			ExplorationDecay: 0.995,
			MinExploration:   0.01,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for learning rate > 1")
	}
}
