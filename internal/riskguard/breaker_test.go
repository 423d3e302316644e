package riskguard

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/marketedge/qtrader/internal/config"
)

func guardLogger() *log.Logger {
	return log.New(os.Stdout, "[riskguard-test] ", log.LstdFlags)
}

func TestBreaker_ConsecutiveTrip(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 3}, guardLogger())

	b.RecordStorageError("AAPL", "write timeout 1")
	b.RecordStorageError("AAPL", "write timeout 2")
	if !b.Allowed() {
		t.Error("should still allow entries after 2 failures (threshold=3)")
	}

	b.RecordStorageError("AAPL", "write timeout 3")
	if b.Allowed() {
		t.Error("should block entries after 3 consecutive StorageErrors")
	}
	if b.TripReason() == "" {
		t.Error("expected non-empty trip reason")
	}
}

func TestBreaker_SuccessResetsConsecutive(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 3}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("AAPL", "e2")
	b.RecordSuccess()
	b.RecordStorageError("AAPL", "e3")

	if !b.Allowed() {
		t.Error("should still allow entries — a success reset the consecutive run")
	}
}

func TestBreaker_HourlyTrip(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxFailuresPerHour: 5}, guardLogger())

	for i := 0; i < 4; i++ {
		b.RecordStorageError("AAPL", "e")
		b.RecordSuccess()
	}
	if !b.Allowed() {
		t.Error("should still allow entries after 4 hourly failures (threshold=5)")
	}

	b.RecordStorageError("AAPL", "e5")
	if b.Allowed() {
		t.Error("should block entries after 5 hourly StorageErrors")
	}
}

func TestBreaker_CooldownAutoReset(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 2, CooldownMinutes: 1}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("AAPL", "e2")
	if b.Allowed() {
		t.Fatal("should be tripped")
	}

	b.mu.Lock()
	b.trippedAt = time.Now().Add(-2 * time.Minute)
	b.mu.Unlock()

	if !b.Allowed() {
		t.Error("should auto-reset once the cooldown has elapsed")
	}
	if b.TripReason() != "" {
		t.Error("expected trip reason cleared after auto-reset")
	}
}

func TestBreaker_NoCooldownStaysTripped(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 2, CooldownMinutes: 0}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("AAPL", "e2")
	if b.Allowed() {
		t.Fatal("should be tripped")
	}

	b.mu.Lock()
	b.trippedAt = time.Now().Add(-time.Hour)
	b.mu.Unlock()

	if b.Allowed() {
		t.Error("should stay tripped with CooldownMinutes=0 (manual reset required)")
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 2}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("AAPL", "e2")
	if b.Allowed() {
		t.Fatal("should be tripped")
	}

	b.Reset()
	if !b.Allowed() {
		t.Error("should allow entries after manual reset")
	}
	if b.TripReason() != "" {
		t.Error("trip reason should be empty after reset")
	}
}

func TestBreaker_DisabledWhenThresholdsAreZero(t *testing.T) {
	b := New(config.RiskGuardConfig{}, guardLogger())

	for i := 0; i < 100; i++ {
		b.RecordStorageError("AAPL", "e")
	}
	if !b.Allowed() {
		t.Error("should never trip when all thresholds are 0 (disabled)")
	}
}

func TestBreaker_HourlyPruning(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxFailuresPerHour: 3}, guardLogger())

	b.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	b.hourlyFailures = append(b.hourlyFailures, past, past)
	b.mu.Unlock()

	b.RecordStorageError("AAPL", "recent 1")
	b.RecordSuccess()
	b.RecordStorageError("AAPL", "recent 2")

	if !b.Allowed() {
		t.Error("should not trip — stale failures older than 1 hour must be pruned (2 recent < 3)")
	}
}

func TestBreaker_AlreadyTrippedIgnoresFurtherFailures(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 2}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("AAPL", "e2")
	reason := b.TripReason()

	b.RecordStorageError("AAPL", "e3")
	b.RecordStorageError("AAPL", "e4")

	if b.TripReason() != reason {
		t.Error("trip reason should not change once already tripped")
	}
}

func TestBreaker_SeparateSymbolsShareOneBreaker(t *testing.T) {
	b := New(config.RiskGuardConfig{MaxConsecutiveFailures: 2}, guardLogger())

	b.RecordStorageError("AAPL", "e1")
	b.RecordStorageError("MSFT", "e2")
	if b.Allowed() {
		t.Error("expected the shared breaker to trip across symbols, since it guards the whole loop's I/O path")
	}
}
