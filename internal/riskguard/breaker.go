// Package riskguard halts new trade entries after a run of StorageError
// failures, without killing the process. It is adapted from a generic
// trading circuit breaker: the thresholds and cooldown/auto-reset behavior
// are unchanged, but what trips it is narrowed to one error class.
//
// The trading loop's per-symbol tick is meant to be safe to re-run (§5:
// an I/O failure aborts the current tick atomically and the next tick
// retries from fresh ledger/Q-table state). A Breaker does not change that
// safety property — it only stops the loop from hammering a store that is
// repeatedly failing, by refusing new entries until either the cooldown
// elapses or an operator calls Reset.
package riskguard

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marketedge/qtrader/internal/config"
)

// Breaker monitors StorageError occurrences across ticks and halts new
// trade entries (BUY/SELL) when thresholds are breached. SELL-to-flatten
// during settlement is never blocked by a Breaker — callers that need an
// unconditional close should not consult it.
type Breaker struct {
	mu                  sync.Mutex
	cfg                 config.RiskGuardConfig
	consecutiveFailures int
	hourlyFailures      []time.Time
	tripped             bool
	trippedAt           time.Time
	tripReason          string
	logger              *log.Logger
}

// New creates a Breaker with the given thresholds. A nil logger falls back
// to the standard logger.
func New(cfg config.RiskGuardConfig, logger *log.Logger) *Breaker {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Breaker{cfg: cfg, logger: logger}
}

// RecordStorageError records one StorageError occurrence and trips the
// breaker if either threshold is breached. symbol and reason are used only
// for the log line.
func (b *Breaker) RecordStorageError(symbol, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		return
	}

	now := time.Now()
	b.consecutiveFailures++
	b.hourlyFailures = append(b.hourlyFailures, now)
	b.pruneHourlyFailuresLocked(now)

	if b.cfg.MaxConsecutiveFailures > 0 && b.consecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		b.tripLocked(fmt.Sprintf("consecutive StorageError count: %d >= %d (symbol=%s, last: %s)",
			b.consecutiveFailures, b.cfg.MaxConsecutiveFailures, symbol, reason))
		return
	}
	if b.cfg.MaxFailuresPerHour > 0 && len(b.hourlyFailures) >= b.cfg.MaxFailuresPerHour {
		b.tripLocked(fmt.Sprintf("hourly StorageError count: %d >= %d (symbol=%s, last: %s)",
			len(b.hourlyFailures), b.cfg.MaxFailuresPerHour, symbol, reason))
		return
	}

	b.logger.Printf("[riskguard] storage error recorded: symbol=%s reason=%s consecutive=%d hourly=%d",
		symbol, reason, b.consecutiveFailures, len(b.hourlyFailures))
}

// RecordSuccess resets the consecutive-failure counter after a tick
// completes without a StorageError. The hourly window is not reset.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// Allowed reports whether new trade entries (BUY/SELL originating from a
// policy decision, as opposed to settlement's forced close) may proceed.
// It auto-resets once the cooldown has elapsed since tripping.
func (b *Breaker) Allowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return true
	}
	if b.cfg.CooldownMinutes > 0 {
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if time.Since(b.trippedAt) >= cooldown {
			b.logger.Printf("[riskguard] cooldown expired (%.0f min), auto-resetting", cooldown.Minutes())
			b.resetLocked()
			return true
		}
	}
	return false
}

// TripReason returns why the breaker is tripped, or "" if it isn't.
func (b *Breaker) TripReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return ""
	}
	return b.tripReason
}

// Reset manually clears the tripped state and all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		b.logger.Printf("[riskguard] manually reset (was tripped: %s)", b.tripReason)
	}
	b.resetLocked()
}

func (b *Breaker) tripLocked(reason string) {
	b.tripped = true
	b.trippedAt = time.Now()
	b.tripReason = reason
	b.logger.Printf("[riskguard] TRIPPED: %s", reason)
}

func (b *Breaker) resetLocked() {
	b.tripped = false
	b.trippedAt = time.Time{}
	b.tripReason = ""
	b.consecutiveFailures = 0
	b.hourlyFailures = nil
}

func (b *Breaker) pruneHourlyFailuresLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(b.hourlyFailures) && b.hourlyFailures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.hourlyFailures = b.hourlyFailures[i:]
	}
}
