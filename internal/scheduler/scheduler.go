// Package scheduler manages the system's job lifecycle.
//
// Job schedule:
//
// Tick jobs (most important): drive one tradingloop.Engine.RunTick per
// watched symbol on a five-minute cadence during market hours.
//
// Nightly jobs: run end-of-session settlement, persist Q-tables, roll the
// decision log forward.
//
// Weekly jobs:
//   - Rebuild the watched-symbol universe
//   - Refresh fundamentals (if used)
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/marketedge/qtrader/internal/market"
)

// JobType categorizes when a job should run.
type JobType string

const (
	// JobTypeTick runs on the five-minute trading cadence, during market
	// hours only. This replaces the teacher's MARKET_HOUR category: the
	// agent has a single per-symbol decision path (tradingloop.Engine.RunTick)
	// rather than distinct "monitor" and "execute" jobs.
	JobTypeTick    JobType = "TICK"
	JobTypeNightly JobType = "NIGHTLY"
	JobTypeWeekly  JobType = "WEEKLY"
)

// Job represents a scheduled task.
type Job struct {
	Name     string
	Type     JobType
	RunFunc  func(ctx context.Context) error
}

// Scheduler manages and executes jobs based on market state.
type Scheduler struct {
	calendar *market.Calendar
	jobs     []Job
	logger   *log.Logger
}

// New creates a new scheduler.
func New(calendar *market.Calendar, logger *log.Logger) *Scheduler {
	return &Scheduler{
		calendar: calendar,
		logger:   logger,
	}
}

// RegisterJob adds a job to the scheduler.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Printf("[scheduler] registered job: %s (type: %s)", job.Name, job.Type)
}

// RunNightlyJobs executes all nightly jobs in sequence.
// These run after market close, typically around 6–8 PM IST.
func (s *Scheduler) RunNightlyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting nightly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeNightly {
			continue
		}

		s.logger.Printf("[scheduler] running nightly job: %s", job.Name)
		start := time.Now()

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED nightly job %s: %v", job.Name, err)
			return fmt.Errorf("nightly job %s failed: %w", job.Name, err)
		}

		s.logger.Printf("[scheduler] completed nightly job %s in %v", job.Name, time.Since(start))
	}

	s.logger.Println("[scheduler] nightly job cycle complete")
	return nil
}

// RunTickJobs executes tick jobs: one RunTick per watched symbol, on the
// five-minute cadence, gated on market hours.
func (s *Scheduler) RunTickJobs(ctx context.Context) error {
	now := time.Now()

	if !s.calendar.IsMarketOpen(now) {
		s.logger.Println("[scheduler] market is closed, skipping tick jobs")
		return nil
	}

	return s.runTickJobs(ctx)
}

// ForceRunTickJobs runs tick jobs without checking whether the market is
// currently open. Used for the `--force` CLI flag and for integration
// tests that need to exercise the full pipeline outside market hours.
func (s *Scheduler) ForceRunTickJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] force-running tick jobs (calendar check skipped)")
	return s.runTickJobs(ctx)
}

func (s *Scheduler) runTickJobs(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Type != JobTypeTick {
			continue
		}

		s.logger.Printf("[scheduler] running tick job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED tick job %s: %v", job.Name, err)
			// A single symbol's tick failing (riskguard-tripped storage
			// error) doesn't stop the other symbols' ticks this cycle.
		}
	}

	return nil
}

// RunWeeklyJobs executes weekly maintenance jobs.
// These typically run on weekends.
func (s *Scheduler) RunWeeklyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting weekly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeWeekly {
			continue
		}

		s.logger.Printf("[scheduler] running weekly job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED weekly job %s: %v", job.Name, err)
			return fmt.Errorf("weekly job %s failed: %w", job.Name, err)
		}
	}

	s.logger.Println("[scheduler] weekly job cycle complete")
	return nil
}

// Status returns current market state information.
func (s *Scheduler) Status() string {
	now := time.Now()
	isOpen := s.calendar.IsMarketOpen(now)
	isTrading := s.calendar.IsTradingDay(now)
	nextSession := s.calendar.TimeUntilNextSession(now)

	status := fmt.Sprintf(
		"Market Status: open=%v trading_day=%v next_session_in=%v",
		isOpen, isTrading, nextSession.Round(time.Minute),
	)

	if reason := s.calendar.HolidayReason(now); reason != "" {
		status += fmt.Sprintf(" holiday=%s", reason)
	}

	return status
}
