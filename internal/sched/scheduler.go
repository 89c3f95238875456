// Package sched drives the two recurring jobs: the daily ledger reset just
// after midnight and the learning memory distillation run.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"promptloop/internal/budget"
	"promptloop/internal/config"
	"promptloop/internal/distill"
	"promptloop/internal/logging"
)

// Scheduler owns the cron runner. Job failures are logged and abandoned for
// the cycle; the retry cadence is simply the next firing.
type Scheduler struct {
	cfg       *config.SchedConfig
	allocator *budget.Allocator
	distiller *distill.Distiller

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates a scheduler over the allocator and distiller.
func NewScheduler(cfg *config.SchedConfig, a *budget.Allocator, d *distill.Distiller) *Scheduler {
	return &Scheduler{cfg: cfg, allocator: a, distiller: d}
}

// Start registers both jobs and begins firing them. The budget reset also
// runs once immediately so a freshly started process has today's ledger row.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	jobCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.ResetSpec, func() { s.runReset() }); err != nil {
		cancel()
		return fmt.Errorf("invalid reset spec %q: %w", s.cfg.ResetSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.DistillSpec, func() { s.runDistill(jobCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid distill spec %q: %w", s.cfg.DistillSpec, err)
	}

	s.runReset()

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true

	logging.Sched("Scheduler started: reset=%q distill=%q", s.cfg.ResetSpec, s.cfg.DistillSpec)
	return nil
}

// Stop cancels in-flight jobs and waits for the cron runner to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		logging.Get(logging.CategorySched).Warn("Timed out waiting for jobs to drain")
	}

	s.cron = nil
	s.cancel = nil
	s.running = false
	logging.Sched("Scheduler stopped")
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runReset() {
	if err := s.allocator.ResetDailyBudget(); err != nil {
		logging.Get(logging.CategorySched).Error("Daily budget reset failed: %v", err)
		return
	}
	logging.Sched("Daily budget reset completed")
}

func (s *Scheduler) runDistill(ctx context.Context) {
	text, err := s.distiller.DistillLearningMemory(ctx)
	if err != nil {
		logging.Get(logging.CategorySched).Error("Distillation failed: %v", err)
		return
	}
	if text == "" {
		logging.Sched("Distillation produced no memory this cycle")
		return
	}
	logging.Sched("Distillation completed (%d bytes)", len(text))
}
