// Package scheduler runs the periodic game maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"investgame/internal/portfolio"

	"github.com/robfig/cron/v3"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	SnapshotAll(ctx context.Context) error
	SweepAll(ctx context.Context) []portfolio.Settlement
}

// Scheduler manages the cron tasks.
type Scheduler struct {
	Cron    *cron.Cron
	jobs    Jobs
	ctx     context.Context
	timeout time.Duration
}

// NewScheduler creates a scheduler with second-resolution cron specs.
// Jobs run with a deadline derived from ctx.
func NewScheduler(ctx context.Context, jobs Jobs) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		jobs:    jobs,
		ctx:     ctx,
		timeout: 30 * time.Second,
	}
}

// RegisterAll registers the snapshot and liquidation sweep jobs.
func (s *Scheduler) RegisterAll(snapshotCron, sweepCron string) error {
	if _, err := s.Cron.AddFunc(snapshotCron, s.SnapshotNow); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	if _, err := s.Cron.AddFunc(sweepCron, s.SweepNow); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[scheduler] started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

// SnapshotNow persists every account and the engine checkpoint.
func (s *Scheduler) SnapshotNow() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if err := s.jobs.SnapshotAll(ctx); err != nil {
		log.Printf("[scheduler] snapshot: %v", err)
		return
	}
	log.Println("[scheduler] snapshot saved")
}

// SweepNow liquidates eligible positions at the last known prices.
func (s *Scheduler) SweepNow() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if sts := s.jobs.SweepAll(ctx); len(sts) > 0 {
		log.Printf("[scheduler] sweep liquidated %d positions", len(sts))
	}
}
