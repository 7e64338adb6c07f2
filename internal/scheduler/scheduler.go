// Package scheduler runs the periodic reconciliation sweep inside the
// server process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/pixelrise/enhance-api/internal/service/reconcile"
)

// SweepFunc runs one bounded sweep.
type SweepFunc func(ctx context.Context) (reconcile.Summary, error)

// Scheduler triggers the sweep on a cron schedule. Ticks that arrive while
// a sweep is still running are skipped rather than queued, so a slow
// provider cannot pile up overlapping sweeps.
type Scheduler struct {
	cron   *cron.Cron
	sweep  SweepFunc
	logger *slog.Logger

	running sync.Mutex
}

// New creates a Scheduler that invokes sweep per the cron expression spec
// (standard five-field syntax).
func New(spec string, sweep SweepFunc, log *slog.Logger) (*Scheduler, error) {
	if sweep == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("sweep function cannot be nil")
	}

	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		cron:   cron.New(),
		sweep:  sweep,
		logger: log.With(slog.String("component", "scheduler")),
	}

	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	return s, nil
}

// Start begins firing scheduled sweeps. It returns immediately.
func (s *Scheduler) Start() {
	s.logger.Info("sweep scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	// An already-dispatched tick may still hold the lock.
	s.running.Lock()
	s.running.Unlock() //nolint:staticcheck // lock/unlock pair is the wait

	s.logger.Info("sweep scheduler stopped")
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		s.logger.Warn("previous sweep still running, skipping this tick")
		return
	}
	defer s.running.Unlock()

	if _, err := s.sweep(context.Background()); err != nil {
		s.logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
	}
}
