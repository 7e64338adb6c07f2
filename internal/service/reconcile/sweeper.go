package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/store"
)

// TaskReconciler is the per-task reconciliation surface the sweep drives.
type TaskReconciler interface {
	Reconcile(ctx context.Context, task *domain.Task) (Outcome, error)
}

// SweepConfig bounds one sweep invocation.
type SweepConfig struct {
	// FetchLimit caps how many outstanding tasks one sweep touches.
	FetchLimit int

	// Concurrency is the wave size: how many tasks are reconciled at once.
	// Each wave completes before the next starts, bounding in-flight
	// provider queries.
	Concurrency int
}

// DefaultSweepConfig returns the documented design values.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		FetchLimit:  50,
		Concurrency: 10,
	}
}

// Summary aggregates the observed outcomes of one sweep.
type Summary struct {
	Scanned   int
	Completed int
	Failed    int
	Running   int
	Errors    int
	Elapsed   time.Duration
}

// Sweeper runs the reconciler over a bounded batch of outstanding tasks.
type Sweeper struct {
	tasks      store.TaskStore
	reconciler TaskReconciler
	cfg        SweepConfig
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	tasks store.TaskStore,
	reconciler TaskReconciler,
	cfg SweepConfig,
	log *slog.Logger,
) *Sweeper {
	if tasks == nil || reconciler == nil {
		// ALLOW-PANIC: Constructor enforcing required dependencies
		panic("sweeper dependencies cannot be nil")
	}

	if cfg.FetchLimit <= 0 || cfg.Concurrency <= 0 {
		cfg = DefaultSweepConfig()
	}

	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		tasks:      tasks,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     log.With(slog.String("component", "sweeper")),
	}
}

// Sweep fetches the oldest outstanding tasks and reconciles them in waves
// of cfg.Concurrency. A failure reconciling one task is counted and does
// not affect its siblings or abort the sweep; the task simply stays
// processing until the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	return s.SweepWith(ctx, s.cfg)
}

// SweepWith runs one sweep with per-call bounds. Fields that are zero or
// negative fall back to the configured values, so a partial override only
// tightens (or loosens) the bound it names.
func (s *Sweeper) SweepWith(ctx context.Context, cfg SweepConfig) (Summary, error) {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = s.cfg.FetchLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = s.cfg.Concurrency
	}

	start := time.Now()
	log := logger.FromContextOrDefault(ctx, s.logger)

	tasks, err := s.tasks.ListProcessing(ctx, cfg.FetchLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list processing tasks: %w", err)
	}

	summary := Summary{Scanned: len(tasks)}
	var mu sync.Mutex

	for offset := 0; offset < len(tasks); offset += cfg.Concurrency {
		end := offset + cfg.Concurrency
		if end > len(tasks) {
			end = len(tasks)
		}

		var wave errgroup.Group
		for _, task := range tasks[offset:end] {
			task := task
			wave.Go(func() error {
				outcome, err := s.reconcileOne(ctx, task)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					summary.Errors++
				case outcome == OutcomeCompleted:
					summary.Completed++
				case outcome == OutcomeFailed:
					summary.Failed++
				default:
					summary.Running++
				}
				return nil
			})
		}
		// Wait for the whole wave before starting the next one.
		_ = wave.Wait()
	}

	summary.Elapsed = time.Since(start)

	log.Info("sweep finished",
		slog.Int("scanned", summary.Scanned),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("running", summary.Running),
		slog.Int("errors", summary.Errors),
		slog.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

// reconcileOne isolates a single task's reconciliation, converting panics
// into counted errors so one bad record cannot take down the sweep.
func (s *Sweeper) reconcileOne(
	ctx context.Context,
	task *domain.Task,
) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic reconciling task",
				slog.String("task_id", task.ID.String()),
				slog.Any("panic", p))
			err = fmt.Errorf("panic reconciling task %s: %v", task.ID, p)
		}
	}()

	outcome, err = s.reconciler.Reconcile(ctx, task)
	if err != nil {
		s.logger.Error("failed to reconcile task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
	return outcome, err
}
