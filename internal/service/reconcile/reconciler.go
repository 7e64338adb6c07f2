package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/platform/provider"
	"github.com/pixelrise/enhance-api/internal/store"
)

// Outcome is the state a reconciliation pass observed for a task.
type Outcome string

// Possible reconciliation outcomes
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRunning   Outcome = "running"
)

// Synthetic failure reasons for the two timeout policies, plus fallbacks.
const (
	ReasonSubmissionTimeout = "timed out before starting"
	ReasonProcessingTimeout = "exceeded maximum processing time"
	ReasonNoUsableOutputs   = "provider returned no usable outputs"
	ReasonUnspecified       = "processing failed"
)

// ProviderClient is the status-query surface of the render provider.
type ProviderClient interface {
	// CheckOnce reports the current provider-side state of one job.
	// Implementations must map transient communication errors to
	// StateRunning, never StateFailed.
	CheckOnce(
		ctx context.Context,
		providerJobID string,
		expectedOutputKeys []string,
	) provider.JobStatus
}

// CreditLedger debits a user's prepaid balance.
type CreditLedger interface {
	Debit(
		ctx context.Context,
		userID uuid.UUID,
		amount int,
		taskID uuid.UUID,
		memo string,
	) error
}

// Config holds the reconciliation timeout policies.
type Config struct {
	// SubmissionTimeout fails a task that never received a provider job ID.
	SubmissionTimeout time.Duration

	// MaxProcessingTimeout fails a task the provider keeps reporting as
	// running.
	MaxProcessingTimeout time.Duration
}

// DefaultConfig returns the documented design values.
func DefaultConfig() Config {
	return Config{
		SubmissionTimeout:    10 * time.Minute,
		MaxProcessingTimeout: 2 * time.Hour,
	}
}

// Reconciler decides and applies the next state for one processing task.
type Reconciler struct {
	tasks    store.TaskStore
	provider ProviderClient
	ledger   CreditLedger
	cfg      Config
	logger   *slog.Logger

	// now is injectable for timeout tests.
	now func() time.Time
}

// NewReconciler creates a Reconciler. All dependencies are required except
// the logger, which defaults to the process logger.
func NewReconciler(
	tasks store.TaskStore,
	providerClient ProviderClient,
	ledger CreditLedger,
	cfg Config,
	log *slog.Logger,
) *Reconciler {
	if tasks == nil || providerClient == nil || ledger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependencies
		panic("reconciler dependencies cannot be nil")
	}

	if cfg.SubmissionTimeout <= 0 || cfg.MaxProcessingTimeout <= 0 {
		cfg = DefaultConfig()
	}

	if log == nil {
		log = slog.Default()
	}

	return &Reconciler{
		tasks:    tasks,
		provider: providerClient,
		ledger:   ledger,
		cfg:      cfg,
		logger:   log.With(slog.String("component", "reconciler")),
		now:      time.Now,
	}
}

// SetTimeFunc overrides the clock. Intended for tests.
func (r *Reconciler) SetTimeFunc(now func() time.Time) {
	r.now = now
}

// Reconcile runs one reconciliation pass for a task known to be in
// processing state and returns the state this pass observed. All necessary
// store writes are applied before it returns.
//
// The decision order:
//  1. No provider job ID: fail after the submission timeout, otherwise
//     leave running.
//  2. Query the provider.
//  3. Provider success: conditionally complete; the caller whose write is
//     accepted debits the credit ledger exactly once. A ledger failure is
//     logged and swallowed — the task stays completed.
//  4. Provider failure: conditionally fail with the provider's message.
//  5. Still running: fail after the maximum processing timeout, otherwise
//     leave running.
//
// Losing any conditional write means another caller finalized the task
// first; the loser takes no further action and reports the terminal state
// it observed.
func (r *Reconciler) Reconcile(ctx context.Context, task *domain.Task) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, r.logger).With(
		slog.String("task_id", task.ID.String()))

	if task.Status != domain.TaskStatusProcessing {
		return Outcome(task.Status), nil
	}

	now := r.now()

	if task.ProviderJobID == nil {
		if task.Age(now) > r.cfg.SubmissionTimeout {
			return r.fail(ctx, log, task, ReasonSubmissionTimeout)
		}
		return OutcomeRunning, nil
	}

	status := r.provider.CheckOnce(ctx, *task.ProviderJobID, task.ExpectedOutputKeys)

	switch status.State {
	case provider.StateSuccess:
		return r.complete(ctx, log, task, status, now)

	case provider.StateFailed:
		reason := status.ErrorMessage
		if reason == "" {
			reason = ReasonUnspecified
		}
		return r.fail(ctx, log, task, reason)

	default: // provider.StateRunning
		if task.Age(now) > r.cfg.MaxProcessingTimeout {
			return r.fail(ctx, log, task, ReasonProcessingTimeout)
		}
		return OutcomeRunning, nil
	}
}

// complete normalizes the provider's outputs and attempts the race-safe
// completion transition, debiting the ledger only if this caller won.
func (r *Reconciler) complete(
	ctx context.Context,
	log *slog.Logger,
	task *domain.Task,
	status provider.JobStatus,
	now time.Time,
) (Outcome, error) {
	outputs := provider.NormalizeOutputs(status.Outputs)
	if len(outputs) == 0 {
		// Completing with no outputs would leave a completed task with
		// nothing to show the user; treat it as a provider failure.
		log.Warn("provider reported success without usable outputs")
		return r.fail(ctx, log, task, ReasonNoUsableOutputs)
	}

	processingMS := task.Age(now).Milliseconds()

	applied, err := r.tasks.CompleteIfProcessing(ctx, task.ID, outputs, processingMS)
	if err != nil {
		return "", fmt.Errorf("failed to complete task: %w", err)
	}

	if !applied {
		// Another caller finalized the task first. It owns the debit.
		log.Debug("lost completion race, task already finalized")
		return OutcomeCompleted, nil
	}

	log.Info("task completed",
		slog.Int("output_count", len(outputs)),
		slog.Int64("processing_ms", processingMS))

	if task.CreditsToDebit > 0 {
		err := r.ledger.Debit(ctx, task.OwnerID, task.CreditsToDebit, task.ID,
			"image enhancement")
		if err != nil {
			// Deliberate policy: the user keeps their output even when the
			// billing call fails. Log and move on.
			log.Error("credit debit failed after completion",
				slog.Int("credits", task.CreditsToDebit),
				slog.String("error", err.Error()))
		}
	}

	return OutcomeCompleted, nil
}

// fail attempts the race-safe failure transition.
func (r *Reconciler) fail(
	ctx context.Context,
	log *slog.Logger,
	task *domain.Task,
	reason string,
) (Outcome, error) {
	applied, err := r.tasks.FailIfProcessing(ctx, task.ID, reason)
	if err != nil {
		return "", fmt.Errorf("failed to mark task failed: %w", err)
	}

	if applied {
		log.Info("task failed", slog.String("reason", reason))
	} else {
		log.Debug("lost failure race, task already finalized")
	}

	return OutcomeFailed, nil
}
