package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/domain"
)

// TaskStore defines the interface for task persistence.
//
// The two *IfProcessing methods are the only way a task ever leaves the
// processing state. Each is a single conditional write whose precondition
// is "status is still processing" at write time; the returned applied flag
// tells the caller whether it performed the transition or lost the race to
// another caller (possibly in a different process). This compare-and-swap
// at the storage layer is the sole concurrency-control primitive for task
// finalization — there is no application-level lock.
// Version: 1.0
type TaskStore interface {
	// Create persists a new task. The task must be valid according to
	// domain validation rules.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// AttachProviderJob records the provider-assigned job ID on a task that
	// is still processing. Used by the submission flow once the render
	// provider accepts the job.
	// Returns ErrTaskNotFound if no processing task with that ID exists.
	AttachProviderJob(ctx context.Context, id uuid.UUID, providerJobID string) error

	// ListProcessing retrieves up to limit tasks in processing state,
	// ordered by created_at ascending so the oldest outstanding tasks are
	// reconciled first.
	ListProcessing(ctx context.Context, limit int) ([]*domain.Task, error)

	// CompleteIfProcessing conditionally transitions the task to completed,
	// recording its outputs and elapsed processing duration. The write only
	// takes effect if the stored status is still processing.
	// Returns true if this call performed the transition.
	CompleteIfProcessing(
		ctx context.Context,
		id uuid.UUID,
		outputs []domain.MediaItem,
		processingMS int64,
	) (bool, error)

	// FailIfProcessing conditionally transitions the task to failed with
	// the given reason, gated on the stored status still being processing.
	// Returns true if this call performed the transition.
	FailIfProcessing(ctx context.Context, id uuid.UUID, reason string) (bool, error)

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction. The transaction should be created and managed by the
	// caller, typically via RunInTransaction.
	WithTx(tx *sql.Tx) TaskStore
}
