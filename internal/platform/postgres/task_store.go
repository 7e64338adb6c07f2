package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/store"
)

// taskColumns is the column list shared by every task SELECT.
const taskColumns = `id, owner_id, status, provider_job_id, expected_output_keys,
	credits_to_debit, outputs, failure_reason, processing_ms, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
// It accepts a database connection or transaction that should be initialized
// and managed by the caller. If logger is nil, a default logger is used.
func NewPostgresTaskStore(db store.DBTX, log *slog.Logger) *PostgresTaskStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}

	if log == nil {
		log = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: log.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create persists a new task to the database.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	outputs, err := marshalOutputs(task.Outputs)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	expectedKeys, err := marshalKeys(task.ExpectedOutputKeys)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.Status,
		task.ProviderJobID,
		expectedKeys,
		task.CreditsToDebit,
		outputs,
		task.FailureReason,
		task.ProcessingMS,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// AttachProviderJob records the provider-assigned job ID on a task that is
// still processing.
func (s *PostgresTaskStore) AttachProviderJob(
	ctx context.Context,
	id uuid.UUID,
	providerJobID string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET provider_job_id = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		id, providerJobID, time.Now().UTC(), domain.TaskStatusProcessing)
	if err != nil {
		log.Error("failed to attach provider job",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// ListProcessing retrieves up to limit processing tasks, oldest first.
// Oldest-first ordering keeps long-stuck tasks from being starved by a
// flood of new submissions.
func (s *PostgresTaskStore) ListProcessing(
	ctx context.Context,
	limit int,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, domain.TaskStatusProcessing, limit)
	if err != nil {
		log.Error("failed to list processing tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// CompleteIfProcessing conditionally transitions the task to completed.
// The status predicate in the WHERE clause is the compare-and-swap: of all
// concurrent callers only the one whose UPDATE matches a row performs the
// transition, and only that caller sees applied=true.
func (s *PostgresTaskStore) CompleteIfProcessing(
	ctx context.Context,
	id uuid.UUID,
	outputs []domain.MediaItem,
	processingMS int64,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	encoded, err := marshalOutputs(outputs)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks
		SET status = $2, outputs = $3, processing_ms = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.TaskStatusCompleted,
		encoded,
		processingMS,
		time.Now().UTC(),
		domain.TaskStatusProcessing,
	)
	if err != nil {
		log.Error("failed to complete task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return false, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// FailIfProcessing conditionally transitions the task to failed with the
// given reason, using the same status-gated UPDATE as CompleteIfProcessing.
func (s *PostgresTaskStore) FailIfProcessing(
	ctx context.Context,
	id uuid.UUID,
	reason string,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.TaskStatusFailed,
		reason,
		time.Now().UTC(),
		domain.TaskStatusProcessing,
	)
	if err != nil {
		log.Error("failed to fail task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return false, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task          domain.Task
		providerJobID sql.NullString
		expectedKeys  []byte
		outputs       []byte
	)

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Status,
		&providerJobID,
		&expectedKeys,
		&task.CreditsToDebit,
		&outputs,
		&task.FailureReason,
		&task.ProcessingMS,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if providerJobID.Valid {
		task.ProviderJobID = &providerJobID.String
	}

	if len(expectedKeys) > 0 {
		if err := json.Unmarshal(expectedKeys, &task.ExpectedOutputKeys); err != nil {
			return nil, fmt.Errorf("failed to decode expected output keys: %w", err)
		}
	}

	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &task.Outputs); err != nil {
			return nil, fmt.Errorf("failed to decode outputs: %w", err)
		}
	}

	return &task, nil
}

// marshalOutputs encodes outputs as JSONB, normalizing nil to an empty array
// so the column never stores SQL NULL.
func marshalOutputs(outputs []domain.MediaItem) ([]byte, error) {
	if outputs == nil {
		outputs = []domain.MediaItem{}
	}
	return json.Marshal(outputs)
}

// marshalKeys encodes expected output keys as JSONB.
func marshalKeys(keys []string) ([]byte, error) {
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal(keys)
}
