package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskOwnerIDEmpty is returned when a task's owner ID is empty or nil.
	ErrTaskOwnerIDEmpty = errors.New("task owner ID cannot be empty")

	// ErrTaskCreditsNegative is returned when a task's reserved credit amount is negative.
	ErrTaskCreditsNegative = errors.New("task credits to debit cannot be negative")

	// ErrTaskStatusInvalid is returned when a task carries an unknown status value.
	ErrTaskStatusInvalid = errors.New("task status is invalid")
)

// TaskStatus represents the lifecycle state of an enhancement task.
// The status is monotonic: once completed or failed it never changes again.
type TaskStatus string

// Possible task status values
const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// MediaKind classifies a produced output as an image or a video.
type MediaKind string

// Possible media kinds
const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaItem is one output produced by the render provider, normalized
// to a URL plus a coarse media classification.
type MediaItem struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Task represents one submitted enhancement job tracked by this service.
//
// A task is created in processing state by the submission flow, receives
// its ProviderJobID once the render provider accepts the job, and is moved
// to a terminal state exactly once by reconciliation. Outputs are populated
// only on completion; FailureReason only on failure.
type Task struct {
	ID      uuid.UUID  `json:"id"`
	OwnerID uuid.UUID  `json:"owner_id"`
	Status  TaskStatus `json:"status"`

	// ProviderJobID is assigned by the render provider once it accepts the
	// job. Nil means the job was never successfully handed off.
	ProviderJobID *string `json:"provider_job_id,omitempty"`

	// ExpectedOutputKeys identifies which of the provider's internal outputs
	// are the canonical result for multi-output workflows. May be empty.
	ExpectedOutputKeys []string `json:"expected_output_keys,omitempty"`

	// CreditsToDebit is the credit amount reserved at submission time,
	// charged exactly once when the task completes. Fixed at submission.
	CreditsToDebit int `json:"credits_to_debit"`

	Outputs       []MediaItem `json:"outputs,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`

	// ProcessingMS is the elapsed wall-clock duration in milliseconds from
	// creation to completion, recorded with the completion transition.
	ProcessingMS int64 `json:"processing_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a new Task for the given owner in processing state.
// It generates a new UUID for the task ID and sets the creation/update
// timestamps. Returns an error if validation fails.
func NewTask(ownerID uuid.UUID, creditsToDebit int, expectedOutputKeys []string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		Status:             TaskStatusProcessing,
		ExpectedOutputKeys: expectedOutputKeys,
		CreditsToDebit:     creditsToDebit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.OwnerID == uuid.Nil {
		return ErrTaskOwnerIDEmpty
	}

	if t.CreditsToDebit < 0 {
		return ErrTaskCreditsNegative
	}

	switch t.Status {
	case TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
	default:
		return ErrTaskStatusInvalid
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Age returns how long the task has existed relative to now.
// CreatedAt is immutable, so this is the basis for both the submission
// timeout and the maximum processing timeout.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
