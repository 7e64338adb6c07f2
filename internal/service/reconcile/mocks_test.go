package reconcile_test

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/provider"
	"github.com/pixelrise/enhance-api/internal/store"
)

// memoryTaskStore is an in-memory store.TaskStore whose conditional writes
// have real compare-and-swap semantics under a mutex, so racing callers
// behave as they would against the database.
type memoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	completeCalls int
	failCalls     int

	listErr     error
	completeErr error
	failErr     error
}

func newMemoryTaskStore() *memoryTaskStore {
	return &memoryTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (m *memoryTaskStore) put(task *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.ID] = &copied
}

func (m *memoryTaskStore) get(id uuid.UUID) *domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		copied := *t
		return &copied
	}
	return nil
}

func (m *memoryTaskStore) Create(ctx context.Context, task *domain.Task) error {
	m.put(task)
	return nil
}

func (m *memoryTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if t := m.get(id); t != nil {
		return t, nil
	}
	return nil, store.ErrTaskNotFound
}

func (m *memoryTaskStore) AttachProviderJob(
	ctx context.Context,
	id uuid.UUID,
	providerJobID string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing {
		return store.ErrTaskNotFound
	}
	t.ProviderJobID = &providerJobID
	return nil
}

func (m *memoryTaskStore) ListProcessing(
	ctx context.Context,
	limit int,
) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var processing []*domain.Task
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusProcessing {
			copied := *t
			processing = append(processing, &copied)
		}
	}
	sort.Slice(processing, func(i, j int) bool {
		return processing[i].CreatedAt.Before(processing[j].CreatedAt)
	})
	if len(processing) > limit {
		processing = processing[:limit]
	}
	return processing, nil
}

func (m *memoryTaskStore) CompleteIfProcessing(
	ctx context.Context,
	id uuid.UUID,
	outputs []domain.MediaItem,
	processingMS int64,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completeCalls++
	if m.completeErr != nil {
		return false, m.completeErr
	}

	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing {
		return false, nil
	}
	t.Status = domain.TaskStatusCompleted
	t.Outputs = outputs
	t.ProcessingMS = processingMS
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryTaskStore) FailIfProcessing(
	ctx context.Context,
	id uuid.UUID,
	reason string,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failCalls++
	if m.failErr != nil {
		return false, m.failErr
	}

	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing {
		return false, nil
	}
	t.Status = domain.TaskStatusFailed
	t.FailureReason = reason
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}

// mockProvider returns a canned status, optionally per job ID.
type mockProvider struct {
	mu     sync.Mutex
	status provider.JobStatus
	byJob  map[string]provider.JobStatus
	calls  int
}

func (p *mockProvider) CheckOnce(
	ctx context.Context,
	providerJobID string,
	expectedOutputKeys []string,
) provider.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if s, ok := p.byJob[providerJobID]; ok {
		return s
	}
	return p.status
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// mockLedger records debits per task ID.
type mockLedger struct {
	mu     sync.Mutex
	debits map[uuid.UUID][]int
	err    error
}

func newMockLedger() *mockLedger {
	return &mockLedger{debits: make(map[uuid.UUID][]int)}
}

func (l *mockLedger) Debit(
	ctx context.Context,
	userID uuid.UUID,
	amount int,
	taskID uuid.UUID,
	memo string,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debits[taskID] = append(l.debits[taskID], amount)
	return l.err
}

func (l *mockLedger) debitsFor(taskID uuid.UUID) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.debits[taskID]...)
}
