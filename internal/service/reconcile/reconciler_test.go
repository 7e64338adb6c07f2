package reconcile_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/provider"
	"github.com/pixelrise/enhance-api/internal/service/reconcile"
)

// newProcessingTask builds a processing task created age ago, with an
// attached provider job unless withJob is false.
func newProcessingTask(t *testing.T, age time.Duration, withJob bool) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(uuid.New(), 150, nil)
	require.NoError(t, err)

	task.CreatedAt = time.Now().UTC().Add(-age)
	task.UpdatedAt = task.CreatedAt
	if withJob {
		jobID := "job-" + task.ID.String()
		task.ProviderJobID = &jobID
	}
	return task
}

func newReconciler(
	tasks *memoryTaskStore,
	prov *mockProvider,
	ledger *mockLedger,
) *reconcile.Reconciler {
	return reconcile.NewReconciler(tasks, prov, ledger, reconcile.DefaultConfig(), nil)
}

func TestReconcileSubmissionTimeout(t *testing.T) {
	t.Run("young task without job stays running", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		prov := &mockProvider{}
		task := newProcessingTask(t, 9*time.Minute, false)
		tasks.put(task)

		r := newReconciler(tasks, prov, newMockLedger())
		outcome, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeRunning, outcome)
		assert.Equal(t, domain.TaskStatusProcessing, tasks.get(task.ID).Status)
		assert.Zero(t, prov.callCount(), "provider must not be queried without a job id")
	})

	t.Run("stale task without job fails", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		prov := &mockProvider{}
		task := newProcessingTask(t, 11*time.Minute, false)
		tasks.put(task)

		r := newReconciler(tasks, prov, newMockLedger())
		outcome, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeFailed, outcome)

		stored := tasks.get(task.ID)
		assert.Equal(t, domain.TaskStatusFailed, stored.Status)
		assert.Equal(t, reconcile.ReasonSubmissionTimeout, stored.FailureReason)
		assert.Zero(t, prov.callCount())
	})
}

func TestReconcileProviderSuccess(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, 5*time.Minute, true)
	tasks.put(task)

	r := newReconciler(tasks, prov, ledger)
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, outcome)

	stored := tasks.get(task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.Equal(t, []domain.MediaItem{
		{URL: "https://cdn/x.png", Kind: domain.MediaKindImage},
	}, stored.Outputs)
	assert.InDelta(t, (5 * time.Minute).Milliseconds(), stored.ProcessingMS, 1000)

	assert.Equal(t, []int{150}, ledger.debitsFor(task.ID), "exactly one debit of 150")
}

func TestReconcileAtMostOnceDebit(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	tasks.put(task)

	r := newReconciler(tasks, prov, ledger)

	// N callers all observe provider-success for the same task at once.
	const callers = 25
	var wg sync.WaitGroup
	outcomes := make([]reconcile.Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot := *task
			outcome, err := r.Reconcile(context.Background(), &snapshot)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		assert.Equal(t, reconcile.OutcomeCompleted, outcome)
	}
	assert.Equal(t, []int{150}, ledger.debitsFor(task.ID),
		"losers must not debit")
	assert.Equal(t, domain.TaskStatusCompleted, tasks.get(task.ID).Status)
}

func TestReconcileLoserDoesNotDebit(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	tasks.put(task)

	// Another caller finalized the task between our provider query and
	// our conditional write.
	_, err := tasks.CompleteIfProcessing(context.Background(), task.ID,
		[]domain.MediaItem{{URL: "https://cdn/x.png", Kind: domain.MediaKindImage}}, 1)
	require.NoError(t, err)

	r := newReconciler(tasks, prov, ledger)
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, outcome)
	assert.Empty(t, ledger.debitsFor(task.ID))
}

func TestReconcileProviderFailure(t *testing.T) {
	t.Run("provider message passes through", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		prov := &mockProvider{status: provider.JobStatus{
			State:        provider.StateFailed,
			ErrorMessage: "out of GPU memory",
		}}
		task := newProcessingTask(t, time.Minute, true)
		tasks.put(task)

		r := newReconciler(tasks, prov, newMockLedger())
		outcome, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeFailed, outcome)
		assert.Equal(t, "out of GPU memory", tasks.get(task.ID).FailureReason)
	})

	t.Run("empty message falls back to generic reason", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		prov := &mockProvider{status: provider.JobStatus{State: provider.StateFailed}}
		task := newProcessingTask(t, time.Minute, true)
		tasks.put(task)

		r := newReconciler(tasks, prov, newMockLedger())
		_, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.ReasonUnspecified, tasks.get(task.ID).FailureReason)
	})
}

func TestReconcileMaxProcessingTimeout(t *testing.T) {
	stillRunning := &mockProvider{status: provider.JobStatus{State: provider.StateRunning}}

	t.Run("under the limit stays running", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		task := newProcessingTask(t, time.Hour+59*time.Minute, true)
		tasks.put(task)

		r := newReconciler(tasks, stillRunning, newMockLedger())
		outcome, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeRunning, outcome)
		assert.Equal(t, domain.TaskStatusProcessing, tasks.get(task.ID).Status)
	})

	t.Run("over the limit fails", func(t *testing.T) {
		tasks := newMemoryTaskStore()
		task := newProcessingTask(t, 2*time.Hour+time.Minute, true)
		tasks.put(task)

		r := newReconciler(tasks, stillRunning, newMockLedger())
		outcome, err := r.Reconcile(context.Background(), task)

		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeFailed, outcome)

		stored := tasks.get(task.ID)
		assert.Equal(t, domain.TaskStatusFailed, stored.Status)
		assert.Equal(t, reconcile.ReasonProcessingTimeout, stored.FailureReason)
	})
}

func TestReconcileLedgerFailureDoesNotUncomplete(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	ledger.err = assert.AnError
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	tasks.put(task)

	r := newReconciler(tasks, prov, ledger)
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err, "ledger failure must be swallowed")
	assert.Equal(t, reconcile.OutcomeCompleted, outcome)
	assert.Equal(t, domain.TaskStatusCompleted, tasks.get(task.ID).Status)
	assert.Len(t, ledger.debitsFor(task.ID), 1)
}

func TestReconcileZeroCreditsSkipsLedger(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	task.CreditsToDebit = 0
	tasks.put(task)

	r := newReconciler(tasks, prov, ledger)
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, outcome)
	assert.Empty(t, ledger.debitsFor(task.ID))
}

func TestReconcileSuccessWithoutUsableOutputs(t *testing.T) {
	tasks := newMemoryTaskStore()
	ledger := newMockLedger()
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`[]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	tasks.put(task)

	r := newReconciler(tasks, prov, ledger)
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeFailed, outcome)
	assert.Equal(t, reconcile.ReasonNoUsableOutputs, tasks.get(task.ID).FailureReason)
	assert.Empty(t, ledger.debitsFor(task.ID))
}

func TestReconcileTerminalTaskIsUntouched(t *testing.T) {
	tasks := newMemoryTaskStore()
	prov := &mockProvider{}
	task := newProcessingTask(t, time.Minute, true)
	task.Status = domain.TaskStatusCompleted
	task.Outputs = []domain.MediaItem{{URL: "https://cdn/x.png", Kind: domain.MediaKindImage}}
	tasks.put(task)

	r := newReconciler(tasks, prov, newMockLedger())
	outcome, err := r.Reconcile(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, outcome)
	assert.Zero(t, prov.callCount())
	assert.Zero(t, tasks.completeCalls)
	assert.Zero(t, tasks.failCalls)
}

func TestReconcileStoreErrorSurfaces(t *testing.T) {
	tasks := newMemoryTaskStore()
	tasks.completeErr = assert.AnError
	prov := &mockProvider{status: provider.JobStatus{
		State:   provider.StateSuccess,
		Outputs: json.RawMessage(`["https://cdn/x.png"]`),
	}}

	task := newProcessingTask(t, time.Minute, true)
	tasks.put(task)

	r := newReconciler(tasks, prov, newMockLedger())
	_, err := r.Reconcile(context.Background(), task)
	assert.Error(t, err)
}
