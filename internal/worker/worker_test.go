package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakePipeline) Grade(ctx context.Context, task *models.Task) (*services.GradeOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &services.GradeOutcome{
		Report:    &models.EssayReport{OriginalText: "I has a dream"},
		PDF:       []byte("%PDF-1.4"),
		ReportKey: services.ResultKey(task.ID),
		PDFKey:    services.PDFKey(task.ID),
		Attempts:  1,
		Timing:    models.Timing{JSONGenerationSeconds: 1, PDFGenerationSeconds: 0.5, TotalSeconds: 1.5},
	}, nil
}

type fakeRefunder struct {
	mu      sync.Mutex
	refunds map[int64]int
}

func (f *fakeRefunder) Refund(_ context.Context, userID int64, amount int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refunds == nil {
		f.refunds = map[int64]int{}
	}
	f.refunds[userID] += amount
	return f.refunds[userID], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) SendReportReady(to, taskID string, _ *models.EssayReport, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+taskID)
	return nil
}

func (f *fakeNotifier) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeTimings struct {
	statuses []models.TaskStatus
}

func (f *fakeTimings) WriteGradingTimings(_ context.Context, task *models.Task) error {
	f.statuses = append(f.statuses, task.Status)
	return nil
}

func newQueuedTask(t *testing.T, store services.TaskStore, userID int64, charged int) *models.Task {
	t.Helper()
	task := services.NewTask(userID, "")
	task.PointsCharged = charged
	task.NotifyEmail = "student@example.com"
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func TestHandleJob_Completes(t *testing.T) {
	store := services.NewTaskService()
	notifier := &fakeNotifier{}
	timings := &fakeTimings{}
	w := New(queue.NewMemoryQueue(1), store, &fakePipeline{}, WithNotifier(notifier), WithTimings(timings))

	task := newQueuedTask(t, store, 0, 0)
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(task.ID)))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, "I has a dream", got.OriginalText)
	assert.Equal(t, services.PDFKey(task.ID), got.PDFKey)
	require.NotNil(t, got.Timing)
	assert.Equal(t, 1.5, got.Timing.TotalSeconds)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, []string{"student@example.com:" + task.ID}, notifier.sent)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusCompleted}, timings.statuses)
}

func TestHandleJob_SkipsDuplicates(t *testing.T) {
	store := services.NewTaskService()
	pipeline := &fakePipeline{}
	w := New(queue.NewMemoryQueue(1), store, pipeline)

	task := newQueuedTask(t, store, 0, 0)
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(task.ID)))
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(task.ID)))
	assert.Equal(t, 1, pipeline.calls)

	claimed := newQueuedTask(t, store, 0, 0)
	_, err := store.Transition(context.Background(), claimed.ID, models.TaskStatusProcessing, services.TaskUpdate{})
	require.NoError(t, err)
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(claimed.ID)))
	assert.Equal(t, 1, pipeline.calls)

	assert.NoError(t, w.HandleJob(context.Background(), queue.NewJob("unknown")))
}

func TestHandleJob_FailureRefunds(t *testing.T) {
	store := services.NewTaskService()
	refunder := &fakeRefunder{}
	timings := &fakeTimings{}
	w := New(queue.NewMemoryQueue(1), store, &fakePipeline{err: errors.New("grading failed: boom")},
		WithRefunder(refunder), WithTimings(timings))

	task := newQueuedTask(t, store, 9, 10)
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(task.ID)))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "grading failed: boom", got.Error)
	assert.Equal(t, 10, refunder.refunds[9])
	assert.Equal(t, []models.TaskStatus{models.TaskStatusFailed}, timings.statuses)
}

func TestHandleJob_Timeout(t *testing.T) {
	store := services.NewTaskService()
	w := New(queue.NewMemoryQueue(1), store, &fakePipeline{block: true}, WithTimeout(20*time.Millisecond))

	task := newQueuedTask(t, store, 0, 0)
	require.NoError(t, w.HandleJob(context.Background(), queue.NewJob(task.ID)))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "task timed out after 20ms", got.Error)
}

func TestRun_DrainsQueue(t *testing.T) {
	store := services.NewTaskService()
	q := queue.NewMemoryQueue(8)
	w := New(q, store, &fakePipeline{}, WithConcurrency(3))

	var ids []string
	for i := 0; i < 5; i++ {
		task := newQueuedTask(t, store, 0, 0)
		ids = append(ids, task.ID)
		require.NoError(t, q.Publish(context.Background(), queue.NewJob(task.ID)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			task, err := store.Get(context.Background(), id)
			if err != nil || task.Status != models.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
