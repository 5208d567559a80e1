package worker

import (
	"context"
	"testing"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/models"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCollaborators(t *testing.T) {
	cfg := &config.Config{}
	c, closeFn := LoadCollaborators(context.Background(), cfg, "qwen-vl-max", nil, nil)
	defer closeFn()
	assert.Nil(t, c.Notifier)
	assert.Nil(t, c.Timings)
	assert.Nil(t, c.Refunder)

	cfg.Email = config.EmailConfig{APIKey: "SG.test", FromEmail: "noreply@example.com"}
	refunder := &fakeRefunder{}
	c, closeFn = LoadCollaborators(context.Background(), cfg, "qwen-vl-max", nil, refunder)
	defer closeFn()
	assert.IsType(t, &services.EmailService{}, c.Notifier)
	assert.Same(t, refunder, c.Refunder)
}

func TestRuntime_MemoryQueue(t *testing.T) {
	store := services.NewTaskService()
	q := queue.NewMemoryQueue(4)
	notifier := &fakeNotifier{}
	timings := &fakeTimings{}
	refunder := &fakeRefunder{}

	rt := NewRuntime(q, store, &fakePipeline{}, config.WorkerConfig{
		Concurrency:   1,
		TaskTimeout:   time.Minute,
		SweepSchedule: "@every 1h",
		StaleAfter:    30 * time.Minute,
	}, Collaborators{Notifier: notifier, Timings: timings, Refunder: refunder})

	task := newQueuedTask(t, store, 0, 0)
	require.NoError(t, q.Publish(context.Background(), queue.NewJob(task.ID)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(notifier.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"student@example.com:" + task.ID}, notifier.Sent())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop")
	}

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusCompleted}, timings.statuses)

	// the sweeper shares the refunder
	assert.Same(t, refunder, rt.Sweeper.refunder)
}

func TestRuntime_BadSchedule(t *testing.T) {
	rt := NewRuntime(queue.NewMemoryQueue(1), services.NewTaskService(), &fakePipeline{},
		config.WorkerConfig{Concurrency: 1, SweepSchedule: "never"}, Collaborators{})
	assert.ErrorContains(t, rt.Run(context.Background()), "stale task sweep")
}
