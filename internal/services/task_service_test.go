package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"essay-grader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewTaskService()

	task := NewTask(7, "write a letter")
	task.Images = []string{"uploads/x/1_a.png"}
	require.NoError(t, store.Create(ctx, task))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, got.Status)
	assert.Equal(t, "write a letter", got.Context)

	got, err = store.Transition(ctx, task.ID, models.TaskStatusProcessing, TaskUpdate{})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	report := &models.EssayReport{OriginalText: "hello"}
	got, err = store.Transition(ctx, task.ID, models.TaskStatusCompleted, TaskUpdate{
		Report: report, OriginalText: "hello", PDFKey: PDFKey(task.ID), Attempts: 2,
		Timing: &models.Timing{TotalSeconds: 3.5},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "hello", got.OriginalText)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 3.5, got.Timing.TotalSeconds)
}

func TestTaskService_RejectsBackwardTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewTaskService()
	task := NewTask(0, "")
	require.NoError(t, store.Create(ctx, task))

	_, err := store.Transition(ctx, task.ID, models.TaskStatusCompleted, TaskUpdate{})
	var invalid *models.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, models.TaskStatusQueued, invalid.From)

	_, err = store.Transition(ctx, task.ID, models.TaskStatusFailed, TaskUpdate{Error: "boom"})
	require.NoError(t, err)

	_, err = store.Transition(ctx, task.ID, models.TaskStatusProcessing, TaskUpdate{})
	assert.True(t, errors.As(err, &invalid))

	got, _ := store.Get(ctx, task.ID)
	assert.Equal(t, "boom", got.Error)
}

func TestTaskService_OnlyOneClaimWins(t *testing.T) {
	ctx := context.Background()
	store := NewTaskService()
	task := NewTask(0, "")
	require.NoError(t, store.Create(ctx, task))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Transition(ctx, task.ID, models.TaskStatusProcessing, TaskUpdate{}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestTaskService_GetMissing(t *testing.T) {
	_, err := NewTaskService().Get(context.Background(), "missing")
	var nf *models.TaskNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.EqualError(t, err, "task not found: missing")
}

func TestTaskService_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewTaskService()
	task := NewTask(0, "")
	require.NoError(t, store.Create(ctx, task))

	got, _ := store.Get(ctx, task.ID)
	got.Status = models.TaskStatusCompleted

	again, _ := store.Get(ctx, task.ID)
	assert.Equal(t, models.TaskStatusQueued, again.Status)
}

func TestTaskService_ListByUserAndStale(t *testing.T) {
	ctx := context.Background()
	store := NewTaskService()

	old := NewTask(1, "")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	recent := NewTask(1, "")
	other := NewTask(2, "")
	for _, task := range []*models.Task{old, recent, other} {
		require.NoError(t, store.Create(ctx, task))
	}

	list, err := store.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID)

	list, _ = store.ListByUser(ctx, 1, 1)
	assert.Len(t, list, 1)

	stale, err := store.ListStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
