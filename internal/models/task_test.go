package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(TaskStatusQueued, TaskStatusProcessing))
	assert.True(t, CanTransition(TaskStatusQueued, TaskStatusFailed))
	assert.True(t, CanTransition(TaskStatusProcessing, TaskStatusCompleted))
	assert.True(t, CanTransition(TaskStatusProcessing, TaskStatusFailed))

	assert.False(t, CanTransition(TaskStatusQueued, TaskStatusCompleted))
	assert.False(t, CanTransition(TaskStatusProcessing, TaskStatusQueued))
	assert.False(t, CanTransition(TaskStatusProcessing, TaskStatusProcessing))
	assert.False(t, CanTransition(TaskStatusCompleted, TaskStatusFailed))
	assert.False(t, CanTransition(TaskStatusFailed, TaskStatusProcessing))
}

func TestSourcesFor(t *testing.T) {
	assert.Equal(t, []TaskStatus{TaskStatusQueued, TaskStatusProcessing}, SourcesFor(TaskStatusFailed))
	assert.Equal(t, []TaskStatus{TaskStatusProcessing}, SourcesFor(TaskStatusCompleted))
	assert.Empty(t, SourcesFor(TaskStatusQueued))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, TaskStatusQueued.Progress())
	assert.Equal(t, 50, TaskStatusProcessing.Progress())
	assert.Equal(t, 100, TaskStatusCompleted.Progress())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
}
