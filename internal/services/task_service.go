package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/utils"
)

// TaskStore persists grading tasks. Transition must apply the forward-only
// status rule atomically so two workers can never both claim a task.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
	Transition(ctx context.Context, taskID string, to models.TaskStatus, update TaskUpdate) (*models.Task, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Task, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.Task, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// TaskUpdate holds the fields a status transition may set. Zero values are left untouched.
type TaskUpdate struct {
	Report       *models.EssayReport
	OriginalText string
	ReportKey    string
	PDFKey       string
	Error        string
	Attempts     int
	Timing       *models.Timing
}

// Apply copies the non-zero fields of u onto task and stamps the new status
func (u TaskUpdate) Apply(task *models.Task, to models.TaskStatus, now time.Time) {
	task.Status = to
	task.UpdatedAt = now
	if to.IsTerminal() {
		task.CompletedAt = &now
	}
	if u.Report != nil {
		task.Report = u.Report
	}
	if u.OriginalText != "" {
		task.OriginalText = u.OriginalText
	}
	if u.ReportKey != "" {
		task.ReportKey = u.ReportKey
	}
	if u.PDFKey != "" {
		task.PDFKey = u.PDFKey
	}
	if u.Error != "" {
		task.Error = u.Error
	}
	if u.Attempts != 0 {
		task.Attempts = u.Attempts
	}
	if u.Timing != nil {
		task.Timing = u.Timing
	}
}

// NewTask builds a queued task with a fresh id
func NewTask(userID int64, context string) *models.Task {
	now := time.Now().UTC()
	return &models.Task{
		ID:        utils.GenerateUUID(),
		UserID:    userID,
		Context:   context,
		Status:    models.TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TaskService keeps tasks in memory. It backs tests, the CLI and the
// single-process memory deployment.
type TaskService struct {
	tasks map[string]*models.Task
	mutex sync.RWMutex
}

// NewTaskService creates a new in-memory task store
func NewTaskService() *TaskService {
	return &TaskService{
		tasks: make(map[string]*models.Task),
	}
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.Images = append([]string(nil), t.Images...)
	return &c
}

// Create stores a new task
func (s *TaskService) Create(ctx context.Context, task *models.Task) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get retrieves a task by ID
func (s *TaskService) Get(ctx context.Context, taskID string) (*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, &models.TaskNotFoundError{TaskID: taskID}
	}
	return cloneTask(task), nil
}

// Transition moves a task to a new status if the move is forward
func (s *TaskService) Transition(ctx context.Context, taskID string, to models.TaskStatus, update TaskUpdate) (*models.Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, &models.TaskNotFoundError{TaskID: taskID}
	}
	if !models.CanTransition(task.Status, to) {
		return nil, &models.InvalidTransitionError{TaskID: taskID, From: task.Status, To: to}
	}

	update.Apply(task, to, time.Now().UTC())
	return cloneTask(task), nil
}

// ListByUser returns a user's tasks, newest first
func (s *TaskService) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if task.UserID == userID {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListStale returns unfinished tasks not updated since olderThan
func (s *TaskService) ListStale(ctx context.Context, olderThan time.Time) ([]*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if !task.Status.IsTerminal() && task.UpdatedAt.Before(olderThan) {
			out = append(out, cloneTask(task))
		}
	}
	return out, nil
}

// Ping always succeeds
func (s *TaskService) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *TaskService) Close(ctx context.Context) error { return nil }
