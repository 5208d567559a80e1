package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"essay-grader/internal/logger"
	"essay-grader/internal/models"
	"essay-grader/internal/services"

	"github.com/dgraph-io/badger/v3"
	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

const (
	taskPrefix      = "task:"
	userPrefix      = "user:"
	conflictRetries = 3
)

var errStoreClosed = errors.New("database is closed")

// BadgerTaskStore keeps grading tasks in an embedded BadgerDB. A secondary
// user:<id>:<created>:<task> key indexes history lookups.
type BadgerTaskStore struct {
	db       *badger.DB
	hub      *sentry.Hub
	closed   bool
	mutex    sync.RWMutex
	cancelGC context.CancelFunc
}

// NewBadgerTaskStore opens the store at path. An empty path keeps everything in memory.
func NewBadgerTaskStore(path string, hub *sentry.Hub) (*BadgerTaskStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.ValueLogFileSize = 16 << 20
		opts.MemTableSize = 4 << 20
		opts.NumMemtables = 2
		opts.CompactL0OnClose = true
	}

	db, err := badger.Open(opts)
	if err != nil {
		logger.LogAndCapture(hub, err, "Failed to open badger database", map[string]interface{}{
			"path": path,
		})
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &BadgerTaskStore{db: db, hub: hub, cancelGC: cancel}
	if path != "" {
		go store.valueLogGCWorker(ctx)
	}

	log.WithField("path", path).Info("BadgerDB task store opened")
	return store, nil
}

func (s *BadgerTaskStore) valueLogGCWorker(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mutex.RLock()
			if s.closed {
				s.mutex.RUnlock()
				return
			}
			err := s.db.RunValueLogGC(0.7)
			s.mutex.RUnlock()
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				log.Warnf("ValueLog GC failed: %v", err)
			}
		}
	}
}

func taskKey(id string) []byte {
	return []byte(taskPrefix + id)
}

func userIndexKey(task *models.Task) []byte {
	// Zero-padded nanoseconds sort lexically in time order
	return []byte(fmt.Sprintf("%s%d:%020d:%s", userPrefix, task.UserID, task.CreatedAt.UnixNano(), task.ID))
}

func readTask(txn *badger.Txn, id string) (*models.Task, error) {
	item, err := txn.Get(taskKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &models.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	var task models.Task
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &task)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &task, nil
}

func writeTask(txn *badger.Txn, task *models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	return txn.Set(taskKey(task.ID), data)
}

// Create stores a new task and its user index entry
func (s *BadgerTaskStore) Create(ctx context.Context, task *models.Task) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := writeTask(txn, task); err != nil {
			return err
		}
		return txn.Set(userIndexKey(task), nil)
	})
	if err != nil {
		logger.LogAndCapture(s.hub, err, "Failed to insert task", map[string]interface{}{"task_id": task.ID})
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by ID
func (s *BadgerTaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}

	var task *models.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		task, err = readTask(txn, taskID)
		return err
	})
	return task, err
}

// Transition reads, checks and writes the task in one transaction. A
// transaction conflict means another writer got there first; the retry then
// sees its status and rejects the move.
func (s *BadgerTaskStore) Transition(ctx context.Context, taskID string, to models.TaskStatus, update services.TaskUpdate) (*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}

	var result *models.Task
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			task, err := readTask(txn, taskID)
			if err != nil {
				return err
			}
			if !models.CanTransition(task.Status, to) {
				return &models.InvalidTransitionError{TaskID: taskID, From: task.Status, To: to}
			}
			update.Apply(task, to, time.Now().UTC())
			result = task
			return writeTask(txn, task)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByUser walks the user index backwards so the newest tasks come first
func (s *BadgerTaskStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}

	prefix := []byte(fmt.Sprintf("%s%d:", userPrefix, userID))
	var tasks []*models.Task
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := string(key[bytes.LastIndexByte(key, ':')+1:])
			task, err := readTask(txn, id)
			if err != nil {
				return err
			}
			task.Report = nil
			tasks = append(tasks, task)
			if limit > 0 && len(tasks) >= limit {
				break
			}
		}
		return nil
	})
	return tasks, err
}

// ListStale scans unfinished tasks not updated since olderThan
func (s *BadgerTaskStore) ListStale(ctx context.Context, olderThan time.Time) ([]*models.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}

	var tasks []*models.Task
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(taskPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var task models.Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			}); err != nil {
				return err
			}
			if !task.Status.IsTerminal() && task.UpdatedAt.Before(olderThan) {
				task.Report = nil
				tasks = append(tasks, &task)
			}
		}
		return nil
	})
	return tasks, err
}

// Ping reports whether the store is open
func (s *BadgerTaskStore) Ping(ctx context.Context) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// Close stops the GC worker and closes the database
func (s *BadgerTaskStore) Close(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}

	s.closed = true
	s.cancelGC()
	if err := s.db.Close(); err != nil {
		logger.LogAndCapture(s.hub, err, "Failed to close BadgerDB")
		return err
	}
	log.Info("BadgerDB closed successfully")
	return nil
}
