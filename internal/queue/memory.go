package queue

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrQueueClosed is returned by Publish after Close
var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is a buffered channel for single-process deployments and tests
type MemoryQueue struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue holding up to size pending jobs
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{jobs: make(chan Job, size), done: make(chan struct{})}
}

// Publish enqueues the job, blocking while the buffer is full
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume feeds jobs to handler until ctx is cancelled or the queue is closed
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case job := <-q.jobs:
			if err := handler(ctx, job); err != nil {
				log.WithFields(log.Fields{"task_id": job.TaskID, "error": err.Error()}).Error("[QUEUE] job handler failed")
			}
		}
	}
}

// Len returns the number of waiting jobs
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close stops consumers; pending jobs are dropped
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
