package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"essay-grader/internal/config"

	"github.com/redis/go-redis/v9"
)

// Job is the queue message announcing a task ready for grading
type Job struct {
	TaskID     string            `json:"taskId"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Trace      map[string]string `json:"trace,omitempty"`
}

// Handler processes one job. Its error is logged by the queue; task failure
// bookkeeping belongs to the caller.
type Handler func(ctx context.Context, job Job) error

// Queue carries jobs from the API to the workers
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume blocks, feeding jobs to handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// NewJob stamps a job for taskID
func NewJob(taskID string) Job {
	return Job{TaskID: taskID, EnqueuedAt: time.Now().UTC()}
}

func encodeJob(job Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.TaskID == "" {
		return Job{}, fmt.Errorf("decode job: missing taskId")
	}
	return job, nil
}

// NewRedisClient connects to Redis and verifies it answers
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// New builds the queue selected by cfg.Backend
func New(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "redis":
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return NewRedisQueue(client, cfg.RedisList), nil
	case "kafka":
		return NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID), nil
	case "memory":
		return NewMemoryQueue(256), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
