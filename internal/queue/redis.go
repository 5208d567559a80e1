package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const popTimeout = 2 * time.Second

// RedisQueue is a list-backed queue: LPUSH to publish, BRPOP to consume
type RedisQueue struct {
	client *redis.Client
	list   string
}

// NewRedisQueue uses list as the job list key
func NewRedisQueue(client *redis.Client, list string) *RedisQueue {
	return &RedisQueue{client: client, list: list}
}

// Publish appends the job to the list
func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		job.Trace = carrier
	}

	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.list, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", q.list, err)
	}
	return nil
}

// Consume pops jobs until ctx is cancelled. A pop that times out just loops.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, popTimeout, q.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("[QUEUE] redis pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP answers [list, value]
		if len(res) != 2 {
			continue
		}

		job, err := decodeJob([]byte(res[1]))
		if err != nil {
			log.WithError(err).Error("[QUEUE] dropping malformed job")
			continue
		}

		jobCtx := ctx
		if len(job.Trace) > 0 {
			jobCtx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(job.Trace))
		}
		if err := handler(jobCtx, job); err != nil {
			log.WithFields(log.Fields{"task_id": job.TaskID, "error": err.Error()}).Error("[QUEUE] job handler failed")
		}
	}
}

// Len returns the number of waiting jobs
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.list).Result()
}

// Close closes the redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
