package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// HeaderCarrier adapts Kafka message headers to propagation.TextMapCarrier
type HeaderCarrier []kafka.Header

// Get returns the value for the first header matching key, or "".
func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set writes key/value, replacing any existing header with the same key.
func (c *HeaderCarrier) Set(key, value string) {
	filtered := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			filtered = append(filtered, h)
		}
	}
	*c = append(filtered, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys returns all header keys present in the carrier.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}

// KafkaQueue publishes jobs keyed by task id and consumes them through a consumer group
type KafkaQueue struct {
	brokers []string
	topic   string
	groupID string
	writer  *kafka.Writer

	retryBase time.Duration
	retryMax  time.Duration

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaQueue creates the writer; readers are created per Consume call
func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaQueue{
		brokers:   brokers,
		topic:     topic,
		groupID:   groupID,
		writer:    w,
		retryBase: time.Second,
		retryMax:  30 * time.Second,
	}
}

// Publish writes the job with the trace context in its headers
func (q *KafkaQueue) Publish(ctx context.Context, job Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(job.TaskID),
		Value:   data,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", q.topic, err)
	}
	return nil
}

func (q *KafkaQueue) newReader() *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        q.brokers,
		Topic:          q.topic,
		GroupID:        q.groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	q.mu.Lock()
	q.readers = append(q.readers, r)
	q.mu.Unlock()
	return r
}

// Consume joins the consumer group. Offsets are committed only after the
// handler returns nil. A failing handler is retried on the same message with
// backoff, since committing any later offset of the partition would skip it.
// If ctx ends first the offset stays uncommitted and the group redelivers the
// message.
func (q *KafkaQueue) Consume(ctx context.Context, handler Handler) error {
	reader := q.newReader()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		job, err := decodeJob(m.Value)
		if err != nil {
			log.WithError(err).WithField("offset", m.Offset).Error("[QUEUE] dropping malformed job")
			if err := reader.CommitMessages(ctx, m); err != nil {
				log.WithError(err).Warn("[QUEUE] failed to commit kafka offset")
			}
			continue
		}

		carrier := HeaderCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		handled := redeliver(msgCtx, handler, job, q.retryBase, q.retryMax, func(attempt int, err error) {
			log.WithFields(log.Fields{
				"task_id": job.TaskID,
				"offset":  m.Offset,
				"attempt": attempt,
				"error":   err.Error(),
			}).Error("[QUEUE] job handler failed, retrying before commit")
		})
		if !handled {
			return nil
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			log.WithFields(log.Fields{"offset": m.Offset, "error": err.Error()}).Error("[QUEUE] failed to commit kafka offset")
		}
	}
}

// redeliver runs handler until it succeeds, waiting base*n² (capped at
// maxDelay) after the nth failure. It returns false when ctx ends first.
func redeliver(ctx context.Context, handler Handler, job Job, base, maxDelay time.Duration, onFail func(attempt int, err error)) bool {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, job)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		onFail(attempt, err)

		delay := maxDelay
		if attempt < 32 {
			if d := base * time.Duration(attempt*attempt); d < maxDelay {
				delay = d
			}
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// Close closes the writer and every reader
func (q *KafkaQueue) Close() error {
	err := q.writer.Close()
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.readers {
		if rerr := r.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	q.readers = nil
	return err
}
