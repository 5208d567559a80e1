package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"essay-grader/internal/logger"
	"essay-grader/internal/models"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"
	"essay-grader/internal/telemetry"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pipeline grades one stored task
type Pipeline interface {
	Grade(ctx context.Context, task *models.Task) (*services.GradeOutcome, error)
}

// Notifier tells the submitter a report is ready
type Notifier interface {
	SendReportReady(to, taskID string, report *models.EssayReport, pdf []byte) error
}

// Refunder returns the points charged for a failed task
type Refunder interface {
	Refund(ctx context.Context, userID int64, amount int, description string) (int, error)
}

// TimingRecorder stores the stage timings of finished tasks
type TimingRecorder interface {
	WriteGradingTimings(ctx context.Context, task *models.Task) error
}

// Worker consumes grading jobs and drives each task to a terminal status
type Worker struct {
	queue       queue.Queue
	store       services.TaskStore
	pipeline    Pipeline
	concurrency int
	timeout     time.Duration
	logger      log.FieldLogger
	notifier    Notifier
	refunder    Refunder
	timings     TimingRecorder
	hub         *sentry.Hub

	wg sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithConcurrency(n int) Option        { return func(w *Worker) { w.concurrency = n } }
func WithTimeout(d time.Duration) Option  { return func(w *Worker) { w.timeout = d } }
func WithLogger(l log.FieldLogger) Option { return func(w *Worker) { w.logger = l } }
func WithNotifier(n Notifier) Option      { return func(w *Worker) { w.notifier = n } }
func WithRefunder(r Refunder) Option      { return func(w *Worker) { w.refunder = r } }
func WithTimings(t TimingRecorder) Option { return func(w *Worker) { w.timings = t } }
func WithHub(h *sentry.Hub) Option        { return func(w *Worker) { w.hub = h } }

// New constructs a Worker with the given dependencies and options.
func New(q queue.Queue, store services.TaskStore, pipeline Pipeline, opts ...Option) *Worker {
	w := &Worker{
		queue:       q,
		store:       store,
		pipeline:    pipeline,
		concurrency: 4,
		timeout:     10 * time.Minute,
		logger:      log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	return w
}

// Run starts the consumers and blocks until ctx is cancelled and every
// in-flight task has finished.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("concurrency", w.concurrency).Info("[WORKER] starting consumers")

	errCh := make(chan error, w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(n int) {
			defer w.wg.Done()
			if err := w.queue.Consume(ctx, w.HandleJob); err != nil {
				w.logger.WithFields(log.Fields{"consumer": n, "error": err.Error()}).Error("[WORKER] consumer stopped")
				errCh <- err
			}
		}(i)
	}
	w.wg.Wait()
	close(errCh)

	w.logger.Info("[WORKER] all consumers stopped")
	return <-errCh
}

// HandleJob processes one job. Duplicate deliveries and tasks claimed by
// another worker are skipped. The returned error only reports store failures
// that make redelivery worthwhile.
func (w *Worker) HandleJob(ctx context.Context, job queue.Job) error {
	ctx, span := telemetry.Tracer().Start(ctx, "worker.handle_job")
	span.SetAttributes(attribute.String("task_id", job.TaskID))
	defer span.End()

	entry := w.logger.WithField("task_id", job.TaskID)

	task, err := w.store.Get(ctx, job.TaskID)
	if err != nil {
		var notFound *models.TaskNotFoundError
		if errors.As(err, &notFound) {
			entry.Warn("[WORKER] job for unknown task, dropping")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status.IsTerminal() {
		entry.WithField("status", task.Status).Info("[WORKER] task already finished, skipping duplicate")
		return nil
	}

	task, err = w.store.Transition(ctx, job.TaskID, models.TaskStatusProcessing, services.TaskUpdate{})
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			entry.WithField("status", invalid.From).Info("[WORKER] task claimed elsewhere, skipping")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("claim task: %w", err)
	}

	telemetry.TasksInFlight.Inc()
	defer telemetry.TasksInFlight.Dec()

	if !job.EnqueuedAt.IsZero() {
		entry = entry.WithField("queued_for", time.Since(job.EnqueuedAt).Round(time.Millisecond))
	}
	entry.Info("[WORKER] grading started")

	taskCtx, cancel := context.WithTimeout(ctx, w.timeout)
	outcome, gradeErr := w.pipeline.Grade(taskCtx, task)
	timedOut := errors.Is(taskCtx.Err(), context.DeadlineExceeded)
	cancel()

	// Bookkeeping must land even when the consumer is shutting down.
	finishCtx := context.WithoutCancel(ctx)

	if gradeErr != nil {
		msg := gradeErr.Error()
		if timedOut {
			msg = fmt.Sprintf("task timed out after %s", w.timeout)
		}
		span.RecordError(gradeErr)
		span.SetStatus(codes.Error, msg)
		w.fail(finishCtx, task, msg, gradeErr)
		return nil
	}

	done, err := w.store.Transition(finishCtx, task.ID, models.TaskStatusCompleted, services.TaskUpdate{
		Report:       outcome.Report,
		OriginalText: outcome.Report.OriginalText,
		ReportKey:    outcome.ReportKey,
		PDFKey:       outcome.PDFKey,
		Attempts:     outcome.Attempts,
		Timing:       &outcome.Timing,
	})
	if err != nil {
		logger.LogAndCapture(w.hub, err, "worker.complete", map[string]interface{}{"task_id": task.ID})
		return nil
	}

	telemetry.TasksProcessed.WithLabelValues(string(models.TaskStatusCompleted)).Inc()
	entry.WithFields(log.Fields{
		"attempts":      done.Attempts,
		"total_seconds": outcome.Timing.TotalSeconds,
	}).Info("[WORKER] task completed")

	w.recordTimings(finishCtx, done)
	if w.notifier != nil && done.NotifyEmail != "" {
		if err := w.notifier.SendReportReady(done.NotifyEmail, done.ID, outcome.Report, outcome.PDF); err != nil {
			entry.WithError(err).Warn("[WORKER] failed to send notification")
		}
	}
	return nil
}

// fail moves the task to failed, refunds its charge and reports the error
func (w *Worker) fail(ctx context.Context, task *models.Task, msg string, cause error) {
	failed, err := w.store.Transition(ctx, task.ID, models.TaskStatusFailed, services.TaskUpdate{Error: msg})
	if err != nil {
		logger.LogAndCapture(w.hub, err, "worker.fail", map[string]interface{}{"task_id": task.ID})
		return
	}

	telemetry.TasksProcessed.WithLabelValues(string(models.TaskStatusFailed)).Inc()
	logger.LogAndCapture(w.hub, cause, "worker.grade", map[string]interface{}{
		"task_id": task.ID,
		"user_id": task.UserID,
	})

	w.refund(ctx, failed)
	w.recordTimings(ctx, failed)
}

func (w *Worker) refund(ctx context.Context, task *models.Task) {
	if w.refunder == nil || task.UserID == 0 || task.PointsCharged <= 0 {
		return
	}
	balance, err := w.refunder.Refund(ctx, task.UserID, task.PointsCharged, "REFUND:"+task.ID)
	if err != nil {
		logger.LogAndCapture(w.hub, err, "worker.refund", map[string]interface{}{
			"task_id": task.ID,
			"user_id": task.UserID,
			"amount":  task.PointsCharged,
		})
		return
	}
	w.logger.WithFields(log.Fields{"task_id": task.ID, "balance": balance}).Info("[WORKER] points refunded")
}

func (w *Worker) recordTimings(ctx context.Context, task *models.Task) {
	if w.timings == nil {
		return
	}
	if err := w.timings.WriteGradingTimings(ctx, task); err != nil {
		w.logger.WithFields(log.Fields{"task_id": task.ID, "error": err.Error()}).Warn("[WORKER] failed to record timings")
	}
}
