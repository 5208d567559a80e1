package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/services"
	"essay-grader/internal/telemetry"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// StaleTaskMessage is the error recorded on tasks the sweeper fails
const StaleTaskMessage = "task timed out"

// Sweeper periodically fails tasks stuck in queued or processing, so a
// crashed worker or a lost message never leaves a task pending forever.
type Sweeper struct {
	store      services.TaskStore
	refunder   Refunder
	staleAfter time.Duration
	schedule   string
	cron       *cron.Cron
	now        func() time.Time
}

// NewSweeper creates a sweeper running on schedule (standard cron spec or @every)
func NewSweeper(store services.TaskStore, refunder Refunder, schedule string, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		refunder:   refunder,
		staleAfter: staleAfter,
		schedule:   schedule,
		cron:       cron.New(),
		now:        time.Now,
	}
}

// Start registers the sweep job and starts the scheduler
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if n, err := s.Sweep(ctx); err != nil {
			log.WithError(err).Error("[SWEEP] sweep failed")
		} else if n > 0 {
			log.WithField("count", n).Info("[SWEEP] stale tasks failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	s.cron.Start()
	log.WithFields(log.Fields{"schedule": s.schedule, "stale_after": s.staleAfter}).Info("[SWEEP] scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[SWEEP] scheduler stopped")
}

// Sweep fails every task not updated within staleAfter and returns how many it moved
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	swept := 0
	for _, task := range stale {
		failed, err := s.store.Transition(ctx, task.ID, models.TaskStatusFailed, services.TaskUpdate{Error: StaleTaskMessage})
		if err != nil {
			var invalid *models.InvalidTransitionError
			if errors.As(err, &invalid) {
				continue
			}
			log.WithFields(log.Fields{"task_id": task.ID, "error": err.Error()}).Warn("[SWEEP] failed to fail stale task")
			continue
		}
		swept++
		telemetry.TasksSwept.Inc()
		telemetry.TasksProcessed.WithLabelValues(string(models.TaskStatusFailed)).Inc()

		if s.refunder != nil && failed.UserID != 0 && failed.PointsCharged > 0 {
			if _, err := s.refunder.Refund(ctx, failed.UserID, failed.PointsCharged, "REFUND:"+failed.ID); err != nil {
				log.WithFields(log.Fields{"task_id": failed.ID, "error": err.Error()}).Error("[SWEEP] refund failed")
			}
		}
	}
	return swept, nil
}
