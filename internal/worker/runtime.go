package worker

import (
	"context"
	"fmt"

	"essay-grader/internal/config"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// Collaborators are the optional services attached to a worker. Nil fields
// are left out.
type Collaborators struct {
	Hub      *sentry.Hub
	Notifier Notifier
	Refunder Refunder
	Timings  TimingRecorder
}

// LoadCollaborators builds the email notifier and the InfluxDB timing writer
// from configuration. The returned func releases the InfluxDB client.
func LoadCollaborators(ctx context.Context, cfg *config.Config, model string, hub *sentry.Hub, refunder Refunder) (Collaborators, func()) {
	c := Collaborators{Hub: hub, Refunder: refunder}

	if email := services.NewEmailService(cfg.Email); email != nil {
		c.Notifier = email
	} else {
		log.Info("SendGrid API key not configured, report emails disabled")
	}

	influx, err := services.NewInfluxService(ctx, cfg.InfluxDB, model)
	switch {
	case err != nil:
		log.Warnf("InfluxDB timings disabled: %v", err)
	case influx != nil:
		c.Timings = influx
		return c, influx.Close
	}
	return c, func() {}
}

// Runtime is a worker plus the sweeper that fails the tasks it abandons. The
// standalone worker and the API server's in-process worker are both built here.
type Runtime struct {
	Worker  *Worker
	Sweeper *Sweeper
}

// NewRuntime assembles a worker and its sweeper from the worker settings
func NewRuntime(q queue.Queue, store services.TaskStore, pipeline Pipeline, cfg config.WorkerConfig, c Collaborators) *Runtime {
	opts := []Option{
		WithConcurrency(cfg.Concurrency),
		WithTimeout(cfg.TaskTimeout),
		WithHub(c.Hub),
	}
	if c.Notifier != nil {
		opts = append(opts, WithNotifier(c.Notifier))
	}
	if c.Refunder != nil {
		opts = append(opts, WithRefunder(c.Refunder))
	}
	if c.Timings != nil {
		opts = append(opts, WithTimings(c.Timings))
	}

	return &Runtime{
		Worker:  New(q, store, pipeline, opts...),
		Sweeper: NewSweeper(store, c.Refunder, cfg.SweepSchedule, cfg.StaleAfter),
	}
}

// Run starts the sweeper and blocks in the worker until ctx is cancelled
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Sweeper.Start(ctx); err != nil {
		return fmt.Errorf("stale task sweep: %w", err)
	}
	defer r.Sweeper.Stop()
	return r.Worker.Run(ctx)
}
