package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/database"
	"essay-grader/internal/logger"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"
	"essay-grader/internal/telemetry"
	"essay-grader/internal/worker"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ValidateWorker(cfg); err != nil {
		log.Fatalf("Invalid worker config: %v", err)
	}

	logger.InitLogger(cfg.Log.Level)

	hub, err := logger.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		log.Warnf("Sentry disabled: %v", err)
	}
	defer logger.FlushSentry(hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName+"-worker", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Warnf("Tracing disabled: %v", err)
	} else {
		defer shutdownTracer()
	}

	if cfg.Queue.Backend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory only works inside the API server process")
	}

	tasks, err := database.OpenTaskStore(cfg, hub)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tasks.Close(closeCtx); err != nil {
			log.Warnf("Failed to close task store: %v", err)
		}
	}()

	storage, err := services.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to initialize %s queue: %v", cfg.Queue.Backend, err)
	}
	defer q.Close()

	aiService, err := services.NewAIService(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize AI service: %v", err)
	}
	grading := services.NewGradingService(aiService, services.NewPDFService(cfg.PDF.FontPath), storage)

	var refunder worker.Refunder
	accounts, closeAccounts, err := database.OpenAccounts(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to open accounts database: %v", err)
	}
	defer closeAccounts()
	if accounts != nil && cfg.Billing.RefundOnFailure {
		refunder = services.NewPointsService(accounts)
	}

	collab, closeCollab := worker.LoadCollaborators(ctx, cfg, aiService.Model(), hub, refunder)
	defer closeCollab()

	telemetry.StartMetricsServer(ctx, cfg.Telemetry.MetricsAddr, func(ctx context.Context) error {
		if err := tasks.Ping(ctx); err != nil {
			return err
		}
		if bucket, ok := storage.(interface{ Ping(context.Context) error }); ok {
			return bucket.Ping(ctx)
		}
		return nil
	})

	rt := worker.NewRuntime(q, tasks, grading, cfg.Worker, collab)
	log.WithFields(log.Fields{
		"queue":       cfg.Queue.Backend,
		"concurrency": cfg.Worker.Concurrency,
		"model":       aiService.Model(),
	}).Info("Worker started")

	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		logger.LogAndCapture(hub, err, "worker stopped")
	}
	log.Info("Worker stopped")
}
