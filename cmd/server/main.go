package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"essay-grader/internal/api"
	"essay-grader/internal/config"
	"essay-grader/internal/database"
	"essay-grader/internal/logger"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"
	"essay-grader/internal/telemetry"
	"essay-grader/internal/worker"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.Log.Level)
	gin.SetMode(cfg.Server.GinMode)

	hub, err := logger.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		log.Warnf("Sentry disabled: %v", err)
	}
	defer logger.FlushSentry(hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName+"-api", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Warnf("Tracing disabled: %v", err)
	} else {
		defer shutdownTracer()
	}

	// Task store
	tasks, err := database.OpenTaskStore(cfg, hub)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer closeStore(tasks)

	storage, err := services.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to initialize %s queue: %v", cfg.Queue.Backend, err)
	}
	defer q.Close()

	deps := api.Dependencies{
		Config:  cfg,
		Tasks:   tasks,
		Storage: storage,
		Queue:   q,
	}

	// Accounts and billing (optional)
	accounts, closeAccounts, err := database.OpenAccounts(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to open accounts database: %v", err)
	}
	defer closeAccounts()
	if accounts != nil {
		deps.Points = services.NewPointsService(accounts)
		deps.JWT = services.NewJWTService(cfg.JWT.Secret, cfg.JWT.TTL)
		log.Infof("Accounts enabled, %d points per essay", cfg.Billing.PointsPerEssay)
	} else {
		log.Info("POSTGRES_DSN not set, accounts and billing disabled")
	}

	if cfg.RateLimit.Pages > 0 {
		client, err := queue.NewRedisClient(ctx, cfg.Queue.RedisAddr, cfg.Queue.RedisDB)
		if err != nil {
			log.Warnf("Rate limiting disabled: %v", err)
		} else {
			defer client.Close()
			deps.Limiter = queue.NewSubmissionLimiter(client, cfg.RateLimit.Pages, cfg.RateLimit.Window)
		}
	}

	// Synchronous grading and the in-process worker need the model
	var grading *services.GradingService
	if cfg.LLM.APIKey != "" {
		aiService, err := services.NewAIService(cfg.LLM)
		if err != nil {
			log.Fatalf("Failed to initialize AI service: %v", err)
		}
		grading = services.NewGradingService(aiService, services.NewPDFService(cfg.PDF.FontPath), storage)
		deps.Grader = grading
	} else {
		log.Warn("LLM_API_KEY not set, synchronous grading disabled")
	}

	// The memory queue lives in this process, so it has to be drained here too
	if cfg.Queue.Backend == "memory" && grading != nil {
		if err := config.ValidateWorker(cfg); err != nil {
			log.Fatalf("Invalid worker config: %v", err)
		}
		var refunder worker.Refunder
		if deps.Points != nil && cfg.Billing.RefundOnFailure {
			refunder = deps.Points
		}
		collab, closeCollab := worker.LoadCollaborators(ctx, cfg, cfg.LLM.Model, hub, refunder)
		defer closeCollab()

		rt := worker.NewRuntime(q, tasks, grading, cfg.Worker, collab)
		go func() {
			if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
				logger.LogAndCapture(hub, err, "in-process worker stopped")
			}
		}()
		log.Infof("In-process worker started with %d consumers", cfg.Worker.Concurrency)
	} else if grading != nil && cfg.PDF.FontPath == "" {
		log.Warn("PDF_FONT_PATH not set and no CJK font found, Chinese text in PDF reports will be lost")
	}

	handlers := api.NewHandlers(deps)
	router := api.SetupRoutes(handlers, cfg)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogAndCapture(hub, err, "HTTP server failed")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server stopped")
}

func closeStore(store services.TaskStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		log.Warnf("Failed to close task store: %v", err)
	}
}
