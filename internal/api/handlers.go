package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/models"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SyncGrader grades pages inline for the synchronous endpoint
type SyncGrader interface {
	GradeImages(ctx context.Context, taskID string, images []services.ImageInput, prompt string) (*services.GradeOutcome, error)
}

// Dependencies wires the handlers. Points, JWT, Limiter and Grader may be nil
// to disable accounts, rate limiting and inline grading respectively.
type Dependencies struct {
	Config  *config.Config
	Tasks   services.TaskStore
	Storage services.StorageInterface
	Queue   queue.Queue
	Grader  SyncGrader
	Points  *services.PointsService
	JWT     *services.JWTService
	Limiter queue.SubmissionLimiter
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfg     *config.Config
	tasks   services.TaskStore
	storage services.StorageInterface
	queue   queue.Queue
	grader  SyncGrader
	points  *services.PointsService
	jwt     *services.JWTService
	limiter queue.SubmissionLimiter

	streamInterval time.Duration
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		cfg:            deps.Config,
		tasks:          deps.Tasks,
		storage:        deps.Storage,
		queue:          deps.Queue,
		grader:         deps.Grader,
		points:         deps.Points,
		jwt:            deps.JWT,
		limiter:        deps.Limiter,
		streamInterval: time.Second,
	}
}

func (h *Handlers) billingEnabled() bool {
	return h.points != nil && h.cfg.Billing.PointsPerEssay > 0
}

// writeError maps domain errors to HTTP status codes
func writeError(c *gin.Context, err error) {
	var (
		invalid      *models.InvalidInputError
		taskMissing  *models.TaskNotFoundError
		userMissing  *models.UserNotFoundError
		insufficient *models.InsufficientPointsError
		codeErr      *models.BetaCodeError
		transition   *models.InvalidTransitionError
	)

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message})
	case errors.As(err, &taskMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.As(err, &userMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "insufficient points",
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
	case errors.As(err, &codeErr):
		status := http.StatusNotFound
		switch codeErr.Reason {
		case models.BetaCodeAlreadyUsed:
			status = http.StatusConflict
		case models.BetaCodeExpired:
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": codeErr.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
	default:
		log.WithFields(log.Fields{"path": c.FullPath(), "error": err.Error()}).Error("[HTTP] request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func accountsDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "accounts are not enabled"})
}
