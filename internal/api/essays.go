package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"essay-grader/internal/models"
	"essay-grader/internal/queue"
	"essay-grader/internal/services"
	"essay-grader/internal/telemetry"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxHistory = 50

// upload is a validated essay submission
type upload struct {
	images      []services.ImageInput
	prompt      string
	notifyEmail string
}

// readUpload parses the multipart body. It writes the error response itself
// and returns nil when the request is rejected.
func (h *Handlers) readUpload(c *gin.Context) *upload {
	maxBytes := int64(h.cfg.Server.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			telemetry.SubmissionsRejected.WithLabelValues("too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d MB", h.cfg.Server.MaxUploadMB)})
			return nil
		}
		telemetry.SubmissionsRejected.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return nil
	}

	files := form.File["images"]
	if len(files) == 0 {
		telemetry.SubmissionsRejected.WithLabelValues("no_images").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images uploaded"})
		return nil
	}
	if len(files) > h.cfg.Server.MaxImages {
		telemetry.SubmissionsRejected.WithLabelValues("too_many_images").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("too many images (max %d)", h.cfg.Server.MaxImages)})
		return nil
	}

	up := &upload{
		prompt:      strings.TrimSpace(firstNonEmpty(c.PostForm("prompt"), c.PostForm("context"))),
		notifyEmail: strings.TrimSpace(c.PostForm("notifyEmail")),
	}
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("failed to read %s", fh.Filename)})
			return nil
		}
		if _, ok := services.DetectImageType(data); !ok {
			telemetry.SubmissionsRejected.WithLabelValues("bad_image").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file %s is not a supported image", fh.Filename)})
			return nil
		}
		up.images = append(up.images, services.ImageInput{Name: fh.Filename, Data: data})
	}
	return up
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// admit rejects anonymous submissions when billing is on. It writes the error
// response itself and returns false when the request is rejected.
func (h *Handlers) admit(c *gin.Context) bool {
	if h.billingEnabled() && userID(c) == 0 {
		telemetry.SubmissionsRejected.WithLabelValues("unauthenticated").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return false
	}
	return true
}

// throttle charges the upload's pages against the submitter's window
func (h *Handlers) throttle(c *gin.Context, pages int) bool {
	if h.limiter == nil {
		return true
	}
	key := "ip:" + c.ClientIP()
	if uid := userID(c); uid != 0 {
		key = "user:" + strconv.FormatInt(uid, 10)
	}

	verdict, err := h.limiter.Admit(c.Request.Context(), key, pages)
	if err != nil {
		log.WithError(err).Warn("[HTTP] rate limiter unavailable, allowing request")
		return true
	}
	if !verdict.Allowed {
		telemetry.SubmissionsRejected.WithLabelValues("rate_limited").Inc()
		if verdict.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(verdict.RetryAfter.Seconds()))))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "too many submissions, try again later",
			"budget": h.limiter.Budget(),
			"used":   verdict.Used,
		})
		return false
	}
	return true
}

// charge takes the essay price from the user's balance and returns the amount taken
func (h *Handlers) charge(c *gin.Context, taskID string) (int, bool) {
	if !h.billingEnabled() {
		return 0, true
	}
	cost := h.cfg.Billing.PointsPerEssay
	if _, err := h.points.Charge(c.Request.Context(), userID(c), cost, "ESSAY:"+taskID); err != nil {
		telemetry.SubmissionsRejected.WithLabelValues("insufficient_points").Inc()
		writeError(c, err)
		return 0, false
	}
	return cost, true
}

func (h *Handlers) refund(ctx context.Context, task *models.Task) {
	if h.points == nil || task.PointsCharged <= 0 || task.UserID == 0 {
		return
	}
	if _, err := h.points.Refund(ctx, task.UserID, task.PointsCharged, "REFUND:"+task.ID); err != nil {
		log.WithFields(log.Fields{"task_id": task.ID, "error": err.Error()}).Error("[POINTS] refund failed")
	}
}

// saveImages stores the pages and records their keys on the task
func (h *Handlers) saveImages(ctx context.Context, task *models.Task, images []services.ImageInput) error {
	for i, img := range images {
		contentType, _ := services.DetectImageType(img.Data)
		key, err := h.storage.Save(ctx, services.UploadKey(task.ID, i+1, img.Name), bytes.NewReader(img.Data), contentType)
		if err != nil {
			return fmt.Errorf("failed to store image: %w", err)
		}
		task.Images = append(task.Images, key)
	}
	return nil
}

// SubmitEssayHandler handles POST /api/essays
func (h *Handlers) SubmitEssayHandler(c *gin.Context) {
	if !h.admit(c) {
		return
	}
	up := h.readUpload(c)
	if up == nil || !h.throttle(c, len(up.images)) {
		return
	}

	ctx := c.Request.Context()
	task := services.NewTask(userID(c), up.prompt)
	task.NotifyEmail = up.notifyEmail

	charged, ok := h.charge(c, task.ID)
	if !ok {
		return
	}
	task.PointsCharged = charged

	if err := h.saveImages(ctx, task, up.images); err != nil {
		h.refund(ctx, task)
		writeError(c, err)
		return
	}
	if err := h.tasks.Create(ctx, task); err != nil {
		h.refund(ctx, task)
		writeError(c, err)
		return
	}

	if err := h.queue.Publish(ctx, queue.NewJob(task.ID)); err != nil {
		log.WithFields(log.Fields{"task_id": task.ID, "error": err.Error()}).Error("[HTTP] failed to enqueue task")
		if _, terr := h.tasks.Transition(ctx, task.ID, models.TaskStatusFailed, services.TaskUpdate{Error: "failed to enqueue task"}); terr != nil {
			log.WithError(terr).Warn("[HTTP] failed to mark unqueued task")
		}
		h.refund(ctx, task)
		telemetry.SubmissionsRejected.WithLabelValues("enqueue_failed").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "grading queue unavailable"})
		return
	}

	telemetry.TasksSubmitted.Inc()
	log.WithFields(log.Fields{"task_id": task.ID, "images": len(task.Images), "user_id": task.UserID}).Info("[HTTP] essay queued")

	c.JSON(http.StatusAccepted, models.TaskResponse{
		TaskID:        task.ID,
		Status:        string(task.Status),
		ImageCount:    len(task.Images),
		PointsCharged: task.PointsCharged,
	})
}

// GradeSyncHandler handles POST /api/essays/sync
// Grades inline and returns the report in the response.
func (h *Handlers) GradeSyncHandler(c *gin.Context) {
	if h.grader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "synchronous grading is not configured"})
		return
	}
	if !h.admit(c) {
		return
	}
	up := h.readUpload(c)
	if up == nil || !h.throttle(c, len(up.images)) {
		return
	}

	ctx := c.Request.Context()
	task := services.NewTask(userID(c), up.prompt)
	charged, ok := h.charge(c, task.ID)
	if !ok {
		return
	}
	task.PointsCharged = charged

	if err := h.saveImages(ctx, task, up.images); err != nil {
		h.refund(ctx, task)
		writeError(c, err)
		return
	}
	if err := h.tasks.Create(ctx, task); err != nil {
		h.refund(ctx, task)
		writeError(c, err)
		return
	}
	if _, err := h.tasks.Transition(ctx, task.ID, models.TaskStatusProcessing, services.TaskUpdate{}); err != nil {
		h.refund(ctx, task)
		writeError(c, err)
		return
	}
	telemetry.TasksSubmitted.Inc()

	outcome, err := h.grader.GradeImages(ctx, task.ID, up.images, up.prompt)
	if err != nil {
		finishCtx := context.WithoutCancel(ctx)
		if _, terr := h.tasks.Transition(finishCtx, task.ID, models.TaskStatusFailed, services.TaskUpdate{Error: err.Error()}); terr != nil {
			log.WithError(terr).Warn("[HTTP] failed to mark task failed")
		}
		h.refund(finishCtx, task)
		telemetry.TasksProcessed.WithLabelValues(string(models.TaskStatusFailed)).Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "taskId": task.ID})
		return
	}

	done, err := h.tasks.Transition(ctx, task.ID, models.TaskStatusCompleted, services.TaskUpdate{
		Report:       outcome.Report,
		OriginalText: outcome.Report.OriginalText,
		ReportKey:    outcome.ReportKey,
		PDFKey:       outcome.PDFKey,
		Attempts:     outcome.Attempts,
		Timing:       &outcome.Timing,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	telemetry.TasksProcessed.WithLabelValues(string(models.TaskStatusCompleted)).Inc()

	c.JSON(http.StatusOK, models.SyncGradeResponse{
		TaskID:      done.ID,
		Status:      string(done.Status),
		Report:      outcome.Report,
		DownloadURL: downloadURL(done.ID),
		Timing:      done.Timing,
	})
}

func downloadURL(taskID string) string {
	return fmt.Sprintf("/api/essays/%s/report.pdf", taskID)
}

// statusResponse builds the polling view of a task. The report is only
// included when withReport is set and the task has completed.
func statusResponse(task *models.Task, withReport bool) models.StatusResponse {
	resp := models.StatusResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Progress:  task.Status.Progress(),
		Timing:    task.Timing,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		if withReport {
			resp.Report = task.Report
		}
		resp.DownloadURL = downloadURL(task.ID)
	case models.TaskStatusFailed:
		resp.Error = task.Error
	}
	return resp
}

// GetTaskStatusHandler handles GET /api/essays/:taskId
func (h *Handlers) GetTaskStatusHandler(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(task, true))
}

func (h *Handlers) completedTask(c *gin.Context) *models.Task {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		writeError(c, err)
		return nil
	}
	if task.Status != models.TaskStatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("report not ready, task is %s", task.Status)})
		return nil
	}
	return task
}

func (h *Handlers) serveArtifact(c *gin.Context, key, contentType, filename string) {
	data, err := services.ReadObject(c.Request.Context(), h.storage, key)
	if err != nil {
		if errors.Is(err, services.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report file not found"})
			return
		}
		writeError(c, err)
		return
	}
	if filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	}
	c.Data(http.StatusOK, contentType, data)
}

// DownloadPDFHandler handles GET /api/essays/:taskId/report.pdf
func (h *Handlers) DownloadPDFHandler(c *gin.Context) {
	task := h.completedTask(c)
	if task == nil {
		return
	}
	key := task.PDFKey
	if key == "" {
		key = services.PDFKey(task.ID)
	}
	h.serveArtifact(c, key, "application/pdf", fmt.Sprintf("essay_report_%s.pdf", task.ID))
}

// DownloadJSONHandler handles GET /api/essays/:taskId/report.json
func (h *Handlers) DownloadJSONHandler(c *gin.Context) {
	task := h.completedTask(c)
	if task == nil {
		return
	}
	key := task.ReportKey
	if key == "" {
		key = services.ResultKey(task.ID)
	}
	h.serveArtifact(c, key, "application/json; charset=utf-8", "")
}

// HistoryHandler handles GET /api/essays
func (h *Handlers) HistoryHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}

	tasks, err := h.tasks.ListByUser(c.Request.Context(), userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := models.HistoryResponse{Tasks: make([]models.StatusResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, statusResponse(t, false))
	}
	c.JSON(http.StatusOK, resp)
}
