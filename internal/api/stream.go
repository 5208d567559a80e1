package api

import (
	"net/http"
	"time"

	"essay-grader/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusStreamHandler handles GET /api/essays/:taskId/ws
// It pushes a status frame whenever the task changes and closes after the
// terminal frame.
func (h *Handlers) StatusStreamHandler(c *gin.Context) {
	taskID := c.Param("taskId")
	ctx := c.Request.Context()

	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithFields(log.Fields{"task_id": taskID, "error": err.Error()}).Warn("[WEBSOCKET] upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	var (
		lastStatus  models.TaskStatus
		lastUpdated time.Time
	)
	for {
		if task.Status != lastStatus || !task.UpdatedAt.Equal(lastUpdated) {
			lastStatus, lastUpdated = task.Status, task.UpdatedAt
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(statusResponse(task, true)); err != nil {
				return
			}
			if task.Status.IsTerminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(task.Status)),
					time.Now().Add(writeWait))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-ticker.C:
		}

		next, err := h.tasks.Get(ctx, taskID)
		if err != nil {
			log.WithFields(log.Fields{"task_id": taskID, "error": err.Error()}).Warn("[WEBSOCKET] status lookup failed")
			continue
		}
		task = next
	}
}
