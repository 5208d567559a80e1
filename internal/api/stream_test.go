package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := services.NewTask(0, "")
	require.NoError(t, env.tasks.Create(ctx, task))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/essays/" + task.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame models.StatusResponse
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "queued", frame.Status)

	_, err = env.tasks.Transition(ctx, task.ID, models.TaskStatusProcessing, services.TaskUpdate{})
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "processing", frame.Status)
	assert.Equal(t, 50, frame.Progress)

	_, err = env.tasks.Transition(ctx, task.ID, models.TaskStatusFailed, services.TaskUpdate{Error: "boom"})
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "failed", frame.Status)
	assert.Equal(t, "boom", frame.Error)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStatusStream_UnknownTask(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/essays/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}
