package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"essay-grader/internal/config"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

const validModelJSON = `{"original_text": "I has a pen.", "overall_evaluation": {"tier": "A", "total_score": "20/25", "brief_comment": "ok"}, "detailed_errors": [], "revised_text": "I have a pen."}`

// fakeLLM serves chat completions from a scripted list of replies
type fakeLLM struct {
	mu       sync.Mutex
	replies  []func(w http.ResponseWriter)
	requests []openai.ChatCompletionRequest
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	reply := f.replies[idx]
	f.mu.Unlock()

	reply(w)
}

func content(text string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": text},
			}},
		})
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream failure", "type": "server_error"}}`))
	}
}

func newTestAIService(t *testing.T, fake *fakeLLM) *AIService {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := NewAIService(config.LLMConfig{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1",
		Model:       "qwen-vl-max",
		Temperature: 0.2,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return svc
}

func TestGradeEssay_Success(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){content("```json\n" + validModelJSON + "\n```")}}
	svc := newTestAIService(t, fake)

	res, err := svc.GradeEssay(context.Background(), []ImageInput{{Name: "p1.png", Data: testPNG}, {Name: "p2.png", Data: testPNG}}, "")
	require.NoError(t, err)
	assert.Equal(t, "I has a pen.", res.Report.OriginalText)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "qwen-vl-max", res.Model)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "qwen-vl-max", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "original_text")

	parts := req.Messages[1].MultiContent
	require.Len(t, parts, 3)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[0].Type)
	assert.True(t, strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[2].Type)
	assert.Equal(t, DefaultUserPrompt, parts[2].Text)
}

func TestGradeEssay_RetriesThenSucceeds(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){
		status(http.StatusInternalServerError),
		content("Sorry, I cannot"),
		content(validModelJSON),
	}}
	svc := newTestAIService(t, fake)

	res, err := svc.GradeEssay(context.Background(), []ImageInput{{Data: testPNG}}, "Topic: a letter to Tom")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, fake.requests, 3)
	assert.Equal(t, "Topic: a letter to Tom", fake.requests[0].Messages[1].MultiContent[1].Text)
}

func TestGradeEssay_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){content("   ")}}
	svc := newTestAIService(t, fake)

	_, err := svc.GradeEssay(context.Background(), []ImageInput{{Data: testPNG}}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Len(t, fake.requests, 3)
}

func TestGradeEssay_ParseFailureKeepsRawText(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){content(`["just", "a", "list"]`)}}
	svc := newTestAIService(t, fake)

	_, err := svc.GradeEssay(context.Background(), []ImageInput{{Data: testPNG}}, "")
	var perr *ReportParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, `["just", "a", "list"]`, perr.Raw)
}

func TestGradeEssay_UnauthorizedIsNotRetried(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){status(http.StatusUnauthorized)}}
	svc := newTestAIService(t, fake)

	_, err := svc.GradeEssay(context.Background(), []ImageInput{{Data: testPNG}}, "")
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}

func TestGradeEssay_InputValidation(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){content(validModelJSON)}}
	svc := newTestAIService(t, fake)

	_, err := svc.GradeEssay(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoImages)
	assert.EqualError(t, err, "no valid images loaded")

	_, err = svc.GradeEssay(context.Background(), []ImageInput{{Name: "notes.txt", Data: []byte("hello world")}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content type")
	assert.Empty(t, fake.requests)
}

func TestGradeEssay_StrictSchemaRejects(t *testing.T) {
	fake := &fakeLLM{replies: []func(http.ResponseWriter){content(`{"original_text": "only this"}`)}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := NewAIService(config.LLMConfig{
		BaseURL: srv.URL + "/v1", Model: "m", MaxAttempts: 2, RetryDelay: time.Millisecond,
		Timeout: 5 * time.Second, StrictSchema: true,
	})
	require.NoError(t, err)

	_, err = svc.GradeEssay(context.Background(), []ImageInput{{Data: testPNG}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Len(t, fake.requests, 2)
}

func TestImageDataURL(t *testing.T) {
	url, err := ImageDataURL(testPNG)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,iVBORw0KGgo"))

	_, err = ImageDataURL(nil)
	assert.ErrorIs(t, err, ErrNoImages)
}
