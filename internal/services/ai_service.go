package services

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/models"
	"essay-grader/internal/retry"
	"essay-grader/internal/telemetry"
	"essay-grader/internal/validation"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

//go:embed prompts/system_prompt.txt
var defaultSystemPrompt string

// DefaultUserPrompt is sent when the submitter gives no context of their own
const DefaultUserPrompt = "这是学生写的作文，请识别图片中的全部文字并按要求批改，只返回 JSON。"

var (
	// ErrNoImages is returned when a grading request carries no usable image
	ErrNoImages = errors.New("no valid images loaded")
	// ErrEmptyResponse is returned when the model answers with no content
	ErrEmptyResponse = errors.New("model returned empty content")
)

// ImageInput is one uploaded page of the essay
type ImageInput struct {
	Name string
	Data []byte
}

// GradingResult is the parsed outcome of one successful model call
type GradingResult struct {
	Report   *models.EssayReport
	RawJSON  string
	Repaired bool
	Attempts int
	Model    string
	Duration time.Duration
}

// ChatCompleter is the subset of the OpenAI client the grader uses
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIService grades essays with an OpenAI-compatible multimodal model
type AIService struct {
	config       config.LLMConfig
	client       ChatCompleter
	systemPrompt string
	limiter      *rate.Limiter
}

// NewAIService builds a client for cfg.BaseURL and loads the system prompt
func NewAIService(cfg config.LLMConfig) (*AIService, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	systemPrompt := defaultSystemPrompt
	if cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt: %w", err)
		}
		systemPrompt = string(data)
	}

	return NewAIServiceWithClient(cfg, openai.NewClientWithConfig(clientConfig), systemPrompt), nil
}

// NewAIServiceWithClient wires an existing chat client
func NewAIServiceWithClient(cfg config.LLMConfig, client ChatCompleter, systemPrompt string) *AIService {
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &AIService{
		config:       cfg,
		client:       client,
		systemPrompt: systemPrompt,
		limiter:      limiter,
	}
}

// Model returns the configured model name
func (s *AIService) Model() string {
	return s.config.Model
}

// GradeEssay sends the pages to the model and parses its critique. API and
// parse failures are retried up to the configured number of attempts.
func (s *AIService) GradeEssay(ctx context.Context, images []ImageInput, prompt string) (*GradingResult, error) {
	messages, err := s.buildMessages(images, prompt)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var result *GradingResult
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: s.config.MaxAttempts,
		BaseDelay:   s.config.RetryDelay,
		OnRetry: func(attempt int, err error) {
			log.WithFields(log.Fields{
				"attempt":      attempt,
				"max_attempts": s.config.MaxAttempts,
				"error":        err.Error(),
			}).Warn("[AI] grading attempt failed, retrying")
		},
	}, func(attempt int) error {
		content, err := s.complete(ctx, messages)
		if err != nil {
			telemetry.LLMAttempts.WithLabelValues("api_error").Inc()
			return err
		}

		report, reportJSON, repaired, err := ParseReport(content)
		if err != nil {
			telemetry.LLMAttempts.WithLabelValues("parse_error").Inc()
			return err
		}

		if verr := validation.ValidateEssayReport(reportJSON); verr != nil {
			if s.config.StrictSchema {
				telemetry.LLMAttempts.WithLabelValues("schema_error").Inc()
				return &ReportParseError{Raw: content, Err: verr}
			}
			log.WithField("attempt", attempt).Warnf("[AI] report does not match schema: %v", verr)
		}

		if repaired {
			log.WithField("attempt", attempt).Info("[AI] model output needed lenient repair")
		}
		telemetry.LLMAttempts.WithLabelValues("ok").Inc()

		result = &GradingResult{
			Report:   report,
			RawJSON:  reportJSON,
			Repaired: repaired,
			Attempts: attempt,
			Model:    s.config.Model,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grading failed: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// complete performs one chat completion and returns the assistant text
func (s *AIService) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		Temperature: float32(s.config.Temperature),
	}
	if s.config.MaxTokens > 0 {
		req.MaxTokens = s.config.MaxTokens
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
			return "", retry.Permanent(fmt.Errorf("LLM API error: %w", err))
		}
		return "", fmt.Errorf("LLM API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// buildMessages lays out the system prompt, then one user message holding
// every page followed by the text prompt
func (s *AIService) buildMessages(images []ImageInput, prompt string) ([]openai.ChatCompletionMessage, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for i, img := range images {
		url, err := ImageDataURL(img.Data)
		if err != nil {
			return nil, fmt.Errorf("image %d (%s): %w", i+1, img.Name, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    url,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultUserPrompt
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt,
	})

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: s.systemPrompt},
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}, nil
}

// ImageDataURL encodes an image as a data URL, rejecting non-image payloads
func ImageDataURL(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoImages
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("unsupported content type %s", mime.String())
	}
	return "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DetectImageType returns the sniffed MIME type of an upload
func DetectImageType(data []byte) (string, bool) {
	mime := mimetype.Detect(data)
	return mime.String(), strings.HasPrefix(mime.String(), "image/")
}
