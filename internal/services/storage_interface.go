package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"essay-grader/internal/config"
)

// ErrObjectNotFound is returned when a storage key does not exist
var ErrObjectNotFound = errors.New("object not found")

// StorageInterface defines the interface for artifact storage
type StorageInterface interface {
	Save(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetFileURL(key string) string
}

var (
	dotRuns     = regexp.MustCompile(`\.{2,}`)
	unsafeChars = regexp.MustCompile(`[\x00-\x1f/\\:*?"<>|]`)
)

// SanitizeFilename reduces a client supplied name to a single safe path
// element. Runs of dots collapse to one and leading dots are dropped.
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = dotRuns.ReplaceAllString(name, ".")
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" {
		return "page"
	}
	return name
}

// UploadKey is where the n-th (1-based) uploaded page of a task is stored
func UploadKey(taskID string, n int, filename string) string {
	return fmt.Sprintf("uploads/%s/%d_%s", taskID, n, SanitizeFilename(filename))
}

// ResultKey is where the normalized report JSON of a task is stored
func ResultKey(taskID string) string {
	return fmt.Sprintf("runs/%s/result.json", taskID)
}

// PDFKey is where the rendered report of a task is stored
func PDFKey(taskID string) string {
	return fmt.Sprintf("runs/%s/report.pdf", taskID)
}

// RawErrorKey is where unparsable model output of a task is kept
func RawErrorKey(taskID string) string {
	return fmt.Sprintf("runs/%s/result.error.txt", taskID)
}

// ReadObject loads a whole object into memory
func ReadObject(ctx context.Context, storage StorageInterface, key string) ([]byte, error) {
	body, _, err := storage.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// NewStorage returns the artifact store selected by STORAGE_BACKEND
func NewStorage(ctx context.Context, cfg *config.Config) (StorageInterface, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return NewS3Service(ctx, cfg.S3)
	case "local":
		return NewStorageService(cfg.Storage.Path, cfg.Storage.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
