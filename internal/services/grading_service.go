package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/telemetry"
	"essay-grader/internal/utils"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	StageJSON  = "json_generation"
	StagePDF   = "pdf_generation"
	StageTotal = "total"
)

// EssayGrader turns page images into a parsed report
type EssayGrader interface {
	GradeEssay(ctx context.Context, images []ImageInput, prompt string) (*GradingResult, error)
}

// ReportRenderer turns a report into a PDF document
type ReportRenderer interface {
	GenerateReportPDF(report *models.EssayReport, meta ReportMeta) ([]byte, error)
}

// GradeOutcome is everything one pipeline run produced
type GradeOutcome struct {
	Report    *models.EssayReport
	RawJSON   string
	PDF       []byte
	ReportKey string
	PDFKey    string
	Attempts  int
	Model     string
	Timing    models.Timing
}

// GradingService runs the two-stage pipeline: model critique, then PDF
type GradingService struct {
	grader   EssayGrader
	renderer ReportRenderer
	storage  StorageInterface
}

// NewGradingService creates a new grading pipeline
func NewGradingService(grader EssayGrader, renderer ReportRenderer, storage StorageInterface) *GradingService {
	return &GradingService{grader: grader, renderer: renderer, storage: storage}
}

// LoadImages reads the uploaded pages of a task from storage
func (s *GradingService) LoadImages(ctx context.Context, task *models.Task) ([]ImageInput, error) {
	images := make([]ImageInput, 0, len(task.Images))
	for _, key := range task.Images {
		data, err := ReadObject(ctx, s.storage, key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				log.WithFields(log.Fields{"task_id": task.ID, "key": key}).Warn("[GRADE] image missing, skipping")
				continue
			}
			return nil, fmt.Errorf("failed to load image %s: %w", key, err)
		}
		images = append(images, ImageInput{Name: filepath.Base(key), Data: data})
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	return images, nil
}

// Grade runs the pipeline for a stored task and saves its artifacts
func (s *GradingService) Grade(ctx context.Context, task *models.Task) (*GradeOutcome, error) {
	images, err := s.LoadImages(ctx, task)
	if err != nil {
		return nil, err
	}
	return s.GradeImages(ctx, task.ID, images, task.Context)
}

// GradeImages runs both stages on in-memory pages. Artifacts go under runs/<taskID>/.
func (s *GradingService) GradeImages(ctx context.Context, taskID string, images []ImageInput, prompt string) (*GradeOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "grading.pipeline")
	span.SetAttributes(attribute.String("task_id", taskID), attribute.Int("images", len(images)))
	defer span.End()

	logger := log.WithField("task_id", taskID)
	start := time.Now()

	logger.WithField("stage", StageJSON).Infof("[GRADE] grading %d page(s)", len(images))
	result, err := s.grader.GradeEssay(ctx, images, prompt)
	if err != nil {
		var parseErr *ReportParseError
		if errors.As(err, &parseErr) && parseErr.Raw != "" {
			if _, serr := s.storage.Save(ctx, RawErrorKey(taskID), bytes.NewReader([]byte(parseErr.Raw)), "text/plain; charset=utf-8"); serr != nil {
				logger.Warnf("[GRADE] failed to keep raw model output: %v", serr)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	jsonDone := time.Now()
	telemetry.StageDurationSeconds.WithLabelValues(StageJSON).Observe(jsonDone.Sub(start).Seconds())

	outcome := &GradeOutcome{
		Report:   result.Report,
		RawJSON:  result.RawJSON,
		Attempts: result.Attempts,
		Model:    result.Model,
	}

	outcome.ReportKey, err = s.storage.Save(ctx, ResultKey(taskID), bytes.NewReader([]byte(result.RawJSON)), "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}

	logger.WithField("stage", StagePDF).Info("[GRADE] rendering PDF")
	pdfData, err := s.renderer.GenerateReportPDF(result.Report, ReportMeta{TaskID: taskID, GeneratedAt: time.Now()})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	outcome.PDF = pdfData
	outcome.PDFKey, err = s.storage.Save(ctx, PDFKey(taskID), bytes.NewReader(pdfData), "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to save PDF: %w", err)
	}
	pdfDone := time.Now()
	telemetry.StageDurationSeconds.WithLabelValues(StagePDF).Observe(pdfDone.Sub(jsonDone).Seconds())
	telemetry.StageDurationSeconds.WithLabelValues(StageTotal).Observe(pdfDone.Sub(start).Seconds())

	outcome.Timing = models.Timing{
		JSONGenerationSeconds: utils.Seconds(jsonDone.Sub(start)),
		PDFGenerationSeconds:  utils.Seconds(pdfDone.Sub(jsonDone)),
		TotalSeconds:          utils.Seconds(pdfDone.Sub(start)),
	}

	logger.WithFields(log.Fields{
		"attempts":     outcome.Attempts,
		"json_seconds": outcome.Timing.JSONGenerationSeconds,
		"pdf_seconds":  outcome.Timing.PDFGenerationSeconds,
		"report_url":   s.storage.GetFileURL(outcome.PDFKey),
	}).Info("[GRADE] pipeline finished")
	return outcome, nil
}

// LocalRun describes a pipeline run written to a local directory
type LocalRun struct {
	Dir     string
	Outcome *GradeOutcome
}

// GradeLocal grades image files from disk and writes result.json and report.pdf
// into a fresh <outDir>/<YYYYMMDD-HHMMSS>_<hex>/ directory.
func GradeLocal(ctx context.Context, grader EssayGrader, renderer ReportRenderer, imagePaths []string, prompt, outDir string) (*LocalRun, error) {
	var images []ImageInput
	for _, p := range imagePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warnf("[GRADE] skipping %s: %v", p, err)
			continue
		}
		if _, ok := DetectImageType(data); !ok {
			log.Warnf("[GRADE] skipping %s: not an image", p)
			continue
		}
		images = append(images, ImageInput{Name: filepath.Base(p), Data: data})
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	name, err := utils.RunDirName(time.Now())
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(outDir, name)
	store, err := NewStorageService(dir, "")
	if err != nil {
		return nil, err
	}

	outcome, err := NewGradingService(grader, renderer, &flatRunStorage{store}).GradeImages(ctx, name, images, prompt)
	if err != nil {
		return &LocalRun{Dir: dir}, err
	}
	return &LocalRun{Dir: dir, Outcome: outcome}, nil
}

// flatRunStorage drops the runs/<id>/ prefix so a local run keeps its
// artifacts directly in the run directory.
type flatRunStorage struct {
	*StorageService
}

func (f *flatRunStorage) Save(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	return f.StorageService.Save(ctx, filepath.Base(key), reader, contentType)
}
