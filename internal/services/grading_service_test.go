package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"essay-grader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrader struct {
	calls  int
	prompt string
	images []ImageInput
	err    error
}

func (f *fakeGrader) GradeEssay(_ context.Context, images []ImageInput, prompt string) (*GradingResult, error) {
	f.calls++
	f.prompt = prompt
	f.images = images
	if f.err != nil {
		return nil, f.err
	}
	report := sampleReport()
	raw, _ := json.Marshal(report)
	return &GradingResult{Report: report, RawJSON: string(raw), Attempts: 1, Model: "test-model"}, nil
}

func newTestStorage(t *testing.T) *StorageService {
	store, err := NewStorageService(t.TempDir(), "http://localhost:8085/files")
	require.NoError(t, err)
	return store
}

func TestGradingService_Grade(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	grader := &fakeGrader{}
	svc := NewGradingService(grader, NewPDFService(""), store)

	task := NewTask(0, "letter to Tom")
	key := UploadKey(task.ID, 1, "page.png")
	_, err := store.Save(ctx, key, bytes.NewReader(testPNG), "image/png")
	require.NoError(t, err)
	task.Images = []string{key, UploadKey(task.ID, 2, "missing.png")}

	outcome, err := svc.Grade(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 1, grader.calls)
	assert.Equal(t, "letter to Tom", grader.prompt)
	require.Len(t, grader.images, 1)
	assert.Equal(t, "1_page.png", grader.images[0].Name)

	assert.Equal(t, ResultKey(task.ID), outcome.ReportKey)
	assert.Equal(t, PDFKey(task.ID), outcome.PDFKey)
	assert.Equal(t, "test-model", outcome.Model)
	assert.GreaterOrEqual(t, outcome.Timing.TotalSeconds, outcome.Timing.JSONGenerationSeconds)

	saved, err := ReadObject(ctx, store, ResultKey(task.ID))
	require.NoError(t, err)
	assert.JSONEq(t, outcome.RawJSON, string(saved))

	pdf, err := ReadObject(ctx, store, PDFKey(task.ID))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(pdf[:5]))
}

func TestGradingService_NoImages(t *testing.T) {
	svc := NewGradingService(&fakeGrader{}, NewPDFService(""), newTestStorage(t))
	task := NewTask(0, "")
	task.Images = []string{"uploads/none/1_a.png"}

	_, err := svc.Grade(context.Background(), task)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestGradingService_KeepsRawOutputOnParseFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	grader := &fakeGrader{err: &ReportParseError{Raw: "not json at all", Err: errors.New("bad")}}
	svc := NewGradingService(grader, NewPDFService(""), store)

	_, err := svc.GradeImages(ctx, "task-x", []ImageInput{{Name: "a.png", Data: testPNG}}, "")
	require.Error(t, err)

	raw, err := ReadObject(ctx, store, RawErrorKey("task-x"))
	require.NoError(t, err)
	assert.Equal(t, "not json at all", string(raw))

	_, err = ReadObject(ctx, store, PDFKey("task-x"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestGradeLocal(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "page1.png")
	require.NoError(t, os.WriteFile(img, testPNG, 0644))
	notImage := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notImage, []byte("hello"), 0644))

	grader := &fakeGrader{}
	run, err := GradeLocal(context.Background(), grader, NewPDFService(""), []string{img, notImage, filepath.Join(dir, "gone.png")}, "", filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, grader.images, 1)

	assert.Regexp(t, `^\d{8}-\d{6}_[0-9a-f]{6}$`, filepath.Base(run.Dir))
	assert.FileExists(t, filepath.Join(run.Dir, "result.json"))
	assert.FileExists(t, filepath.Join(run.Dir, "report.pdf"))

	var report models.EssayReport
	data, err := os.ReadFile(filepath.Join(run.Dir, "result.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, sampleReport().OriginalText, report.OriginalText)
}

func TestGradeLocal_NoUsableImages(t *testing.T) {
	_, err := GradeLocal(context.Background(), &fakeGrader{}, NewPDFService(""), []string{"/does/not/exist.png"}, "", t.TempDir())
	assert.ErrorIs(t, err, ErrNoImages)
}
