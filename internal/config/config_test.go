package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("TASK_STORE", "memory")
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("POINTS_PER_ESSAY", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "qwen-vl-max", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 10, cfg.Billing.PointsPerEssay)
	assert.Equal(t, "@every 5m", cfg.Worker.SweepSchedule)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("TASK_STORE", "badger")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("LLM_STRICT_SCHEMA", "true")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Queue.KafkaBrokers)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.LLM.StrictSchema)
	assert.Equal(t, 4, cfg.Worker.Concurrency, "unparsable ints fall back to the default")
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{MaxImages: 4},
			LLM:       LLMConfig{MaxAttempts: 3},
			Queue:     QueueConfig{Backend: "memory"},
			TaskStore: TaskStoreConfig{Backend: "memory"},
			Storage:   StorageConfig{Backend: "local", Path: "/tmp/x"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"kafka without brokers", func(c *Config) { c.Queue.Backend = "kafka" }, "KAFKA_BROKERS is required"},
		{"unknown queue", func(c *Config) { c.Queue.Backend = "sqs" }, "QUEUE_BACKEND must be one of"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "S3_BUCKET is required"},
		{"postgres without jwt secret", func(c *Config) { c.Postgres.DSN = "postgres://x" }, "JWT_SECRET is required"},
		{"zero attempts", func(c *Config) { c.LLM.MaxAttempts = 0 }, "LLM_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{Concurrency: 1}}
	assert.EqualError(t, ValidateWorker(cfg), "LLM_API_KEY is required")

	cfg.LLM.APIKey = "sk-test"
	assert.EqualError(t, ValidateWorker(cfg), "PDF_FONT_PATH is required: no CJK TrueType font found")

	cfg.PDF.FontPath = filepath.Join(t.TempDir(), "missing.ttf")
	assert.ErrorContains(t, ValidateWorker(cfg), "PDF_FONT_PATH")

	cfg.PDF.FontPath = writeFont(t)
	assert.NoError(t, ValidateWorker(cfg))
}

func writeFont(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cjk.ttf")
	require.NoError(t, os.WriteFile(path, []byte("ttf"), 0o644))
	return path
}

func TestDiscoverFont(t *testing.T) {
	saved := fontCandidates
	t.Cleanup(func() { fontCandidates = saved })

	font := writeFont(t)
	fontCandidates = []string{"/nonexistent/a.ttf", t.TempDir(), font}
	assert.Equal(t, font, DiscoverFont())

	fontCandidates = []string{"/nonexistent/a.ttf"}
	assert.Equal(t, "", DiscoverFont())

	// an explicit setting wins over discovery
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("TASK_STORE", "memory")
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("PDF_FONT_PATH", "/fonts/custom.ttf")
	fontCandidates = []string{font}
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/fonts/custom.ttf", cfg.PDF.FontPath)
}
