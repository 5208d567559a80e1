package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Queue     QueueConfig
	TaskStore TaskStoreConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Storage   StorageConfig
	S3        S3Config
	JWT       JWTConfig
	Admin     AdminConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	InfluxDB  InfluxDBConfig
	Telemetry TelemetryConfig
	Sentry    SentryConfig
	Log       LogConfig
	Worker    WorkerConfig
	PDF       PDFConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	Host        string
	GinMode     string
	MaxUploadMB int
	MaxImages   int
}

// LLMConfig holds the OpenAI-compatible multimodal endpoint settings
type LLMConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxTokens        int // 0 means provider default
	Timeout          time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration // base of the quadratic backoff between attempts
	RequestsPerSec   float64       // 0 disables throttling
	SystemPromptFile string
	StrictSchema     bool
}

// QueueConfig selects and configures the task queue backend
type QueueConfig struct {
	Backend      string // redis, kafka or memory
	RedisAddr    string
	RedisDB      int
	RedisList    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// TaskStoreConfig selects where task records live
type TaskStoreConfig struct {
	Backend    string // mongo, badger or memory
	BadgerPath string
}

// MongoDBConfig holds MongoDB connection details
type MongoDBConfig struct {
	URI        string
	Username   string
	Password   string
	Host       string
	Port       string
	Database   string
	Collection string
	AuthSource string // Database to authenticate against (default: admin)
}

// PostgresConfig holds the accounts database. Empty DSN disables billing.
type PostgresConfig struct {
	DSN string
}

// StorageConfig holds artifact storage settings
type StorageConfig struct {
	Backend       string // local or s3
	Path          string
	PublicBaseURL string
}

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional: for MinIO or other S3-compatible services
	Prefix          string // Optional key prefix when the bucket is shared
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// AdminConfig guards the admin endpoints
type AdminConfig struct {
	Token string
}

// BillingConfig holds points pricing
type BillingConfig struct {
	PointsPerEssay  int
	RefundOnFailure bool
}

// RateLimitConfig bounds uploaded pages per user or client IP
type RateLimitConfig struct {
	Pages  int // per window, 0 disables
	Window time.Duration
}

// EmailConfig holds SendGrid email configuration
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// InfluxDBConfig holds InfluxDB connection details for grading timings
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// TelemetryConfig holds metrics and tracing settings
type TelemetryConfig struct {
	ServiceName  string
	MetricsAddr  string
	OTLPEndpoint string
}

// SentryConfig holds error reporting settings
type SentryConfig struct {
	DSN         string
	Environment string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// WorkerConfig holds grading worker settings
type WorkerConfig struct {
	Concurrency   int
	TaskTimeout   time.Duration
	SweepSchedule string
	StaleAfter    time.Duration
}

// PDFConfig holds report rendering settings
type PDFConfig struct {
	FontPath string // UTF-8 TTF, required for CJK output
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8085"),
			Host:        getEnv("HOST", "0.0.0.0"),
			GinMode:     getEnv("GIN_MODE", "release"),
			MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 20),
			MaxImages:   getEnvInt("MAX_IMAGES", 8),
		},
		LLM: LLMConfig{
			APIKey:           getEnv("LLM_API_KEY", getEnv("DASHSCOPE_API_KEY", "")),
			BaseURL:          getEnv("LLM_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			Model:            getEnv("LLM_MODEL", "qwen-vl-max"),
			Temperature:      getEnvFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:        getEnvInt("LLM_MAX_TOKENS", 0),
			Timeout:          getEnvDuration("LLM_TIMEOUT", 120*time.Second),
			MaxAttempts:      getEnvInt("LLM_MAX_ATTEMPTS", 3),
			RetryDelay:       getEnvDuration("LLM_RETRY_DELAY", 2*time.Second),
			RequestsPerSec:   getEnvFloat("LLM_RPS", 0),
			SystemPromptFile: getEnv("LLM_SYSTEM_PROMPT_FILE", ""),
			StrictSchema:     getEnvBool("LLM_STRICT_SCHEMA", false),
		},
		Queue: QueueConfig{
			Backend:      getEnv("QUEUE_BACKEND", "redis"),
			RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:      getEnvInt("REDIS_DB", 0),
			RedisList:    getEnv("REDIS_QUEUE", "essay:grading"),
			KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "essay-grading"),
			KafkaGroupID: getEnv("KAFKA_GROUP_ID", "essay-grader-workers"),
		},
		TaskStore: TaskStoreConfig{
			Backend:    getEnv("TASK_STORE", "mongo"),
			BadgerPath: getEnv("BADGER_PATH", "./data/tasks"),
		},
		MongoDB: MongoDBConfig{
			URI:        getEnv("MONGODB_URI", ""),
			Username:   getEnv("MONGODB_USERNAME", ""),
			Password:   getEnv("MONGODB_PASSWORD", ""),
			Host:       getEnv("MONGODB_HOST", "localhost"),
			Port:       getEnv("MONGODB_PORT", "27017"),
			Database:   getEnv("MONGODB_DATABASE", "essays"),
			Collection: getEnv("MONGODB_COLLECTION", "tasks"),
			AuthSource: getEnv("MONGODB_AUTH_SOURCE", "admin"),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "local"),
			Path:          getEnv("STORAGE_PATH", "./storage"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Prefix:          getEnv("S3_PREFIX", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getEnvDuration("JWT_TTL", 7*24*time.Hour),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		Billing: BillingConfig{
			PointsPerEssay:  getEnvInt("POINTS_PER_ESSAY", 10),
			RefundOnFailure: getEnvBool("REFUND_ON_FAILURE", true),
		},
		RateLimit: RateLimitConfig{
			Pages:  getEnvInt("RATE_LIMIT_PAGES", 0),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Email: EmailConfig{
			APIKey:    getEnv("SENDGRID_API_KEY", ""),
			FromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
			FromName:  getEnv("SENDGRID_FROM_NAME", "Essay Grader"),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB2_URL", ""),
			Token:  getEnv("INFLUXDB2_TOKEN", ""),
			Org:    getEnv("INFLUXDB2_ORG", ""),
			Bucket: getEnv("INFLUXDB2_BUCKET", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "essay-grader"),
			MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: getEnv("SENTRY_ENVIRONMENT", "development"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Worker: WorkerConfig{
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
			TaskTimeout:   getEnvDuration("TASK_TIMEOUT", 10*time.Minute),
			SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
			StaleAfter:    getEnvDuration("STALE_AFTER", 30*time.Minute),
		},
		PDF: PDFConfig{
			FontPath: getEnv("PDF_FONT_PATH", DiscoverFont()),
		},
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateConfig validates that required configuration values are present
func ValidateConfig(config *Config) error {
	switch config.Queue.Backend {
	case "redis":
		if config.Queue.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when QUEUE_BACKEND=redis")
		}
	case "kafka":
		if len(config.Queue.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when QUEUE_BACKEND=kafka")
		}
	case "memory":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, kafka, memory (got %q)", config.Queue.Backend)
	}

	switch config.TaskStore.Backend {
	case "mongo", "memory":
	case "badger":
		if config.TaskStore.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when TASK_STORE=badger")
		}
	default:
		return fmt.Errorf("TASK_STORE must be one of mongo, badger, memory (got %q)", config.TaskStore.Backend)
	}

	switch config.Storage.Backend {
	case "local":
		if config.Storage.Path == "" {
			return fmt.Errorf("STORAGE_PATH is required when STORAGE_BACKEND=local")
		}
	case "s3":
		if config.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3 (got %q)", config.Storage.Backend)
	}

	// Accounts need signed tokens
	if config.Postgres.DSN != "" && config.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required when POSTGRES_DSN is set")
	}
	if config.Billing.PointsPerEssay < 0 {
		return fmt.Errorf("POINTS_PER_ESSAY must not be negative")
	}
	if config.LLM.MaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1")
	}
	if config.Server.MaxImages < 1 {
		return fmt.Errorf("MAX_IMAGES must be at least 1")
	}
	return nil
}

// ValidateWorker checks the settings only the grading worker needs
func ValidateWorker(config *Config) error {
	if config.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if config.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	// The core PDF fonts only cover cp1252, so Chinese comments would print as dots
	if config.PDF.FontPath == "" {
		return fmt.Errorf("PDF_FONT_PATH is required: no CJK TrueType font found")
	}
	if _, err := os.Stat(config.PDF.FontPath); err != nil {
		return fmt.Errorf("PDF_FONT_PATH: %w", err)
	}
	return nil
}

// fontCandidates are common TrueType locations of fonts with CJK coverage.
// Collections (.ttc) and OpenType CFF fonts are not readable by the PDF writer.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
	"/usr/share/fonts/google-droid/DroidSansFallback.ttf",
	"/usr/share/fonts/truetype/arphic-gkai00mp/gkai00mp.ttf",
	"/usr/share/fonts/truetype/arphic-bsmi00lp/bsmi00lp.ttf",
	"/Library/Fonts/Arial Unicode.ttf",
	"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
	`C:\Windows\Fonts\simhei.ttf`,
}

// DiscoverFont returns the first installed CJK font, or "" when none is found
func DiscoverFont() string {
	for _, path := range fontCandidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable access
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
