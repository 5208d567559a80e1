package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// InitLogger configures the shared logrus logger. Unknown levels fall back to info.
func InitLogger(level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}

	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.Errorf("Invalid LOG_LEVEL '%s', defaulting to INFO", level)
	} else {
		log.SetLevel(parsed)
	}

	isK8s := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	formatter := &log.TextFormatter{
		DisableQuote:    true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     !isK8s,
	}
	if isK8s {
		formatter.TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
	}

	log.SetOutput(os.Stdout)
	log.SetFormatter(formatter)
}

// InitSentry returns a hub bound to a fresh client, or nil when dsn is empty.
func InitSentry(dsn, environment string) (*sentry.Hub, error) {
	if dsn == "" {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init sentry: %w", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), nil
}

// FlushSentry waits for buffered events before shutdown.
func FlushSentry(hub *sentry.Hub) {
	if hub != nil {
		hub.Flush(2 * time.Second)
	}
}

// LogError logs err with the caller location and any extra fields.
func LogError(err error, context string, fields ...map[string]interface{}) {
	if err == nil {
		return
	}

	entry := log.Fields{
		"error":   err.Error(),
		"context": context,
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		entry["file"] = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	for _, extra := range fields {
		for k, v := range extra {
			entry[k] = v
		}
	}

	log.WithFields(entry).Error(context)
}

// LogAndCapture logs err and reports it to Sentry when a hub is configured.
func LogAndCapture(hub *sentry.Hub, err error, context string, fields ...map[string]interface{}) {
	if err == nil {
		return
	}
	LogError(err, context, fields...)

	if hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("context", context)
			for _, extra := range fields {
				for k, v := range extra {
					scope.SetExtra(k, v)
				}
			}
			hub.CaptureException(err)
		})
	}
}
