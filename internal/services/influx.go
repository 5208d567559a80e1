package services

import (
	"context"
	"fmt"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"
)

const timingMeasurement = "essay_grading"

// PointWriter is the blocking write API used for grading timings
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxService writes per-task grading timings to InfluxDB
type InfluxService struct {
	client   influxdb2.Client
	writeAPI PointWriter
	model    string
}

// NewInfluxService connects to InfluxDB. It returns nil, nil when no URL is
// configured; a nil *InfluxService drops every write.
func NewInfluxService(ctx context.Context, cfg config.InfluxDBConfig, model string) (*InfluxService, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	log.WithFields(log.Fields{"url": cfg.URL, "org": cfg.Org, "bucket": cfg.Bucket}).Info("[INFLUX-INIT] Initializing InfluxDB client")

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		log.Warnf("[INFLUX-WARN] InfluxDB health check returned status: %s", health.Status)
	}

	var writeAPI api.WriteAPIBlocking = client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	return &InfluxService{client: client, writeAPI: writeAPI, model: model}, nil
}

// NewInfluxServiceWithWriter wires an explicit writer, mainly for tests
func NewInfluxServiceWithWriter(writer PointWriter, model string) *InfluxService {
	return &InfluxService{writeAPI: writer, model: model}
}

// TimingPoint builds the essay_grading point for a finished task
func TimingPoint(task *models.Task, model string) *write.Point {
	ts := time.Now()
	if task.CompletedAt != nil {
		ts = *task.CompletedAt
	}

	fields := map[string]interface{}{
		"attempts": task.Attempts,
	}
	if task.Timing != nil {
		fields["json_seconds"] = task.Timing.JSONGenerationSeconds
		fields["pdf_seconds"] = task.Timing.PDFGenerationSeconds
		fields["total_seconds"] = task.Timing.TotalSeconds
	}

	return influxdb2.NewPoint(timingMeasurement,
		map[string]string{"status": string(task.Status), "model": model},
		fields,
		ts,
	)
}

// WriteGradingTimings records the stage timings of a finished task
func (s *InfluxService) WriteGradingTimings(ctx context.Context, task *models.Task) error {
	if s == nil || task == nil {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, TimingPoint(task, s.model)); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (s *InfluxService) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
