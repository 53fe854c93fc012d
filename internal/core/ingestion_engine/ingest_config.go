package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// IngestConfig tunes the streaming import pipeline.
//
// BatchSize: how many readings to write in one transaction (e.g., 500).
// MaxRows:   upper bound on rows accepted from one upload; 0 means no limit.
type IngestConfig struct {
	BatchSize int
	MaxRows   int
}

// DefaultIngestConfig is used when NewMetricsImporter gets nil.
var DefaultIngestConfig = IngestConfig{BatchSize: 500, MaxRows: 100_000}

// MetricsWriter persists one batch of readings atomically.
type MetricsWriter interface {
	InsertMetrics(ctx context.Context, metrics []models.EnergyMetric) error
}

// MetricsImporter streams CSV readings into storage:
//
// db:   persistence for energy metrics.
// cfg:  runtime tuning knobs for the pipeline.
type MetricsImporter struct {
	db  MetricsWriter
	cfg IngestConfig
}

func NewMetricsImporter(db MetricsWriter, cfg *IngestConfig) *MetricsImporter {
	c := DefaultIngestConfig
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultIngestConfig.BatchSize
	}
	return &MetricsImporter{db: db, cfg: c}
}
