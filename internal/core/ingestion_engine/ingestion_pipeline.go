package ingestion_engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// Import streams CSV readings for systemID from r into storage and returns
// how many rows were written. Batches are written as they fill, so a
// failure part way leaves earlier batches committed.
func (m *MetricsImporter) Import(ctx context.Context, systemID string, r io.Reader) (int, error) {
	// Build an errgroup to tie the pipeline stages together.
	g, gctx := errgroup.WithContext(ctx)

	// CSV -> readings.
	readings := m.extractReadings(gctx, g, r, systemID)

	// readings -> batches.
	batches := m.batch(gctx, g, readings, m.cfg.BatchSize)

	// batches -> storage.
	var written atomic.Int64
	g.Go(func() error {
		for b := range batches {
			if err := m.db.InsertMetrics(gctx, b); err != nil {
				return err
			}
			written.Add(int64(len(b)))
		}
		return nil
	})

	// Wait for all stages. Any error cancels the rest.
	err := g.Wait()
	n := int(written.Load())
	if err != nil {
		slog.Warn("metrics import failed", "system_id", systemID, "written", n, "error", err)
		return n, err
	}
	slog.Info("metrics imported", "system_id", systemID, "rows", n)
	return n, nil
}

// batch groups readings into slices of up to size elements.
func (m *MetricsImporter) batch(ctx context.Context, g *errgroup.Group, in <-chan models.EnergyMetric, size int) <-chan []models.EnergyMetric {
	out := make(chan []models.EnergyMetric, 2)

	g.Go(func() error {
		defer close(out)

		buf := make([]models.EnergyMetric, 0, size)
		flush := func() error {
			if len(buf) == 0 {
				return nil
			}
			// Emit the batch downstream; backpressure applies here.
			select {
			case out <- buf:
			case <-ctx.Done():
				return ctx.Err()
			}
			buf = make([]models.EnergyMetric, 0, size)
			return nil
		}

		for reading := range in {
			buf = append(buf, reading)
			if len(buf) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	return out
}
