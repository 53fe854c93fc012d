package ingestion_engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// ErrBadRow reports a CSV row that cannot be turned into a reading.
var ErrBadRow = errors.New("bad metrics row")

const (
	colRecordedAt = "recorded_at"
	colProduced   = "produced_kwh"
	colConsumed   = "consumed_kwh"
	colExport     = "grid_export_kwh"
)

// extractReadings parses CSV rows into readings on a receive-only channel.
// The header row names the columns; recorded_at and produced_kwh are
// required, the others default to zero.
func (m *MetricsImporter) extractReadings(ctx context.Context, g *errgroup.Group, r io.Reader, systemID string) <-chan models.EnergyMetric {
	out := make(chan models.EnergyMetric, 64)

	g.Go(func() error {
		defer close(out)

		cr := csv.NewReader(r)
		cr.TrimLeadingSpace = true
		cr.ReuseRecord = true

		header, err := cr.Read()
		if err == io.EOF {
			return fmt.Errorf("%w: empty upload", ErrBadRow)
		}
		if err != nil {
			return fmt.Errorf("%w: header: %v", ErrBadRow, err)
		}
		cols := map[string]int{}
		for i, name := range header {
			cols[strings.ToLower(strings.TrimSpace(name))] = i
		}
		for _, required := range []string{colRecordedAt, colProduced} {
			if _, ok := cols[required]; !ok {
				return fmt.Errorf("%w: missing %s column", ErrBadRow, required)
			}
		}

		for rows := 0; ; rows++ {
			rec, err := cr.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBadRow, err)
			}
			line, _ := cr.FieldPos(0)
			if m.cfg.MaxRows > 0 && rows >= m.cfg.MaxRows {
				return fmt.Errorf("%w: more than %d rows", ErrBadRow, m.cfg.MaxRows)
			}
			reading, err := parseRow(rec, cols)
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrBadRow, line, err)
			}
			reading.SystemID = systemID

			select {
			case out <- reading:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return out
}

func parseRow(rec []string, cols map[string]int) (models.EnergyMetric, error) {
	var m models.EnergyMetric
	ts := strings.TrimSpace(rec[cols[colRecordedAt]])
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		if t, err = time.Parse(time.DateTime, ts); err != nil {
			return m, fmt.Errorf("recorded_at %q is not a timestamp", ts)
		}
	}
	m.RecordedAt = t.UTC()

	for col, dst := range map[string]*float64{
		colProduced: &m.ProducedKWh,
		colConsumed: &m.ConsumedKWh,
		colExport:   &m.GridExportKWh,
	} {
		i, ok := cols[col]
		if !ok || strings.TrimSpace(rec[i]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil || v < 0 {
			return m, fmt.Errorf("%s %q is not a non-negative number", col, rec[i])
		}
		*dst = v
	}
	return m, nil
}
