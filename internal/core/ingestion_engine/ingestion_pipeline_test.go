package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]models.EnergyMetric
	failOn  int
}

func (w *recordingWriter) InsertMetrics(_ context.Context, metrics []models.EnergyMetric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn > 0 && len(w.batches)+1 == w.failOn {
		return errors.New("db down")
	}
	w.batches = append(w.batches, append([]models.EnergyMetric(nil), metrics...))
	return nil
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("recorded_at,produced_kwh,consumed_kwh\n")
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		b.WriteString(start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339))
		b.WriteString(",1.5,0.5\n")
	}
	return b.String()
}

func TestImport_Batches(t *testing.T) {
	w := &recordingWriter{}
	imp := NewMetricsImporter(w, &IngestConfig{BatchSize: 4})

	n, err := imp.Import(context.Background(), "sys-1", strings.NewReader(csvRows(10)))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 4)
	assert.Len(t, w.batches[2], 2)

	first := w.batches[0][0]
	assert.Equal(t, "sys-1", first.SystemID)
	assert.Equal(t, 1.5, first.ProducedKWh)
	assert.Equal(t, 0.5, first.ConsumedKWh)
	assert.Zero(t, first.GridExportKWh)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), first.RecordedAt)
}

func TestImport_HeaderOrderAndDateTime(t *testing.T) {
	w := &recordingWriter{}
	imp := NewMetricsImporter(w, nil)

	body := "Produced_kWh, recorded_at\n2.25, 2025-06-01 12:30:00\n"
	n, err := imp.Import(context.Background(), "sys-1", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.25, w.batches[0][0].ProducedKWh)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), w.batches[0][0].RecordedAt)
}

func TestImport_BadInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"missing column": "recorded_at,consumed_kwh\n2025-06-01T00:00:00Z,1\n",
		"bad timestamp":  "recorded_at,produced_kwh\nyesterday,1\n",
		"negative":       "recorded_at,produced_kwh\n2025-06-01T00:00:00Z,-1\n",
		"ragged row":     "recorded_at,produced_kwh\n2025-06-01T00:00:00Z\n",
		"not a number":   "recorded_at,produced_kwh\n2025-06-01T00:00:00Z,lots\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := &recordingWriter{}
			_, err := NewMetricsImporter(w, nil).Import(context.Background(), "s", strings.NewReader(body))
			assert.ErrorIs(t, err, ErrBadRow)
			assert.Empty(t, w.batches)
		})
	}
}

func TestImport_MaxRows(t *testing.T) {
	w := &recordingWriter{}
	_, err := NewMetricsImporter(w, &IngestConfig{BatchSize: 100, MaxRows: 5}).
		Import(context.Background(), "s", strings.NewReader(csvRows(6)))
	assert.ErrorIs(t, err, ErrBadRow)
}

func TestImport_WriterFailureStopsPipeline(t *testing.T) {
	w := &recordingWriter{failOn: 2}
	n, err := NewMetricsImporter(w, &IngestConfig{BatchSize: 2}).
		Import(context.Background(), "s", strings.NewReader(csvRows(50)))
	require.Error(t, err)
	assert.EqualError(t, err, "db down")
	assert.Equal(t, 2, n)
}
