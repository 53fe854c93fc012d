package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

// maxMetricsBatch bounds one ingest request.
const maxMetricsBatch = 5000

type SystemService struct {
	db       core.DbClient
	importer *ingestion_engine.MetricsImporter
}

func NewSystemService(db core.DbClient) *SystemService {
	return &SystemService{db: db, importer: ingestion_engine.NewMetricsImporter(db, nil)}
}

type SystemInput struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Location    string     `json:"location" validate:"max=200"`
	CapacityKW  float64    `json:"capacity_kw" validate:"gt=0,lte=100000"`
	ProductID   *string    `json:"product_id,omitempty" validate:"omitempty,uuid"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
}

func (in SystemInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	return validateStruct(in)
}

func (s *SystemService) Create(ctx context.Context, userID string, in SystemInput) (*models.System, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sys := &models.System{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		Location:    strings.TrimSpace(in.Location),
		CapacityKW:  in.CapacityKW,
		ProductID:   in.ProductID,
		InstalledAt: in.InstalledAt,
	}
	if err := s.db.CreateSystem(ctx, sys); err != nil {
		return nil, err
	}
	return sys, nil
}

// Get returns the system when it belongs to userID.
func (s *SystemService) Get(ctx context.Context, userID, id string) (*models.System, error) {
	sys, err := s.db.GetSystemByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sys.UserID != userID {
		return nil, ErrForbidden
	}
	return sys, nil
}

func (s *SystemService) List(ctx context.Context, userID string) ([]models.System, error) {
	return s.db.ListSystemsByUser(ctx, userID)
}

func (s *SystemService) Update(ctx context.Context, userID, id string, in SystemInput) (*models.System, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sys, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	sys.Name = strings.TrimSpace(in.Name)
	sys.Location = strings.TrimSpace(in.Location)
	sys.CapacityKW = in.CapacityKW
	sys.ProductID = in.ProductID
	sys.InstalledAt = in.InstalledAt
	if err := s.db.UpdateSystem(ctx, sys); err != nil {
		return nil, err
	}
	return sys, nil
}

func (s *SystemService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.db.DeleteSystem(ctx, id)
}

// AddMetrics stores a batch of readings for one of the user's systems.
// The system id in the path wins over any id in the readings.
func (s *SystemService) AddMetrics(ctx context.Context, userID, systemID string, metrics []models.EnergyMetric) (int, error) {
	if len(metrics) == 0 {
		return 0, fmt.Errorf("%w: no readings", ErrInvalidInput)
	}
	if len(metrics) > maxMetricsBatch {
		return 0, fmt.Errorf("%w: at most %d readings per request", ErrInvalidInput, maxMetricsBatch)
	}
	if _, err := s.Get(ctx, userID, systemID); err != nil {
		return 0, err
	}
	for i := range metrics {
		m := &metrics[i]
		if m.RecordedAt.IsZero() {
			return 0, fmt.Errorf("%w: reading %d has no recorded_at", ErrInvalidInput, i)
		}
		if m.ProducedKWh < 0 || m.ConsumedKWh < 0 || m.GridExportKWh < 0 {
			return 0, fmt.Errorf("%w: reading %d has a negative value", ErrInvalidInput, i)
		}
		m.SystemID = systemID
		m.RecordedAt = m.RecordedAt.UTC()
	}
	if err := s.db.InsertMetrics(ctx, metrics); err != nil {
		return 0, err
	}
	return len(metrics), nil
}

// Metrics lists readings in [from, to). A zero to means now; a zero from
// means seven days before to.
func (s *SystemService) Metrics(ctx context.Context, userID, systemID string, from, to time.Time) ([]models.EnergyMetric, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, userID, systemID); err != nil {
		return nil, err
	}
	return s.db.ListMetrics(ctx, systemID, from, to)
}

// ImportMetrics streams a CSV upload of readings into one of the user's
// systems and returns the number of rows written.
func (s *SystemService) ImportMetrics(ctx context.Context, userID, systemID string, r io.Reader) (int, error) {
	if _, err := s.Get(ctx, userID, systemID); err != nil {
		return 0, err
	}
	return s.importer.Import(ctx, systemID, r)
}
