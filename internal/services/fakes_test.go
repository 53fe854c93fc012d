package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Sunlytics/internal/core"
	db "github.com/markdave123-py/Sunlytics/internal/core/database"
	"github.com/markdave123-py/Sunlytics/internal/core/memory"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

// fakeDB is an in-memory core.DbClient.
type fakeDB struct {
	mu       sync.Mutex
	users    map[string]*models.User
	settings map[string]*models.ToolSettings
	products map[string]*models.Product
	systems  map[string]*models.System
	metrics  []models.EnergyMetric
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:    map[string]*models.User{},
		settings: map[string]*models.ToolSettings{},
		products: map[string]*models.Product{},
		systems:  map[string]*models.System{},
	}
}

func (f *fakeDB) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return fmt.Errorf("create user: %w", db.ErrAlreadyExists)
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeDB) GetToolSettings(_ context.Context, userID string) (*models.ToolSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settings[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeDB) UpsertToolSettings(_ context.Context, s *models.ToolSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.settings[s.UserID] = &cp
	return nil
}

func (f *fakeDB) CreateProduct(_ context.Context, p *models.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.products[p.ID] = &cp
	return nil
}

func (f *fakeDB) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeDB) ListProducts(_ context.Context, category string) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Product{}
	for _, p := range f.products {
		if category == "" || p.Category == category {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeDB) CreateSystem(_ context.Context, s *models.System) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.systems[s.ID] = &cp
	return nil
}

func (f *fakeDB) GetSystemByID(_ context.Context, id string) (*models.System, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.systems[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeDB) ListSystemsByUser(_ context.Context, userID string) ([]models.System, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.System{}
	for _, s := range f.systems {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateSystem(_ context.Context, s *models.System) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.systems[s.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *s
	f.systems[s.ID] = &cp
	return nil
}

func (f *fakeDB) DeleteSystem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.systems[id]; !ok {
		return db.ErrNotFound
	}
	delete(f.systems, id)
	return nil
}

func (f *fakeDB) InsertMetrics(_ context.Context, metrics []models.EnergyMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, metrics...)
	return nil
}

func (f *fakeDB) ListMetrics(_ context.Context, systemID string, from, to time.Time) ([]models.EnergyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.EnergyMetric{}
	for _, m := range f.metrics {
		if m.SystemID == systemID && !m.RecordedAt.Before(from) && m.RecordedAt.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

// fakeProvider replays a canned upstream body and records the request.
type fakeProvider struct {
	body string
	err  error

	mu   sync.Mutex
	reqs []core.CompletionRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) StreamCompletion(_ context.Context, req core.CompletionRequest) (io.ReadCloser, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return io.NopCloser(strings.NewReader(p.body)), nil
}

func (p *fakeProvider) last() core.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type fakeObjects struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (o *fakeObjects) UploadFile(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uploads == nil {
		o.uploads = map[string][]byte{}
	}
	o.uploads[key] = b
	return "https://bucket.example/" + key, nil
}

func (o *fakeObjects) DeleteFile(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.uploads, key)
	return nil
}

func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return memory.NewStore(rdb, memory.DefaultRetention, discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ndjson(lines ...string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}
