package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Sunlytics/internal/config"
	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	return Open(ctx, dsn)
}

// Open connects to dsn, verifies the connection and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*DatabaseClient, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := EnsureBootstrapped(ctx, db, slog.Default()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q, user.ID, user.FirstName, user.Email, user.PasswordHash).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	return wrapError("create user", err)
}

const userColumns = `id, first_name, email, password_hash, created_at, updated_at`

func (c *DatabaseClient) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, arg).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, wrapError("get user", err)
	}
	return &u, nil
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return c.getUser(ctx, "email", email)
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return c.getUser(ctx, "id", id)
}

// Tool settings

func (c *DatabaseClient) GetToolSettings(ctx context.Context, userID string) (*models.ToolSettings, error) {
	const q = `
		SELECT user_id, web_fetch, code_execution, database_query, remote_command, pdf_reader,
		       allowed_urls, allowed_pdfs, updated_at
		FROM tool_settings WHERE user_id = $1
	`
	var (
		s          models.ToolSettings
		urls, pdfs []byte
	)
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&s.UserID, &s.WebFetch, &s.CodeExecution, &s.DatabaseQuery, &s.RemoteCommand, &s.PDFReader,
		&urls, &pdfs, &s.UpdatedAt,
	)
	if err != nil {
		return nil, wrapError("get tool settings", err)
	}
	if err := json.Unmarshal(urls, &s.AllowedURLs); err != nil {
		return nil, fmt.Errorf("decode allowed_urls: %w", err)
	}
	if err := json.Unmarshal(pdfs, &s.AllowedPDFs); err != nil {
		return nil, fmt.Errorf("decode allowed_pdfs: %w", err)
	}
	return &s, nil
}

func (c *DatabaseClient) UpsertToolSettings(ctx context.Context, s *models.ToolSettings) error {
	if s == nil {
		return errors.New("nil tool settings")
	}
	urls, err := json.Marshal(nonNil(s.AllowedURLs))
	if err != nil {
		return err
	}
	pdfs, err := json.Marshal(nonNil(s.AllowedPDFs))
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO tool_settings
			(user_id, web_fetch, code_execution, database_query, remote_command, pdf_reader, allowed_urls, allowed_pdfs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			web_fetch = EXCLUDED.web_fetch,
			code_execution = EXCLUDED.code_execution,
			database_query = EXCLUDED.database_query,
			remote_command = EXCLUDED.remote_command,
			pdf_reader = EXCLUDED.pdf_reader,
			allowed_urls = EXCLUDED.allowed_urls,
			allowed_pdfs = EXCLUDED.allowed_pdfs,
			updated_at = now()
		RETURNING updated_at
	`
	err = c.db.QueryRowContext(ctx, q,
		s.UserID, s.WebFetch, s.CodeExecution, s.DatabaseQuery, s.RemoteCommand, s.PDFReader, string(urls), string(pdfs),
	).Scan(&s.UpdatedAt)
	return wrapError("upsert tool settings", err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Products

const productColumns = `id, name, category, manufacturer, rated_watts, description, created_at`

func (c *DatabaseClient) CreateProduct(ctx context.Context, p *models.Product) error {
	if p == nil {
		return errors.New("nil product")
	}
	const q = `
		INSERT INTO products (id, name, category, manufacturer, rated_watts, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := c.db.QueryRowContext(ctx, q, p.ID, p.Name, p.Category, p.Manufacturer, p.RatedWatts, p.Description).
		Scan(&p.CreatedAt)
	return wrapError("create product", err)
}

func (c *DatabaseClient) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Category, &p.Manufacturer, &p.RatedWatts, &p.Description, &p.CreatedAt,
	)
	if err != nil {
		return nil, wrapError("get product", err)
	}
	return &p, nil
}

// ListProducts returns the catalog ordered by name, optionally filtered by
// category.
func (c *DatabaseClient) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	const q = `SELECT ` + productColumns + ` FROM products WHERE ($1 = '' OR category = $1) ORDER BY name ASC`
	rows, err := c.db.QueryContext(ctx, q, category)
	if err != nil {
		return nil, wrapError("list products", err)
	}
	defer rows.Close()

	out := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Manufacturer, &p.RatedWatts, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Systems

const systemColumns = `id, user_id, name, location, capacity_kw, product_id, installed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSystem(r rowScanner) (models.System, error) {
	var (
		s         models.System
		productID sql.NullString
		installed sql.NullTime
	)
	err := r.Scan(&s.ID, &s.UserID, &s.Name, &s.Location, &s.CapacityKW, &productID, &installed, &s.CreatedAt, &s.UpdatedAt)
	if productID.Valid {
		s.ProductID = &productID.String
	}
	if installed.Valid {
		s.InstalledAt = &installed.Time
	}
	return s, err
}

func (c *DatabaseClient) CreateSystem(ctx context.Context, s *models.System) error {
	if s == nil {
		return errors.New("nil system")
	}
	const q = `
		INSERT INTO systems (id, user_id, name, location, capacity_kw, product_id, installed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q, s.ID, s.UserID, s.Name, s.Location, s.CapacityKW, s.ProductID, s.InstalledAt).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	return wrapError("create system", err)
}

func (c *DatabaseClient) GetSystemByID(ctx context.Context, id string) (*models.System, error) {
	s, err := scanSystem(c.db.QueryRowContext(ctx, `SELECT `+systemColumns+` FROM systems WHERE id = $1`, id))
	if err != nil {
		return nil, wrapError("get system", err)
	}
	return &s, nil
}

func (c *DatabaseClient) ListSystemsByUser(ctx context.Context, userID string) ([]models.System, error) {
	const q = `SELECT ` + systemColumns + ` FROM systems WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, wrapError("list systems", err)
	}
	defer rows.Close()

	out := []models.System{}
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateSystem(ctx context.Context, s *models.System) error {
	const q = `
		UPDATE systems
		SET name = $2, location = $3, capacity_kw = $4, product_id = $5, installed_at = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := c.db.QueryRowContext(ctx, q, s.ID, s.Name, s.Location, s.CapacityKW, s.ProductID, s.InstalledAt).
		Scan(&s.UpdatedAt)
	return wrapError("update system", err)
}

func (c *DatabaseClient) DeleteSystem(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM systems WHERE id = $1`, id)
	if err != nil {
		return wrapError("delete system", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete system %s: %w", id, ErrNotFound)
	}
	return nil
}

// Energy metrics

// InsertMetrics writes readings in a single transaction. A reading for an
// existing (system, timestamp) pair replaces the old values.
func (c *DatabaseClient) InsertMetrics(ctx context.Context, metrics []models.EnergyMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO energy_metrics (system_id, recorded_at, produced_kwh, consumed_kwh, grid_export_kwh)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (system_id, recorded_at) DO UPDATE SET
			produced_kwh = EXCLUDED.produced_kwh,
			consumed_kwh = EXCLUDED.consumed_kwh,
			grid_export_kwh = EXCLUDED.grid_export_kwh
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range metrics {
		m := &metrics[i]
		if _, err := stmt.ExecContext(ctx, m.SystemID, m.RecordedAt, m.ProducedKWh, m.ConsumedKWh, m.GridExportKWh); err != nil {
			_ = tx.Rollback()
			return wrapError("insert metrics", err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListMetrics(ctx context.Context, systemID string, from, to time.Time) ([]models.EnergyMetric, error) {
	const q = `
		SELECT system_id, recorded_at, produced_kwh, consumed_kwh, grid_export_kwh
		FROM energy_metrics
		WHERE system_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, systemID, from, to)
	if err != nil {
		return nil, wrapError("list metrics", err)
	}
	defer rows.Close()

	out := []models.EnergyMetric{}
	for rows.Next() {
		var m models.EnergyMetric
		if err := rows.Scan(&m.SystemID, &m.RecordedAt, &m.ProducedKWh, &m.ConsumedKWh, &m.GridExportKWh); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ core.DbClient = (*DatabaseClient)(nil)
