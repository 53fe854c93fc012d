package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Product is a catalog entry: a panel, inverter or battery model.
type Product struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Category     string    `db:"category" json:"category"` // panel | inverter | battery
	Manufacturer string    `db:"manufacturer" json:"manufacturer"`
	RatedWatts   int       `db:"rated_watts" json:"rated_watts"`
	Description  string    `db:"description" json:"description"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// System is one solar installation owned by a user.
type System struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Name        string     `db:"name" json:"name"`
	Location    string     `db:"location" json:"location"`
	CapacityKW  float64    `db:"capacity_kw" json:"capacity_kw"`
	ProductID   *string    `db:"product_id" json:"product_id,omitempty"`
	InstalledAt *time.Time `db:"installed_at" json:"installed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// EnergyMetric is a single production/consumption reading for a system.
type EnergyMetric struct {
	SystemID      string    `db:"system_id" json:"system_id"`
	RecordedAt    time.Time `db:"recorded_at" json:"recorded_at"`
	ProducedKWh   float64   `db:"produced_kwh" json:"produced_kwh"`
	ConsumedKWh   float64   `db:"consumed_kwh" json:"consumed_kwh"`
	GridExportKWh float64   `db:"grid_export_kwh" json:"grid_export_kwh"`
}

// ForecastDay is one generated day of expected production.
type ForecastDay struct {
	Date        string  `json:"date"`
	ExpectedKWh float64 `json:"expected_kwh"`
	CloudCover  float64 `json:"cloud_cover"`
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleAgent     = "agent"
	RoleTool      = "tool"
	RoleError     = "error"
	RoleSystem    = "system"
)

// ChatMessage represents an individual chat message kept in session memory.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptMessage is the role/content pair sent upstream to the inference service.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSettings controls which tools the assistant may call for a user.
type ToolSettings struct {
	UserID        string    `db:"user_id" json:"user_id"`
	WebFetch      bool      `db:"web_fetch" json:"web_fetch"`
	CodeExecution bool      `db:"code_execution" json:"code_execution"`
	DatabaseQuery bool      `db:"database_query" json:"database_query"`
	RemoteCommand bool      `db:"remote_command" json:"remote_command"`
	PDFReader     bool      `db:"pdf_reader" json:"pdf_reader"`
	AllowedURLs   []string  `db:"allowed_urls" json:"allowed_urls"`
	AllowedPDFs   []string  `db:"allowed_pdfs" json:"allowed_pdfs"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultToolSettings is used for users who never saved their own settings.
func DefaultToolSettings(userID string) ToolSettings {
	return ToolSettings{
		UserID:        userID,
		WebFetch:      true,
		DatabaseQuery: true,
		AllowedURLs:   []string{},
		AllowedPDFs:   []string{},
	}
}

// NewChatMessage is the input for appending a message to session memory.
type NewChatMessage struct {
	SessionID string
	UserID    string
	Role      string
	Content   string
}
