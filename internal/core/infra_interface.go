package core

import (
	"context"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	GetToolSettings(ctx context.Context, userID string) (*models.ToolSettings, error)
	UpsertToolSettings(ctx context.Context, settings *models.ToolSettings) error

	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, category string) ([]models.Product, error)

	CreateSystem(ctx context.Context, s *models.System) error
	GetSystemByID(ctx context.Context, id string) (*models.System, error)
	ListSystemsByUser(ctx context.Context, userID string) ([]models.System, error)
	UpdateSystem(ctx context.Context, s *models.System) error
	DeleteSystem(ctx context.Context, id string) error

	InsertMetrics(ctx context.Context, metrics []models.EnergyMetric) error
	ListMetrics(ctx context.Context, systemID string, from, to time.Time) ([]models.EnergyMetric, error)

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
}

// MessageStore is the session memory used by chat.
type MessageStore interface {
	StoreMessage(ctx context.Context, msg models.NewChatMessage) (models.ChatMessage, error)
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	GetFormattedMessages(ctx context.Context, sessionID string, limit int) ([]models.PromptMessage, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) (int64, error)
	GetUserMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	Ping(ctx context.Context) error
}

// CompletionRequest is one chat turn sent to the inference service.
type CompletionRequest struct {
	Messages []models.PromptMessage
	Tools    []openai.Tool
}

// CompletionProvider opens a streamed completion. The returned body yields
// the provider's raw chunks and must be closed by the caller.
type CompletionProvider interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)
	Name() string
}
