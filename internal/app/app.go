package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Sunlytics/internal/config"
	"github.com/markdave123-py/Sunlytics/internal/core"
	db "github.com/markdave123-py/Sunlytics/internal/core/database"
	"github.com/markdave123-py/Sunlytics/internal/core/llm"
	"github.com/markdave123-py/Sunlytics/internal/core/memory"
	objectclient "github.com/markdave123-py/Sunlytics/internal/core/object-client"
	"github.com/markdave123-py/Sunlytics/internal/services"
)

type App struct {
	DBClient     *db.DatabaseClient
	Redis        *redis.Client
	ObjectClient core.ObjectClient
	Provider     core.CompletionProvider
	Server       *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	a := &App{}
	if err := a.init(appCtx, cfg, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dbClient, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	logger.Info("database initialized and ready")

	rdb, err := memory.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	store := memory.NewStore(rdb, cfg.ChatRetention, logger)
	logger.Info("session memory ready", "retention", cfg.ChatRetention)

	if cfg.ArchiveEnabled() {
		objClient, err := objectclient.NewS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		a.ObjectClient = objClient
		logger.Info("object client initialized and ready", "bucket", cfg.BucketName)
	} else {
		logger.Info("transcript archiving disabled")
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("couldn't initialize the inference provider: %w", err)
	}
	a.Provider = provider
	if c, ok := provider.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	logger.Info("inference provider ready", "provider", provider.Name())

	systems := services.NewSystemService(dbClient)
	deps := Deps{
		Users: services.NewUserService(dbClient, cfg.JWTSecret),
		Chat: services.NewChatService(store, dbClient, provider, a.ObjectClient, services.ChatConfig{
			SystemPrompt: cfg.SystemPrompt,
			HistoryLimit: cfg.ChatHistoryLimit,
			KeepAlive:    cfg.ChatKeepAlive,
		}, logger),
		Systems:  systems,
		Forecast: services.NewForecastService(systems),
		Products: services.NewProductService(dbClient),
		Health:   map[string]Pinger{"database": dbClient, "redis": store},
	}
	a.Server = NewServer(cfg, deps, logger)
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config) (core.CompletionProvider, error) {
	switch cfg.InferenceProvider {
	case config.ProviderGemini:
		g, err := llm.NewGeminiStreamer(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderOpenAI:
		o, err := llm.NewOpenAIStreamer(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.InferenceModel, nil)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", cfg.InferenceProvider)
}

// Close releases everything NewApp opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
