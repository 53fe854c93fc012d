package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Sunlytics/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Sunlytics/internal/api/middlewares"
	"github.com/markdave123-py/Sunlytics/internal/config"
	"github.com/markdave123-py/Sunlytics/internal/services"
	"github.com/markdave123-py/Sunlytics/internal/telemetry"
)

const requestTimeout = 60 * time.Second

type Pinger = handlers.Pinger

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Users    *services.UserService
	Chat     *services.ChatService
	Systems  *services.SystemService
	Forecast *services.ForecastService
	Products *services.ProductService
	Health   map[string]Pinger
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, logger: logger}
}

// NewRouter mounts every route. The chat stream is exempt from the request
// timeout; it is bounded by the client connection instead.
func NewRouter(cfg *config.Config, deps Deps, logger *slog.Logger) http.Handler {
	authHandler := handlers.NewAuthHandler(deps.Users, logger)
	chatHandler := handlers.NewChatHandler(deps.Chat, logger)
	systemHandler := handlers.NewSystemHandler(deps.Systems, deps.Forecast, logger)
	productHandler := handlers.NewProductHandler(deps.Products, logger)
	healthHandler := handlers.NewHealthHandler(deps.Health)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", healthHandler.Healthz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Group(func(public chi.Router) {
			public.Use(middleware.Timeout(requestTimeout))
			public.Post("/signup", authHandler.Signup)
			public.Post("/login", authHandler.Login)
			public.Get("/products", productHandler.List)
			public.Get("/products/{id}", productHandler.Get)
		})

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			protected.Post("/chat", chatHandler.Chat)

			protected.Group(func(bounded chi.Router) {
				bounded.Use(middleware.Timeout(requestTimeout))

				bounded.Get("/chat/history", chatHandler.History)
				bounded.Delete("/chat/history", chatHandler.DeleteHistory)
				bounded.Post("/chat/history/export", chatHandler.Export)
				bounded.Get("/chat/sessions", chatHandler.Sessions)
				bounded.Get("/chat/settings", chatHandler.GetSettings)
				bounded.Put("/chat/settings", chatHandler.UpdateSettings)

				bounded.Post("/products", productHandler.Create)

				bounded.Get("/systems", systemHandler.List)
				bounded.Post("/systems", systemHandler.Create)
				bounded.Get("/systems/{id}", systemHandler.Get)
				bounded.Put("/systems/{id}", systemHandler.Update)
				bounded.Delete("/systems/{id}", systemHandler.Delete)
				bounded.Get("/systems/{id}/metrics", systemHandler.ListMetrics)
				bounded.Post("/systems/{id}/metrics", systemHandler.AddMetrics)
				bounded.Post("/systems/{id}/metrics/import", systemHandler.ImportMetrics)
				bounded.Get("/systems/{id}/forecast", systemHandler.Forecast)
			})
		})
	})
	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
