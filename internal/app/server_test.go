package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Sunlytics/internal/config"
	"github.com/markdave123-py/Sunlytics/internal/services"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newTestRouter() http.Handler {
	cfg := &config.Config{Port: "0", JWTSecret: "secret", CORSOrigins: []string{"https://app.example.com"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	systems := services.NewSystemService(nil)
	return NewRouter(cfg, Deps{
		Users:    services.NewUserService(nil, cfg.JWTSecret),
		Chat:     services.NewChatService(nil, nil, nil, nil, services.ChatConfig{}, logger),
		Systems:  systems,
		Forecast: services.NewForecastService(systems),
		Products: services.NewProductService(nil),
		Health:   map[string]Pinger{"redis": okPinger{}},
	}, logger)
}

func TestRouter_PublicAndProtected(t *testing.T) {
	r := newTestRouter()

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/chat", http.StatusUnauthorized},
		{http.MethodGet, "/api/chat/history", http.StatusUnauthorized},
		{http.MethodGet, "/api/systems", http.StatusUnauthorized},
		{http.MethodPost, "/api/products", http.StatusUnauthorized},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
