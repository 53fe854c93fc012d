package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/Sunlytics/internal/api/middlewares"
	"github.com/markdave123-py/Sunlytics/internal/models"
	"github.com/markdave123-py/Sunlytics/internal/services"
)

const maxImportBytes = 32 << 20

type SystemHandler struct {
	systems  *services.SystemService
	forecast *services.ForecastService
	logger   *slog.Logger
}

func NewSystemHandler(systems *services.SystemService, forecast *services.ForecastService, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{systems: systems, forecast: forecast, logger: logger}
}

func (h *SystemHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	list, err := h.systems.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *SystemHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var in services.SystemInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sys, err := h.systems.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sys)
}

func (h *SystemHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	sys, err := h.systems.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

func (h *SystemHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var in services.SystemInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sys, err := h.systems.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

func (h *SystemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if err := h.systems.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SystemHandler) AddMetrics(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var readings []models.EnergyMetric
	if err := decodeJSON(w, r, &readings); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.systems.AddMetrics(r.Context(), userID, chi.URLParam(r, "id"), readings)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": n})
}

// ImportMetrics accepts a CSV body with a recorded_at,produced_kwh header.
func (h *SystemHandler) ImportMetrics(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	n, err := h.systems.ImportMetrics(r.Context(), userID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": n})
}

// ListMetrics accepts from/to as RFC 3339 timestamps or plain dates.
func (h *SystemHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.systems.Metrics(r.Context(), userID, chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *SystemHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	days, err := queryInt(r, "days", services.DefaultForecastDays)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	forecast, err := h.forecast.Forecast(r.Context(), userID, chi.URLParam(r, "id"), days)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", services.ErrInvalidInput, name)
}
