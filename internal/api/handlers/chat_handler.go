package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	middleware "github.com/markdave123-py/Sunlytics/internal/api/middlewares"
	"github.com/markdave123-py/Sunlytics/internal/core/chatstream"
	"github.com/markdave123-py/Sunlytics/internal/models"
	"github.com/markdave123-py/Sunlytics/internal/services"
)

const (
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 1000
	defaultSessionsLimit = 20
)

type ChatHandler struct {
	chat   *services.ChatService
	logger *slog.Logger
}

func NewChatHandler(chat *services.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

type ChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Chat answers a question as a stream of ND-JSON lines or SSE events.
// Errors before the first byte get a JSON error body; afterwards they can
// only end the stream.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	turn, err := h.chat.StartChat(ctx, userID, req.Question, req.SessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	format := chatstream.NegotiateFormat(r)
	chatstream.SetStreamHeaders(w, chatstream.NewFormatter(format), turn.SessionID)
	w.WriteHeader(http.StatusOK)

	err = h.chat.Stream(ctx, turn, w, format)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		h.logger.Info("chat client disconnected", "session_id", turn.SessionID)
	default:
		h.logger.Warn("chat stream ended with error", "session_id", turn.SessionID, "error", err)
	}
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit = min(limit, maxHistoryLimit)

	msgs, err := h.chat.History(r.Context(), userID, r.URL.Query().Get("sessionId"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	n, err := h.chat.ClearHistory(r.Context(), userID, req.SessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "sessionId": req.SessionID})
}

func (h *ChatHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	limit, err := queryInt(r, "limit", defaultSessionsLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msgs, err := h.chat.Sessions(r.Context(), userID, min(limit, maxHistoryLimit))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	settings, err := h.chat.Settings(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *ChatHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var in models.ToolSettings
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	saved, err := h.chat.UpdateSettings(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	url, count, err := h.chat.ExportTranscript(r.Context(), userID, req.SessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "count": count})
}
