package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/core/chatstream"
	db "github.com/markdave123-py/Sunlytics/internal/core/database"
	"github.com/markdave123-py/Sunlytics/internal/core/llm"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

const (
	tracerName = "github.com/markdave123-py/Sunlytics/internal/services"

	// exportLimit bounds the number of messages written to one transcript.
	exportLimit = 10000
)

type ChatConfig struct {
	SystemPrompt string
	HistoryLimit int
	KeepAlive    time.Duration
}

type ChatService struct {
	store    core.MessageStore
	db       core.DbClient
	provider core.CompletionProvider
	objects  core.ObjectClient
	pipeline *chatstream.Pipeline
	cfg      ChatConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewChatService wires chat. objects may be nil, in which case transcript
// export reports ErrArchiveDisabled.
func NewChatService(store core.MessageStore, dbc core.DbClient, provider core.CompletionProvider,
	objects core.ObjectClient, cfg ChatConfig, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &ChatService{
		store:    store,
		db:       dbc,
		provider: provider,
		objects:  objects,
		pipeline: chatstream.NewPipeline(store, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ChatTurn is an opened upstream completion waiting to be streamed.
type ChatTurn struct {
	SessionID       string
	UserID          string
	NewConversation bool

	body io.ReadCloser
}

// Close releases the upstream body when the turn is never streamed.
func (t *ChatTurn) Close() error { return t.body.Close() }

// StartChat records the question and opens the upstream completion. The
// caller must either Stream or Close the returned turn.
func (s *ChatService) StartChat(ctx context.Context, userID, question, sessionID string) (*ChatTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if err := s.checkOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ChatService.StartChat")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", sessionID),
		attribute.String("chat.provider", s.provider.Name()),
	)

	exists, err := s.store.SessionExists(ctx, sessionID)
	if err != nil {
		s.logger.Warn("session lookup failed", "session_id", sessionID, "error", err)
	}
	history, err := s.store.GetFormattedMessages(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("loading chat history failed", "session_id", sessionID, "error", err)
		history = nil
	}

	if _, err := s.store.StoreMessage(ctx, models.NewChatMessage{
		SessionID: sessionID,
		UserID:    userID,
		Role:      models.RoleUser,
		Content:   question,
	}); err != nil {
		s.logger.Error("storing question failed", "session_id", sessionID, "error", err)
	}

	settings, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	tools := llm.BuildTools(*settings)

	req := core.CompletionRequest{
		Messages: buildPrompt(s.cfg.SystemPrompt, settings, history, question),
		Tools:    tools,
	}
	body, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	s.logger.Info("chat turn started",
		"session_id", sessionID,
		"provider", s.provider.Name(),
		"history", len(history),
		"tools", llm.ToolNames(tools),
	)
	return &ChatTurn{SessionID: sessionID, UserID: userID, NewConversation: !exists, body: body}, nil
}

// Stream reassembles the turn's upstream body into w.
func (s *ChatService) Stream(ctx context.Context, turn *ChatTurn, w io.Writer, format chatstream.Format) error {
	return s.pipeline.Run(ctx, chatstream.NewReaderSource(turn.body), w, chatstream.Options{
		SessionID:       turn.SessionID,
		UserID:          turn.UserID,
		NewConversation: turn.NewConversation,
		Format:          format,
		KeepAlive:       s.cfg.KeepAlive,
	})
}

func buildPrompt(systemPrompt string, settings *models.ToolSettings, history []models.PromptMessage, question string) []models.PromptMessage {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if settings.WebFetch && len(settings.AllowedURLs) > 0 {
		sb.WriteString("\n\nYou may only fetch these URLs: ")
		sb.WriteString(strings.Join(settings.AllowedURLs, ", "))
	}
	if settings.PDFReader && len(settings.AllowedPDFs) > 0 {
		sb.WriteString("\n\nYou may only read these PDF documents: ")
		sb.WriteString(strings.Join(settings.AllowedPDFs, ", "))
	}

	msgs := make([]models.PromptMessage, 0, len(history)+2)
	msgs = append(msgs, models.PromptMessage{Role: models.RoleSystem, Content: sb.String()})
	msgs = append(msgs, history...)
	msgs = append(msgs, models.PromptMessage{Role: models.RoleUser, Content: question})
	return msgs
}

// checkOwner rejects sessions whose messages belong to someone else.
func (s *ChatService) checkOwner(ctx context.Context, userID, sessionID string) error {
	first, err := s.store.GetSessionMessages(ctx, sessionID, 1)
	if err != nil {
		return err
	}
	if len(first) > 0 && first[0].UserID != "" && first[0].UserID != userID {
		return ErrForbidden
	}
	return nil
}

func (s *ChatService) History(ctx context.Context, userID, sessionID string, limit int) ([]models.ChatMessage, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if err := s.checkOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetSessionMessages(ctx, sessionID, limit)
}

func (s *ChatService) ClearHistory(ctx context.Context, userID, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if err := s.checkOwner(ctx, userID, sessionID); err != nil {
		return 0, err
	}
	return s.store.DeleteSessionMessages(ctx, sessionID)
}

// Sessions returns the latest message of each of the user's sessions.
func (s *ChatService) Sessions(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	return s.store.GetUserMessages(ctx, userID, limit)
}

// Settings returns the user's tool settings, or the defaults when none
// were saved.
func (s *ChatService) Settings(ctx context.Context, userID string) (*models.ToolSettings, error) {
	settings, err := s.db.GetToolSettings(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		def := models.DefaultToolSettings(userID)
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *ChatService) UpdateSettings(ctx context.Context, userID string, in models.ToolSettings) (*models.ToolSettings, error) {
	for _, list := range [][]string{in.AllowedURLs, in.AllowedPDFs} {
		for _, raw := range list {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidInput, raw)
			}
		}
	}
	in.UserID = userID
	if in.AllowedURLs == nil {
		in.AllowedURLs = []string{}
	}
	if in.AllowedPDFs == nil {
		in.AllowedPDFs = []string{}
	}
	if err := s.db.UpsertToolSettings(ctx, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

type Transcript struct {
	SessionID  string               `json:"sessionId"`
	UserID     string               `json:"userId"`
	ExportedAt time.Time            `json:"exportedAt"`
	Messages   []models.ChatMessage `json:"messages"`
}

// ExportTranscript uploads the session's messages as JSON and returns the
// object URL and the number of messages written.
func (s *ChatService) ExportTranscript(ctx context.Context, userID, sessionID string) (string, int, error) {
	if s.objects == nil {
		return "", 0, ErrArchiveDisabled
	}
	msgs, err := s.History(ctx, userID, sessionID, exportLimit)
	if err != nil {
		return "", 0, err
	}
	if len(msgs) == 0 {
		return "", 0, fmt.Errorf("session %s: %w", sessionID, db.ErrNotFound)
	}

	now := s.now().UTC()
	body, err := json.MarshalIndent(Transcript{
		SessionID:  sessionID,
		UserID:     userID,
		ExportedAt: now,
		Messages:   msgs,
	}, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("encode transcript: %w", err)
	}

	key := fmt.Sprintf("transcripts/%s/%s-%s.json", userID, sessionID, now.Format("20060102T150405Z"))
	u, err := s.objects.UploadFile(ctx, key, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", 0, fmt.Errorf("upload transcript: %w", err)
	}
	s.logger.Info("transcript exported", "session_id", sessionID, "key", key, "messages", len(msgs))
	return u, len(msgs), nil
}
