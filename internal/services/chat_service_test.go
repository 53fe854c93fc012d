package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sunlytics/internal/core/chatstream"
	db "github.com/markdave123-py/Sunlytics/internal/core/database"
	"github.com/markdave123-py/Sunlytics/internal/core/memory"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

const helloWorld = `{"choices":[{"delta":{"role":"assistant","content":"Hello"}}]}`
const helloWorldTail = `{"choices":[{"delta":{"content":" world"}}]}`

type chatFixture struct {
	svc      *ChatService
	store    *memory.Store
	db       *fakeDB
	provider *fakeProvider
	objects  *fakeObjects
}

func newChatFixture(t *testing.T, body string) *chatFixture {
	t.Helper()
	f := &chatFixture{
		store:    newMemoryStore(t),
		db:       newFakeDB(),
		provider: &fakeProvider{body: body},
		objects:  &fakeObjects{},
	}
	f.svc = NewChatService(f.store, f.db, f.provider, f.objects, ChatConfig{
		SystemPrompt: "You are a solar assistant.",
		HistoryLimit: 10,
	}, discardLogger())
	return f
}

func decodeLines(t *testing.T, out string) []chatstream.OutputMessage {
	t.Helper()
	var msgs []chatstream.OutputMessage
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var m chatstream.OutputMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestChatService_NewConversation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, ndjson(helloWorld, helloWorldTail, "[DONE]"))

	turn, err := f.svc.StartChat(ctx, "u1", "  How much did I produce?  ", "")
	require.NoError(t, err)
	assert.NotEmpty(t, turn.SessionID)
	assert.True(t, turn.NewConversation)

	var out bytes.Buffer
	require.NoError(t, f.svc.Stream(ctx, turn, &out, chatstream.FormatNDJSON))

	lines := decodeLines(t, out.String())
	require.Len(t, lines, 3)
	assert.Equal(t, models.RoleAgent, lines[0].Role)
	assert.Contains(t, lines[0].Content, turn.SessionID)
	assert.Equal(t, chatstream.OutputMessage{Role: "assistant", Content: "Hello"}, lines[1])
	assert.Equal(t, chatstream.OutputMessage{Role: "assistant", Content: " world"}, lines[2])

	stored, err := f.store.GetSessionMessages(ctx, turn.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, models.RoleUser, stored[0].Role)
	assert.Equal(t, "How much did I produce?", stored[0].Content)
	assert.Equal(t, models.RoleAgent, stored[1].Role)
	assert.Equal(t, models.RoleAssistant, stored[2].Role)
	assert.Equal(t, "Hello world", stored[2].Content)
	for _, m := range stored {
		assert.Equal(t, "u1", m.UserID)
	}
}

func TestChatService_PromptIncludesHistoryAndWhitelists(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, ndjson(helloWorld, "[DONE]"))
	require.NoError(t, f.db.UpsertToolSettings(ctx, &models.ToolSettings{
		UserID:      "u1",
		WebFetch:    true,
		AllowedURLs: []string{"https://pvwatts.nrel.gov"},
	}))

	for _, m := range []models.NewChatMessage{
		{SessionID: "s1", UserID: "u1", Role: models.RoleUser, Content: "hi"},
		{SessionID: "s1", UserID: "u1", Role: models.RoleAgent, Content: "hello"},
	} {
		_, err := f.store.StoreMessage(ctx, m)
		require.NoError(t, err)
	}

	turn, err := f.svc.StartChat(ctx, "u1", "what about today?", "s1")
	require.NoError(t, err)
	require.NoError(t, turn.Close())
	assert.Equal(t, "s1", turn.SessionID)
	assert.False(t, turn.NewConversation)

	req := f.provider.last()
	require.Len(t, req.Messages, 4)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are a solar assistant.")
	assert.Contains(t, req.Messages[0].Content, "https://pvwatts.nrel.gov")
	assert.Equal(t, models.PromptMessage{Role: "user", Content: "hi"}, req.Messages[1])
	assert.Equal(t, models.PromptMessage{Role: "assistant", Content: "hello"}, req.Messages[2])
	assert.Equal(t, models.PromptMessage{Role: "user", Content: "what about today?"}, req.Messages[3])

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "fetch_url", req.Tools[0].Function.Name)
}

func TestChatService_DefaultToolsWhenNoSettings(t *testing.T) {
	f := newChatFixture(t, "")
	settings, err := f.svc.Settings(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultToolSettings("u9"), *settings)
}

func TestChatService_RejectsEmptyQuestion(t *testing.T) {
	f := newChatFixture(t, "")
	_, err := f.svc.StartChat(context.Background(), "u1", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.provider.reqs)
}

func TestChatService_QuestionStoredWhenProviderFails(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, "")
	f.provider.err = errors.New("connection refused")

	_, err := f.svc.StartChat(ctx, "u1", "hello?", "s2")
	assert.ErrorIs(t, err, ErrUpstream)

	stored, err := f.store.GetSessionMessages(ctx, "s2", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello?", stored[0].Content)
}

func TestChatService_ForeignSessionIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, ndjson(helloWorld))
	_, err := f.store.StoreMessage(ctx, models.NewChatMessage{SessionID: "s1", UserID: "owner", Role: "user", Content: "hi"})
	require.NoError(t, err)

	_, err = f.svc.StartChat(ctx, "intruder", "let me in", "s1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.History(ctx, "intruder", "s1", 10)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ClearHistory(ctx, "intruder", "s1")
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := f.svc.ClearHistory(ctx, "owner", "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestChatService_UpdateSettingsValidatesURLs(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, "")

	_, err := f.svc.UpdateSettings(ctx, "u1", models.ToolSettings{AllowedURLs: []string{"not a url"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	saved, err := f.svc.UpdateSettings(ctx, "u1", models.ToolSettings{
		UserID:    "someone-else",
		PDFReader: true,
		AllowedPDFs: []string{
			"https://example.com/datasheet.pdf",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", saved.UserID)
	assert.Equal(t, []string{}, saved.AllowedURLs)

	got, err := f.svc.Settings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.PDFReader)
	assert.Equal(t, []string{"https://example.com/datasheet.pdf"}, got.AllowedPDFs)
}

func TestChatService_ExportTranscript(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, "")
	f.svc.now = func() time.Time { return time.Date(2025, 3, 4, 15, 4, 5, 0, time.UTC) }

	for _, c := range []string{"hi", "hello"} {
		_, err := f.store.StoreMessage(ctx, models.NewChatMessage{SessionID: "s1", UserID: "u1", Role: "user", Content: c})
		require.NoError(t, err)
	}

	url, count, err := f.svc.ExportTranscript(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "https://bucket.example/transcripts/u1/s1-20250304T150405Z.json", url)

	var tr Transcript
	require.NoError(t, json.Unmarshal(f.objects.uploads["transcripts/u1/s1-20250304T150405Z.json"], &tr))
	assert.Equal(t, "s1", tr.SessionID)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, "hi", tr.Messages[0].Content)

	_, _, err = f.svc.ExportTranscript(ctx, "u1", "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestChatService_ExportDisabled(t *testing.T) {
	svc := NewChatService(newMemoryStore(t), newFakeDB(), &fakeProvider{}, nil, ChatConfig{}, discardLogger())
	_, _, err := svc.ExportTranscript(context.Background(), "u1", "s1")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestChatService_Sessions(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, "")
	for _, sid := range []string{"a", "b"} {
		_, err := f.store.StoreMessage(ctx, models.NewChatMessage{SessionID: sid, UserID: "u1", Role: "user", Content: "q-" + sid})
		require.NoError(t, err)
	}
	got, err := f.svc.Sessions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
