package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, 0, nil), mr
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func store(t *testing.T, s *Store, sessionID, userID, role, content string) models.ChatMessage {
	t.Helper()
	msg, err := s.StoreMessage(context.Background(), models.NewChatMessage{
		SessionID: sessionID, UserID: userID, Role: role, Content: content,
	})
	require.NoError(t, err)
	return msg
}

func TestStoreMessage_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	stored := store(t, s, "s1", "u1", models.RoleUser, "How much did I export yesterday?")

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, time.UTC, stored.Timestamp.Location())

	got, err := s.GetSessionMessages(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stored.ID, got[0].ID)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, models.RoleUser, got[0].Role)
	assert.Equal(t, "How much did I export yesterday?", got[0].Content)
	assert.True(t, stored.Timestamp.Equal(got[0].Timestamp))
}

func TestStoreMessage_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreMessage(ctx, models.NewChatMessage{Role: models.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = s.StoreMessage(ctx, models.NewChatMessage{SessionID: "s1", Role: "wizard", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestStoreMessage_UniqueIDsAndOrder(t *testing.T) {
	s, _ := newTestStore(t)

	a := store(t, s, "s1", "", models.RoleUser, "a")
	b := store(t, s, "s1", "", models.RoleAssistant, "b")
	c := store(t, s, "s1", "", models.RoleUser, "c")

	got, err := s.GetSessionMessages(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestStoreMessage_SlidingExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	store(t, s, "s1", "u1", models.RoleUser, "first")
	assert.Equal(t, 48*time.Hour, mr.TTL(sessionKey("s1")))
	assert.Equal(t, 48*time.Hour, mr.TTL(userKey("u1")))

	mr.FastForward(47 * time.Hour)
	store(t, s, "s1", "u1", models.RoleAssistant, "second")
	assert.Equal(t, 48*time.Hour, mr.TTL(sessionKey("s1")), "append resets the expiry")

	mr.FastForward(47 * time.Hour)
	got, err := s.GetSessionMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	mr.FastForward(2 * time.Hour)
	got, err = s.GetSessionMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreMessage_NoUserIndexWithoutUser(t *testing.T) {
	s, mr := newTestStore(t)

	store(t, s, "anon", "", models.RoleUser, "hi")

	assert.False(t, mr.Exists(userKey("")))
}

func TestGetSessionMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, c := range []string{"m1", "m2", "m3", "m4"} {
		store(t, s, "s1", "", models.RoleUser, c)
	}

	first, err := s.GetSessionMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "m1", first[0].Content)
	assert.Equal(t, "m2", first[1].Content)

	again, err := s.GetSessionMessages(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, first, again, "reads are idempotent")

	none, err := s.GetSessionMessages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	unknown, err := s.GetSessionMessages(ctx, "missing", 10)
	require.NoError(t, err)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestGetSessionMessages_SkipsMalformedEntries(t *testing.T) {
	s, mr := newTestStore(t)
	store(t, s, "s1", "", models.RoleUser, "good")
	_, err := mr.Push(sessionKey("s1"), "{not json")
	require.NoError(t, err)
	store(t, s, "s1", "", models.RoleAssistant, "also good")

	got, err := s.GetSessionMessages(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "also good", got[1].Content)
}

func TestGetFormattedMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	store(t, s, "s1", "", models.RoleUser, "hi")
	store(t, s, "s1", "", models.RoleAgent, "hello")

	got, err := s.GetFormattedMessages(ctx, "s1", 10)
	require.NoError(t, err)

	assert.Equal(t, []models.PromptMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, got)
}

func TestGetFormattedMessages_TrailingWindow(t *testing.T) {
	s, _ := newTestStore(t)
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		store(t, s, "s1", "", models.RoleUser, c)
	}

	got, err := s.GetFormattedMessages(context.Background(), "s1", 2)
	require.NoError(t, err)

	assert.Equal(t, []models.PromptMessage{{Role: "user", Content: "4"}, {Role: "user", Content: "5"}}, got)
}

func TestDeleteSessionMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		store(t, s, "s1", "u1", models.RoleUser, "msg")
	}

	n, err := s.DeleteSessionMessages(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	got, err := s.GetSessionMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err = s.DeleteSessionMessages(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestSessionExists(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	store(t, s, "s1", "", models.RoleUser, "hi")
	ok, err = s.SessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetUserMessages(t *testing.T) {
	s, _ := newTestStore(t)
	s.now = stepClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	store(t, s, "old", "u1", models.RoleUser, "old question")
	store(t, s, "old", "u1", models.RoleAssistant, "old answer")
	store(t, s, "mid", "u1", models.RoleUser, "mid question")
	store(t, s, "new", "u1", models.RoleUser, "new question")
	store(t, s, "other", "u2", models.RoleUser, "someone else")

	got, err := s.GetUserMessages(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "new question", got[0].Content)
	assert.Equal(t, "mid question", got[1].Content)
	assert.Equal(t, "old answer", got[2].Content)

	capped, err := s.GetUserMessages(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestGetUserMessages_SkipsDeletedSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	store(t, s, "a", "u1", models.RoleUser, "kept")
	store(t, s, "b", "u1", models.RoleUser, "cleared")

	_, err := s.DeleteSessionMessages(ctx, "b")
	require.NoError(t, err)

	got, err := s.GetUserMessages(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Content)

	empty, err := s.GetUserMessages(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_RedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.StoreMessage(context.Background(), models.NewChatMessage{SessionID: "s1", Role: models.RoleUser, Content: "x"})
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}
