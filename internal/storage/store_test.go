package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/config"
	"chatstream/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	// a second connection would see an empty in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return NewStore(db, nil)
}

func TestGetOrCreateConversationIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateConversation(ctx, "c1", "u1", "First question")
	require.NoError(t, err)
	assert.Equal(t, "c1", first.ID)
	assert.Equal(t, "First question", first.Title)

	second, err := store.GetOrCreateConversation(ctx, "c1", "u1", "A different title")
	require.NoError(t, err)
	assert.Equal(t, "First question", second.Title, "existing conversation must not be modified")
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())

	convs, err := store.ListConversations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestGetOrCreateConversationRequiresID(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetOrCreateConversation(context.Background(), "", "u1", "title")
	assert.Error(t, err)
}

func TestAppendMessageMissingConversation(t *testing.T) {
	store := openTestStore(t)
	_, err := store.AppendMessage(context.Background(), "ghost", models.RoleUser, "hello", nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAppendMessageAdvancesUpdatedAt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.GetOrCreateConversation(ctx, "c1", "", "t")
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, "c1", models.RoleUser, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Positive(t, msg.ID)

	reloaded, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, reloaded.UpdatedAt.Before(conv.UpdatedAt))
}

func TestSaveExchangeCommitsAllEffects(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tokens := 42
	conv, err := store.SaveExchange(ctx, Exchange{
		ConversationID:   "c1",
		OwnerID:          "u1",
		Title:            "What is Go?",
		UserContent:      "What is Go?",
		AssistantContent: "A programming language.",
		CompletionTokens: &tokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", conv.Title)

	got, messages, err := store.ConversationMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	require.Len(t, messages, 2)

	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "What is Go?", messages[0].Content)
	assert.Nil(t, messages[0].TokenCount)

	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, "A programming language.", messages[1].Content)
	require.NotNil(t, messages[1].TokenCount)
	assert.Equal(t, 42, *messages[1].TokenCount)
}

func TestSaveExchangeReusesConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.SaveExchange(ctx, Exchange{
			ConversationID:   "c1",
			Title:            "first title wins",
			UserContent:      "q",
			AssistantContent: "a",
		})
		require.NoError(t, err)
	}

	conv, messages, err := store.ConversationMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first title wins", conv.Title)
	assert.Len(t, messages, 4)
}

func TestSaveExchangeRequiresConversationID(t *testing.T) {
	store := openTestStore(t)
	_, err := store.SaveExchange(context.Background(), Exchange{UserContent: "q", AssistantContent: "a"})
	assert.Error(t, err)
}

func TestListConversationsOrderAndOwnerFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveExchange(ctx, Exchange{ConversationID: "older", OwnerID: "u1", Title: "a", UserContent: "q", AssistantContent: "a"})
	require.NoError(t, err)
	_, err = store.SaveExchange(ctx, Exchange{ConversationID: "newer", OwnerID: "u2", Title: "b", UserContent: "q", AssistantContent: "a"})
	require.NoError(t, err)
	// touch the first conversation so it becomes the most recent
	_, err = store.AppendMessage(ctx, "older", models.RoleUser, "follow-up", nil)
	require.NoError(t, err)

	convs, err := store.ListConversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "older", convs[0].ID)
	assert.Equal(t, "newer", convs[1].ID)

	mine, err := store.ListConversations(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "newer", mine[0].ID)
}

func TestGetConversationNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetConversation(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveExchange(ctx, Exchange{ConversationID: "c1", Title: "t", UserContent: "q", AssistantContent: "a"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, "c1"))

	_, err = store.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, _, err = store.ConversationMessages(ctx, "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.ErrorIs(t, store.DeleteConversation(ctx, "c1"), sql.ErrNoRows)
}
