package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatstream/internal/cache"
	"chatstream/internal/models"
)

const conversationCacheTTL = 10 * time.Minute

// Store is the durable home of conversations and messages. An optional redis
// client fronts conversation metadata reads; a cache miss always falls
// through to SQL.
type Store struct {
	db    *sql.DB
	cache *cache.Client
}

func NewStore(db *sql.DB, cacheClient *cache.Client) *Store {
	return &Store{db: db, cache: cacheClient}
}

func conversationKey(id string) string { return "conv:" + id }

// GetOrCreateConversation returns the conversation with the given id,
// creating it when absent. Creation is idempotent: a second call with the
// same id returns the existing record unmodified.
func (s *Store) GetOrCreateConversation(ctx context.Context, id, ownerID, title string) (*models.Conversation, error) {
	if id == "" {
		return nil, errors.New("conversation id is required")
	}
	if conv, err := s.cachedConversation(ctx, id); err == nil {
		return conv, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	conv, err := getOrCreateConversationTx(ctx, tx, id, ownerID, title)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit get-or-create: %w", err)
	}
	s.cacheConversation(ctx, conv)
	return conv, nil
}

func getOrCreateConversationTx(ctx context.Context, tx *sql.Tx, id, ownerID, title string) (*models.Conversation, error) {
	var conv models.Conversation
	err := tx.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		id,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, title, now, now,
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &models.Conversation{ID: id, OwnerID: ownerID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// AppendMessage stores a new message and advances the conversation's
// updated_at. It fails when the conversation is absent.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, tokens *int) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	msg, err := appendMessageTx(ctx, tx, conversationID, role, content, tokens)
	if err != nil {
		return nil, err
	}
	if err := touchConversationTx(ctx, tx, conversationID, msg.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	s.invalidateConversation(ctx, conversationID)
	return msg, nil
}

func appendMessageTx(ctx context.Context, tx *sql.Tx, conversationID string, role models.Role, content string, tokens *int) (*models.Message, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, tokens, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     tokens,
		CreatedAt:      now,
	}, nil
}

func touchConversationTx(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, at, conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Exchange is the ordered effect set committed after a successful generation.
type Exchange struct {
	ConversationID   string
	OwnerID          string
	Title            string
	UserContent      string
	AssistantContent string
	CompletionTokens *int
}

// SaveExchange commits one completed request/response pair atomically:
// get-or-create the conversation, append the triggering user message, append
// the generated assistant message, advance updated_at. All four effects
// commit or none do.
func (s *Store) SaveExchange(ctx context.Context, ex Exchange) (*models.Conversation, error) {
	if ex.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	conv, err := getOrCreateConversationTx(ctx, tx, ex.ConversationID, ex.OwnerID, ex.Title)
	if err != nil {
		return nil, err
	}
	userMsg, err := appendMessageTx(ctx, tx, ex.ConversationID, models.RoleUser, ex.UserContent, nil)
	if err != nil {
		return nil, err
	}
	if _, err := appendMessageTx(ctx, tx, ex.ConversationID, models.RoleAssistant, ex.AssistantContent, ex.CompletionTokens); err != nil {
		return nil, err
	}
	if err := touchConversationTx(ctx, tx, ex.ConversationID, userMsg.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit exchange: %w", err)
	}
	conv.UpdatedAt = userMsg.CreatedAt
	s.cacheConversation(ctx, conv)
	return conv, nil
}

// GetConversation returns one conversation, consulting the cache first.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if conv, err := s.cachedConversation(ctx, id); err == nil {
		return conv, nil
	}
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		id,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	s.cacheConversation(ctx, &conv)
	return &conv, nil
}

// ListConversations returns conversations ordered by last activity. An empty
// ownerID lists all conversations.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	query := `SELECT id, owner_id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	args := []any{}
	if ownerID != "" {
		query = `SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC`
		args = append(args, ownerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ConversationMessages returns one conversation and its ordered messages.
func (s *Store) ConversationMessages(ctx context.Context, id string) (*models.Conversation, []*models.Message, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, token_count, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return conv, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return conv, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return conv, messages, rows.Err()
}

// DeleteConversation removes a conversation and all its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	s.invalidateConversation(ctx, id)
	return nil
}

func (s *Store) cachedConversation(ctx context.Context, id string) (*models.Conversation, error) {
	raw, err := s.cache.Get(ctx, conversationKey(id))
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) cacheConversation(ctx context.Context, conv *models.Conversation) {
	raw, err := json.Marshal(conv)
	if err != nil {
		return
	}
	// best effort
	_ = s.cache.Set(ctx, conversationKey(conv.ID), string(raw), conversationCacheTTL)
}

func (s *Store) invalidateConversation(ctx context.Context, id string) {
	_ = s.cache.Del(ctx, conversationKey(id))
}
