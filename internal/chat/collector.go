package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"
	"chatstream/internal/storage"
)

const (
	titleMaxRunes = 60
	commitTimeout = 30 * time.Second
)

// ExchangeStore is the slice of the storage collaborator the collector needs.
type ExchangeStore interface {
	SaveExchange(ctx context.Context, ex storage.Exchange) (*models.Conversation, error)
}

// Collector drains one duplicated branch to completion, accumulating the
// generated text, and commits the exchange in a single transaction. It runs
// detached from the request: its outcome is never awaited by, and never
// delays, the response already streaming to the caller. Storage failures are
// logged and go nowhere else.
type Collector struct {
	store ExchangeStore
	log   zerolog.Logger
}

func NewCollector(store ExchangeStore, log zerolog.Logger) *Collector {
	return &Collector{store: store, log: log}
}

// Run consumes branch until it terminates. On a clean end it persists the
// triggering user message and the accumulated assistant message atomically.
// On a stream failure (caller disconnect included) nothing is persisted:
// partial assistant messages never reach storage.
func (c *Collector) Run(req *models.CompletionRequest, branch provider.ChunkStream) {
	defer branch.Close()

	var (
		text  strings.Builder
		final models.Chunk
	)
	for {
		chunk, err := branch.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("conversation_id", req.ConversationID).
				Msg("generation did not complete, skipping persistence")
			return
		}
		text.WriteString(chunk.ContentDelta)
		if chunk.IsFinal {
			final = chunk
		}
	}

	var completionTokens *int
	if final.Usage != nil {
		n := final.Usage.CompletionTokens
		completionTokens = &n
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	_, err := c.store.SaveExchange(ctx, storage.Exchange{
		ConversationID:   req.ConversationID,
		OwnerID:          req.OwnerID,
		Title:            DeriveTitle(req),
		UserContent:      req.LastMessage().Content,
		AssistantContent: text.String(),
		CompletionTokens: completionTokens,
	})
	if err != nil {
		perr := fault.Persistence(err)
		c.log.Error().
			Err(perr).
			Str("conversation_id", req.ConversationID).
			Msg("persisting exchange failed")
		return
	}
	c.log.Debug().
		Str("conversation_id", req.ConversationID).
		Str("finish_reason", string(final.FinishReason)).
		Msg("exchange persisted")
}

// DeriveTitle builds a lazy-conversation title from the first user message,
// truncated rune-safe.
func DeriveTitle(req *models.CompletionRequest) string {
	for _, m := range req.Messages {
		if m.Role != models.RoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if title == "" {
			break
		}
		runes := []rune(title)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes])
		}
		return title
	}
	return "New Conversation"
}
