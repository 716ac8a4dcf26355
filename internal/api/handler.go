package api

import (
	"database/sql"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chatstream/internal/chat"
	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"
	"chatstream/internal/storage"
)

// Handler wires HTTP routes to the completion service and storage reads.
type Handler struct {
	chat     *chat.Service
	registry *provider.Registry
	store    *storage.Store
	log      zerolog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(chatService *chat.Service, registry *provider.Registry, store *storage.Store, log zerolog.Logger) *Handler {
	return &Handler{chat: chatService, registry: registry, store: store, log: log}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestID())
	api := router.Group("/api")
	api.POST("/chat/completions", h.createCompletion)
	api.GET("/providers", h.providerStatus)
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:id", h.getConversation)
	api.DELETE("/conversations/:id", h.deleteConversation)
}

// writeError renders one taxonomy error as the structured error body.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := fault.HTTPStatus(err)
	body := gin.H{"error": "internal_error", "message": "internal error"}
	if fe, ok := fault.As(err); ok {
		body = gin.H{"error": string(fe.Kind), "message": fe.Error()}
		switch fe.Kind {
		case fault.KindValidation:
			body["fields"] = fe.Fields
		case fault.KindProviderConfig:
			body["message"] = "service is temporarily unable to serve completions"
		case fault.KindProviderAPI:
			body["provider"] = fe.Provider
			if fe.StatusCode != 0 {
				body["upstream_status"] = fe.StatusCode
			}
		}
	}
	c.JSON(status, body)
}

func (h *Handler) createCompletion(c *gin.Context) {
	var req models.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": "invalid request body"})
		return
	}

	if req.Stream != nil && !*req.Stream {
		h.completeSync(c, &req)
		return
	}
	h.completeStream(c, &req)
}

func (h *Handler) completeSync(c *gin.Context, req *models.CompletionRequest) {
	completion, providerName, err := h.chat.CompleteSync(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("X-Chatstream-Provider", providerName)
	c.Header("X-Chatstream-Model", completion.Model)
	c.JSON(http.StatusOK, completion)
}

func (h *Handler) completeStream(c *gin.Context, req *models.CompletionRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported", "message": "streaming not supported"})
		return
	}

	result, err := h.chat.Complete(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer result.Stream.Close()

	// Provider and model travel out of band; the body is the raw generated
	// text, concatenable into the full answer.
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Chatstream-Provider", result.Provider)
	c.Header("X-Chatstream-Model", result.Model)
	c.Header("X-Chatstream-Conversation", req.ConversationID)
	c.Status(http.StatusOK)

	for {
		chunk, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// headers are gone; terminating the stream is the only signal left
			h.log.Warn().
				Err(err).
				Str("request_id", c.GetString("request_id")).
				Str("conversation_id", req.ConversationID).
				Msg("stream terminated with error")
			return
		}
		if chunk.ContentDelta == "" {
			continue
		}
		if _, err := c.Writer.WriteString(chunk.ContentDelta); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) providerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.StatusAll()})
}

func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.store.ListConversations(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": err.Error()})
		return
	}
	if convs == nil {
		convs = make([]models.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, messages, err := h.store.ConversationMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	if err := h.store.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
