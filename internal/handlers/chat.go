package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resonance-chat/internal/chat"
	"resonance-chat/internal/models"
	"resonance-chat/internal/observability"
	"resonance-chat/internal/presence"
)

// ChatService is the pull-style surface of chat.Service.
type ChatService interface {
	Send(ctx context.Context, origin presence.Handle, req chat.SendRequest) (chat.SendResult, error)
	MarkRead(ctx context.Context, reader, otherParty string) (int64, error)
	History(ctx context.Context, userA, userB string) ([]models.Message, error)
	Conversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// ChatHandler serves message history, read state and conversation summaries.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// GetHistory returns every message between two users, oldest first.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	msgs, err := h.svc.History(requestContext(c), c.Param("userA"), c.Param("userB"))
	if err != nil {
		writeServiceError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// MarkRead flags the other user's messages to userId as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req struct {
		UserID      string `json:"userId" binding:"required"`
		OtherUserID string `json:"otherUserId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and otherUserId are required"})
		return
	}

	updated, err := h.svc.MarkRead(requestContext(c), req.UserID, req.OtherUserID)
	if err != nil {
		writeServiceError(c, err, "failed to mark messages read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updatedCount": updated})
}

// GetConversations returns the user's conversation summaries, newest first.
func (h *ChatHandler) GetConversations(c *gin.Context) {
	summaries, err := h.svc.Conversations(requestContext(c), c.Param("uid"))
	if err != nil {
		writeServiceError(c, err, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// PostMessage runs a send without a live connection; the response is the
// acknowledgment.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message body"})
		return
	}

	res, err := h.svc.Send(requestContext(c), nil, req)
	if err != nil {
		writeServiceError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, res.Message)
}

func requestContext(c *gin.Context) context.Context {
	return observability.ContextWithRequestID(c.Request.Context(), requestIDFromContext(c))
}

func writeServiceError(c *gin.Context, err error, fallback string) {
	var cerr *chat.Error
	switch {
	case chat.IsInvalid(err) && errors.As(err, &cerr):
		c.JSON(http.StatusBadRequest, gin.H{"error": cerr.Reason})
	case chat.IsStoreUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
