package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

type MessageHandler struct {
	svc      *chat.Service
	pageSize int
}

func NewMessageHandler(svc *chat.Service, pageSize int) *MessageHandler {
	return &MessageHandler{svc: svc, pageSize: pageSize}
}

// GetMessages returns a conversation's messages in (created_at, id)
// order, restartable from a cursor.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	list, err := h.svc.Messages(c.Request.Context(), callerID(c), conversationID, c.Query("since"), limit)
	if err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// SendMessage appends a message (REST endpoint). The client_key makes
// retries after a timeout safe.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), callerID(c), req)
	if err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkRead acknowledges every unread peer message in the conversation.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	n, err := h.svc.MarkRead(c.Request.Context(), conversationID, callerID(c))
	if err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.MarkReadResult{ConversationID: conversationID, Transitioned: n})
}
