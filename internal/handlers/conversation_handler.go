package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/auth"
	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

type ConversationHandler struct {
	svc      *chat.Service
	pageSize int
}

func NewConversationHandler(svc *chat.Service, pageSize int) *ConversationHandler {
	return &ConversationHandler{svc: svc, pageSize: pageSize}
}

// GetConversations returns the caller's conversations, newest activity
// first, with a restartable cursor.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	list, err := h.svc.List(c.Request.Context(), callerID(c), c.Query("cursor"), limit)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to list conversations")
		return
	}

	c.JSON(http.StatusOK, list)
}

// CreateConversation finds or creates the conversation with another
// user. Both sides calling near-simultaneously get the same id.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	me := auth.ParticipantFromClaims(callerClaims(c))
	conv, err := h.svc.FindOrCreate(c.Request.Context(), me, req.OtherUserID, req.ContextRef)
	if err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetConversation returns one conversation the caller participates in.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// ArchiveConversation retires a conversation. Idempotent.
func (h *ConversationHandler) ArchiveConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	if err := h.svc.Archive(c.Request.Context(), id, callerID(c)); err != nil {
		domainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// GetTotalUnread sums the caller's unread counters across all
// conversations.
func (h *ConversationHandler) GetTotalUnread(c *gin.Context) {
	userID := callerID(c)
	total := 0
	cursor := ""
	for {
		page, err := h.svc.List(c.Request.Context(), userID, cursor, 100)
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, "Failed to compute unread total")
			return
		}
		for _, conv := range page.Items {
			total += conv.UnreadFor(userID)
		}
		if page.NextCursor == "" || len(page.Items) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	c.JSON(http.StatusOK, gin.H{"total": total})
}
