package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/auth"
	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/middleware"
)

// ErrorResponse sends a standardized error response
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// domainError maps the chat error taxonomy onto HTTP statuses.
func domainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Not found")
	case errors.Is(err, chat.ErrNotParticipant):
		ErrorResponse(c, http.StatusForbidden, "Access denied")
	case errors.Is(err, chat.ErrConversationUnavailable):
		ErrorResponse(c, http.StatusConflict, "Conversation unavailable")
	case errors.Is(err, chat.ErrSendTimeout):
		ErrorResponse(c, http.StatusGatewayTimeout, "Send timed out, retry with the same client key")
	default:
		ErrorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

func callerID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(middleware.ContextUserID)
	id, _ := v.(uuid.UUID)
	return id
}

func callerClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(middleware.ContextClaims)
	claims, _ := v.(*auth.Claims)
	return claims
}
