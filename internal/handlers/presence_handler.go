package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/models"
	"github.com/eubbbruno/instauto-chat/internal/presence"
)

type PresenceHandler struct {
	tracker *presence.Tracker
}

func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// Heartbeat records the caller's liveness snapshot. Clients without a
// WebSocket connection (background tabs, mobile pings) use this.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tracker.Heartbeat(c.Request.Context(), callerID(c), req.Status, req.ActiveConversationID); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetPresence returns another user's presence with the staleness window
// already applied.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	c.JSON(http.StatusOK, h.tracker.Response(c.Request.Context(), userID))
}
