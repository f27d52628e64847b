package models

import (
	"time"

	"github.com/google/uuid"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ValidPresenceStatus reports whether s is a known status.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// Presence is a user's last-known liveness snapshot. Last write wins;
// no history is kept.
type Presence struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`

	// ActiveConversationID is the conversation the user currently has
	// open, used to suppress unread growth for the viewer.
	ActiveConversationID *uuid.UUID `json:"active_conversation_id,omitempty"`
}

// OnlineAt applies the staleness inference: a snapshot with no
// heartbeat inside the window reads as offline no matter what status
// was last stored.
func (p Presence) OnlineAt(now time.Time, staleAfter time.Duration) bool {
	if p.Status == PresenceOffline || p.Status == "" {
		return false
	}
	return now.Sub(p.LastSeen) <= staleAfter
}

type HeartbeatRequest struct {
	Status               PresenceStatus `json:"status" binding:"required"`
	ActiveConversationID *uuid.UUID     `json:"active_conversation_id,omitempty"`
}

type PresenceResponse struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
	IsOnline bool           `json:"is_online"`
}
