package models

import "github.com/google/uuid"

// WebSocket event types
const (
	EventWSMessageNew         = "message.new"
	EventWSMessageSend        = "message.send"
	EventWSMessageFailed      = "message.failed"
	EventWSMessageRead        = "message.read"
	EventWSConversationUpsert = "conversation.upsert"
	EventWSPresenceUpdate     = "presence.update"
	EventWSHeartbeat          = "heartbeat"
	EventWSOpenConversation   = "conversation.open"
	EventWSConnectionState    = "connection.state"
	EventWSUnreadTotal        = "unread.total"
	EventWSError              = "error"
)

type WSMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type WSMarkReadPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type WSOpenConversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type WSHeartbeatPayload struct {
	Status               PresenceStatus `json:"status"`
	ActiveConversationID *uuid.UUID     `json:"active_conversation_id,omitempty"`
}

type WSConnectionStatePayload struct {
	State   ConnectionState `json:"state"`
	Offline bool            `json:"offline"`
}

type WSUnreadTotalPayload struct {
	Total int `json:"total"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
