package models

// Topics of the external change-event channel. At-least-once delivery,
// no backlog replay across reconnects.
const (
	TopicMessages      = "chat:messages"
	TopicConversations = "chat:conversations"
	TopicPresence      = "chat:presence"
)

type EventType string

const (
	EventMessageInserted     EventType = "message.inserted"
	EventConversationChanged EventType = "conversation.changed"
	EventPresenceChanged     EventType = "presence.changed"

	// EventResync is synthesized locally when the channel recovers
	// from a disconnect; it is never published. Consumers must treat
	// it as "reload everything you care about".
	EventResync EventType = "resync"
)

// Event is a typed, deduplicated change event as republished by the
// bus adapter to in-process listeners.
type Event struct {
	Type         EventType     `json:"type"`
	Message      *Message      `json:"message,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Presence     *Presence     `json:"presence,omitempty"`
}

type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)
