package models

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindDocument    MessageKind = "document"
	KindLocation    MessageKind = "location"
	KindQuote       MessageKind = "quote"
	KindAppointment MessageKind = "appointment"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindImage, KindDocument, KindLocation, KindQuote, KindAppointment:
		return true
	}
	return false
}

// Attachment describes a file riding on a message. Storage of the blob
// itself is external; only the descriptor is kept.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// DeliveryState is the local-only lifecycle of an optimistic echo. It
// is never persisted.
type DeliveryState string

const (
	DeliverySending DeliveryState = "sending"
	DeliveryFailed  DeliveryState = "failed"
)

type Message struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ConversationID uuid.UUID   `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id" db:"sender_id"`
	SenderRole     Role        `json:"sender_role" db:"sender_role"`
	SenderName     string      `json:"sender_name,omitempty" db:"sender_name"`
	Content        string      `json:"content" db:"content"`
	Kind           MessageKind `json:"kind" db:"kind"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Metadata       Metadata    `json:"metadata,omitempty"`

	// ClientKey is the caller-supplied idempotency key. Retrying a
	// send with the same key can never produce a second row.
	ClientKey string `json:"client_key" db:"client_key"`

	// IsRead is meaningful for the recipient's view only; a sender's
	// own messages are implicitly read.
	IsRead bool `json:"is_read" db:"is_read"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty" db:"edited_at"`

	// Delivery tracks an unacknowledged optimistic echo.
	Delivery DeliveryState `json:"delivery,omitempty" db:"-"`
}

// Metadata is the free-form payload attached to a message.
type Metadata map[string]interface{}

const snippetMax = 120

// Snippet truncates content for the denormalized last-message pointer.
func Snippet(content string) string {
	if utf8.RuneCountInString(content) <= snippetMax {
		return content
	}
	runes := []rune(content)
	return string(runes[:snippetMax-1]) + "…"
}

type SendMessageRequest struct {
	ConversationID uuid.UUID   `json:"conversation_id" binding:"required"`
	Content        string      `json:"content" binding:"required,max=10000"`
	Kind           MessageKind `json:"kind"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Metadata       Metadata    `json:"metadata,omitempty"`
	ClientKey      string      `json:"client_key" binding:"required,max=128"`
}

// Validate applies the checks shared by the HTTP and WebSocket paths.
func (r *SendMessageRequest) Validate() error {
	if r.ConversationID == uuid.Nil {
		return fmt.Errorf("conversation_id is required")
	}
	if r.ClientKey == "" {
		return fmt.Errorf("client_key is required")
	}
	if r.Kind == "" {
		r.Kind = KindText
	}
	if !ValidKind(r.Kind) {
		return fmt.Errorf("invalid kind %q", r.Kind)
	}
	if r.Content == "" && r.Attachment == nil {
		return fmt.Errorf("content or attachment is required")
	}
	return nil
}

type MessageList struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type MarkReadResult struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Transitioned   int       `json:"transitioned"`
}
