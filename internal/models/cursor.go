package models

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageCursor is a restartable position in a conversation's message
// log: (created_at, id) with the id breaking timestamp ties.
type MessageCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func CursorOf(m *Message) MessageCursor {
	return MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

func (c MessageCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == uuid.Nil
}

// Less orders cursors by (created_at, id).
func (c MessageCursor) Less(o MessageCursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return strings.Compare(c.ID.String(), o.ID.String()) < 0
}

func (c MessageCursor) Equal(o MessageCursor) bool {
	return c.CreatedAt.Equal(o.CreatedAt) && c.ID == o.ID
}

func (c MessageCursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeMessageCursor(s string) (MessageCursor, error) {
	if s == "" {
		return MessageCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return MessageCursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return MessageCursor{}, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return MessageCursor{}, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return MessageCursor{}, fmt.Errorf("invalid cursor id: %w", err)
	}
	return MessageCursor{CreatedAt: ts, ID: id}, nil
}

// ConversationCursor pages the conversation list, newest updated_at
// first.
type ConversationCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

func (c ConversationCursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ID == uuid.Nil
}

func (c ConversationCursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := c.UpdatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeConversationCursor(s string) (ConversationCursor, error) {
	if s == "" {
		return ConversationCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ConversationCursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return ConversationCursor{}, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return ConversationCursor{}, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return ConversationCursor{}, fmt.Errorf("invalid cursor id: %w", err)
	}
	return ConversationCursor{UpdatedAt: ts, ID: id}, nil
}
