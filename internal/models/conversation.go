package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

// Participant is one side of a conversation, tagged with its
// marketplace role.
type Participant struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	DisplayName string    `json:"display_name,omitempty" db:"display_name"`
}

// LastMessageRef is the denormalized pointer used for list rendering.
// Eventually consistent with the message log.
type LastMessageRef struct {
	ID        uuid.UUID `json:"id"`
	Snippet   string    `json:"snippet"`
	SenderID  uuid.UUID `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	Requester   Participant        `json:"requester"`
	Provider    Participant        `json:"provider"`
	Status      ConversationStatus `json:"status" db:"status"`
	ContextRef  *string            `json:"context_ref,omitempty" db:"context_ref"`
	LastMessage *LastMessageRef    `json:"last_message,omitempty"`

	// One unread counter per participant, never negative.
	UnreadRequester int `json:"unread_requester" db:"unread_requester"`
	UnreadProvider  int `json:"unread_provider" db:"unread_provider"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PairKey normalizes an unordered participant pair into the key the
// active-conversation uniqueness constraint is built on.
func PairKey(a, b uuid.UUID) string {
	if strings.Compare(a.String(), b.String()) < 0 {
		return a.String() + ":" + b.String()
	}
	return b.String() + ":" + a.String()
}

// PairKey returns the normalized key for this conversation's pair.
func (c *Conversation) PairKey() string {
	return PairKey(c.Requester.UserID, c.Provider.UserID)
}

// Validate checks the structural invariants of a conversation.
func (c *Conversation) Validate() error {
	if c.Requester.UserID == uuid.Nil || c.Provider.UserID == uuid.Nil {
		return fmt.Errorf("both participants are required")
	}
	if c.Requester.UserID == c.Provider.UserID {
		return fmt.Errorf("participants must be distinct users")
	}
	if c.Requester.Role != RoleRequester || c.Provider.Role != RoleProvider {
		return fmt.Errorf("participants must carry requester and provider roles")
	}
	switch c.Status {
	case ConversationActive, ConversationArchived, ConversationBlocked:
	default:
		return fmt.Errorf("invalid status %q", c.Status)
	}
	return nil
}

// HasParticipant reports whether userID is one of the two sides.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.Requester.UserID == userID || c.Provider.UserID == userID
}

// Participant returns the side belonging to userID.
func (c *Conversation) Participant(userID uuid.UUID) (Participant, bool) {
	switch userID {
	case c.Requester.UserID:
		return c.Requester, true
	case c.Provider.UserID:
		return c.Provider, true
	}
	return Participant{}, false
}

// Peer returns the other side of the conversation.
func (c *Conversation) Peer(userID uuid.UUID) (Participant, bool) {
	switch userID {
	case c.Requester.UserID:
		return c.Provider, true
	case c.Provider.UserID:
		return c.Requester, true
	}
	return Participant{}, false
}

// UnreadFor returns the unread counter belonging to userID.
func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	switch userID {
	case c.Requester.UserID:
		return c.UnreadRequester
	case c.Provider.UserID:
		return c.UnreadProvider
	}
	return 0
}

// SetUnread overwrites the unread counter belonging to userID,
// clamping at zero.
func (c *Conversation) SetUnread(userID uuid.UUID, n int) {
	if n < 0 {
		n = 0
	}
	switch userID {
	case c.Requester.UserID:
		c.UnreadRequester = n
	case c.Provider.UserID:
		c.UnreadProvider = n
	}
}

type CreateConversationRequest struct {
	OtherUserID uuid.UUID `json:"other_user_id" binding:"required"`
	ContextRef  *string   `json:"context_ref,omitempty"`
}

type ConversationList struct {
	Items      []Conversation `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
