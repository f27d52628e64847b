package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// ConversationStore is the registry's storage contract. Implemented by
// the Postgres repository and by the in-memory store used in tests.
type ConversationStore interface {
	// FindOrCreate returns the active conversation for the unordered
	// pair, creating it atomically when absent. Concurrent calls from
	// both sides must converge on a single conversation.
	FindOrCreate(ctx context.Context, requester, provider models.Participant, contextRef *string) (*models.Conversation, bool, error)

	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)

	// List returns userID's conversations newest-updated first,
	// restartable from a cursor.
	List(ctx context.Context, userID uuid.UUID, cursor models.ConversationCursor, limit int) ([]models.Conversation, models.ConversationCursor, error)

	// Archive is idempotent and only flips status.
	Archive(ctx context.Context, id, actingUser uuid.UUID) error

	// ApplyMessage updates the denormalized last-message pointer,
	// bumps the recipient's unread counter and advances updated_at.
	// Called after the message row is durable, never before.
	ApplyMessage(ctx context.Context, msg *models.Message) (*models.Conversation, error)

	// ResetUnread zeroes readerID's counter. Idempotent.
	ResetUnread(ctx context.Context, id, readerID uuid.UUID) (*models.Conversation, error)
}

// MessageStore is the append-only message log contract.
type MessageStore interface {
	// Append assigns id and created_at and writes the message. A
	// replay of the same (conversation, client key) is reported with
	// created=false and msg loaded from the winning row.
	Append(ctx context.Context, msg *models.Message) (created bool, err error)

	// ListByConversation returns messages in (created_at, id) order
	// strictly after the cursor.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, since models.MessageCursor, limit int) ([]models.Message, models.MessageCursor, error)

	// MarkRead flips is_read on every unread message authored by the
	// other participant and reports how many transitioned.
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int, error)
}

// Publisher pushes change events onto the external channel after a
// write. At-least-once; consumers dedupe.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
	PublishConversation(ctx context.Context, conv *models.Conversation) error
	PublishPresence(ctx context.Context, p *models.Presence) error
}

// EventStream is the in-process side of the bus adapter: typed,
// deduplicated events plus connection-state notifications.
type EventStream interface {
	Subscribe(fn func(models.Event)) (unsubscribe func())
	OnConnectionStateChange(fn func(models.ConnectionState)) (unsubscribe func())
	State() models.ConnectionState
}
