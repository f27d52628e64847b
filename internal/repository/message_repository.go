package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/database"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

const messageColumns = `
	id, conversation_id, sender_id, sender_role, sender_name, content,
	kind, attachment, metadata, client_key, is_read, created_at, edited_at
`

// MessageRepository is the Postgres-backed append-only message log.
type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append assigns a time-ordered id and writes the message. The unique
// (conversation_id, client_key) constraint makes retried sends
// idempotent: a replay loads the winning row instead of inserting.
func (r *MessageRepository) Append(ctx context.Context, msg *models.Message) (bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("failed to generate message id: %w", err)
	}

	attachment, err := marshalNullable(msg.Attachment)
	if err != nil {
		return false, fmt.Errorf("failed to encode attachment: %w", err)
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, sender_name, content, kind, attachment, metadata, client_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (conversation_id, client_key) DO NOTHING
		RETURNING created_at
	`

	err = r.db.QueryRowContext(
		ctx, query,
		id, msg.ConversationID, msg.SenderID, msg.SenderRole, msg.SenderName,
		msg.Content, msg.Kind, attachment, metadata, msg.ClientKey,
	).Scan(&msg.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Retried send; return the original row.
		existing, err := r.getByClientKey(ctx, msg.ConversationID, msg.ClientKey)
		if err != nil {
			return false, fmt.Errorf("failed to load replayed message: %w", err)
		}
		*msg = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	msg.ID = id
	msg.IsRead = false
	msg.Delivery = ""

	return true, nil
}

// ListByConversation retrieves messages strictly after the cursor in
// (created_at, id) order.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, since models.MessageCursor, limit int) ([]models.Message, models.MessageCursor, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		AND ($2::timestamptz IS NULL OR (created_at, id) > ($2, $3))
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`

	var (
		curTS sql.NullTime
		curID interface{}
	)
	if !since.IsZero() {
		curTS = sql.NullTime{Time: since.CreatedAt, Valid: true}
		curID = since.ID
	} else {
		curID = uuid.Nil
	}

	rows, err := r.db.QueryContext(ctx, query, conversationID, curTS, curID, limit)
	if err != nil {
		return nil, models.MessageCursor{}, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, models.MessageCursor{}, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, models.MessageCursor{}, fmt.Errorf("failed to read messages: %w", err)
	}

	next := since
	if len(messages) > 0 {
		next = models.CursorOf(&messages[len(messages)-1])
	}

	return messages, next, nil
}

// MarkRead flips is_read for every unread message authored by the
// other participant. Idempotent: nothing new to read means zero rows.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

func (r *MessageRepository) getByClientKey(ctx context.Context, conversationID uuid.UUID, clientKey string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND client_key = $2`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, conversationID, clientKey))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg        models.Message
		attachment []byte
		metadata   []byte
		editedAt   sql.NullTime
	)

	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderRole,
		&msg.SenderName, &msg.Content, &msg.Kind, &attachment, &metadata,
		&msg.ClientKey, &msg.IsRead, &msg.CreatedAt, &editedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachment) > 0 {
		if err := json.Unmarshal(attachment, &msg.Attachment); err != nil {
			return nil, fmt.Errorf("failed to decode attachment: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}

	return &msg, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *models.Attachment:
		if val == nil {
			return nil, nil
		}
	case models.Metadata:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
