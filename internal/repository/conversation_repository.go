package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/database"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

const uniqueViolation = "23505"

const conversationColumns = `
	id, pair_key, requester_id, requester_name, provider_id, provider_name,
	status, context_ref, last_message_id, last_message_snippet,
	last_message_sender_id, last_message_at, unread_requester,
	unread_provider, created_at, updated_at
`

// ConversationRepository is the Postgres-backed registry.
type ConversationRepository struct {
	db *database.DB
}

func NewConversationRepository(db *database.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// FindOrCreate returns the active conversation for the unordered pair,
// creating it when absent. The race between both participants sending
// "first" is settled by the partial unique index on (pair_key) WHERE
// status = 'active': the loser's insert conflicts and is treated as
// success followed by a re-read of the winner's row.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, requester, provider models.Participant, contextRef *string) (*models.Conversation, bool, error) {
	pairKey := models.PairKey(requester.UserID, provider.UserID)

	conv, err := r.getActiveByPair(ctx, pairKey)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return nil, false, err
	}

	candidate := &models.Conversation{
		ID:         uuid.New(),
		Requester:  requester,
		Provider:   provider,
		Status:     models.ConversationActive,
		ContextRef: contextRef,
	}
	if err := candidate.Validate(); err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO conversations (id, pair_key, requester_id, requester_name, provider_id, provider_name, status, context_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx, query,
		candidate.ID, pairKey,
		requester.UserID, requester.DisplayName,
		provider.UserID, provider.DisplayName,
		candidate.Status, contextRef,
	).Scan(&candidate.CreatedAt, &candidate.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			// Lost the creation race; the other side's row wins.
			conv, err := r.getActiveByPair(ctx, pairKey)
			if err != nil {
				return nil, false, fmt.Errorf("re-read after conflict: %w", err)
			}
			return conv, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	return candidate, true, nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// List retrieves a user's conversations, newest updated_at first,
// restartable from a cursor.
func (r *ConversationRepository) List(ctx context.Context, userID uuid.UUID, cursor models.ConversationCursor, limit int) ([]models.Conversation, models.ConversationCursor, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (requester_id = $1 OR provider_id = $1)
		AND ($2::timestamptz IS NULL OR (updated_at, id) < ($2, $3))
		ORDER BY updated_at DESC, id DESC
		LIMIT $4
	`

	var (
		curTS sql.NullTime
		curID interface{}
	)
	if !cursor.IsZero() {
		curTS = sql.NullTime{Time: cursor.UpdatedAt, Valid: true}
		curID = cursor.ID
	} else {
		curID = uuid.Nil
	}

	rows, err := r.db.QueryContext(ctx, query, userID, curTS, curID, limit)
	if err != nil {
		return nil, models.ConversationCursor{}, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, models.ConversationCursor{}, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, models.ConversationCursor{}, fmt.Errorf("failed to read conversations: %w", err)
	}

	var next models.ConversationCursor
	if len(conversations) == limit {
		last := conversations[len(conversations)-1]
		next = models.ConversationCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	return conversations, next, nil
}

// Archive sets status = archived. Idempotent; never deletes.
func (r *ConversationRepository) Archive(ctx context.Context, id, actingUser uuid.UUID) error {
	query := `
		UPDATE conversations
		SET status = 'archived', updated_at = GREATEST(updated_at, NOW())
		WHERE id = $1 AND status <> 'archived'
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}

	return nil
}

// ApplyMessage folds a durable message into the conversation row: the
// last-message pointer advances (never regresses), the recipient's
// unread counter grows by one and updated_at moves forward. Runs after
// the message insert, never before it.
func (r *ConversationRepository) ApplyMessage(ctx context.Context, msg *models.Message) (*models.Conversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 FOR UPDATE`
	conv, err := scanConversation(tx.QueryRowContext(ctx, query, msg.ConversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}

	ref := conv.LastMessage
	if ref == nil || ref.CreatedAt.Before(msg.CreatedAt) ||
		(ref.CreatedAt.Equal(msg.CreatedAt) && ref.ID.String() < msg.ID.String()) {
		conv.LastMessage = &models.LastMessageRef{
			ID:        msg.ID,
			Snippet:   models.Snippet(msg.Content),
			SenderID:  msg.SenderID,
			CreatedAt: msg.CreatedAt,
		}
	}

	if peer, ok := conv.Peer(msg.SenderID); ok {
		conv.SetUnread(peer.UserID, conv.UnreadFor(peer.UserID)+1)
	}

	update := `
		UPDATE conversations
		SET last_message_id = $2, last_message_snippet = $3,
		    last_message_sender_id = $4, last_message_at = $5,
		    unread_requester = $6, unread_provider = $7,
		    updated_at = GREATEST(updated_at, NOW())
		WHERE id = $1
		RETURNING updated_at
	`

	err = tx.QueryRowContext(
		ctx, update,
		conv.ID,
		conv.LastMessage.ID, conv.LastMessage.Snippet,
		conv.LastMessage.SenderID, conv.LastMessage.CreatedAt,
		conv.UnreadRequester, conv.UnreadProvider,
	).Scan(&conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return conv, nil
}

// ResetUnread zeroes the reader's counter. Idempotent; does not touch
// updated_at so acknowledging does not reorder the list.
func (r *ConversationRepository) ResetUnread(ctx context.Context, id, readerID uuid.UUID) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET unread_requester = CASE WHEN requester_id = $2 THEN 0 ELSE unread_requester END,
		    unread_provider  = CASE WHEN provider_id  = $2 THEN 0 ELSE unread_provider END
		WHERE id = $1
		RETURNING ` + conversationColumns + `
	`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id, readerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset unread: %w", err)
	}

	return conv, nil
}

func (r *ConversationRepository) getActiveByPair(ctx context.Context, pairKey string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE pair_key = $1 AND status = 'active'`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, pairKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by pair: %w", err)
	}

	return conv, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv       models.Conversation
		pairKey    string
		contextRef sql.NullString
		refID      uuid.NullUUID
		refSnippet sql.NullString
		refSender  uuid.NullUUID
		refAt      sql.NullTime
	)

	err := row.Scan(
		&conv.ID, &pairKey,
		&conv.Requester.UserID, &conv.Requester.DisplayName,
		&conv.Provider.UserID, &conv.Provider.DisplayName,
		&conv.Status, &contextRef,
		&refID, &refSnippet, &refSender, &refAt,
		&conv.UnreadRequester, &conv.UnreadProvider,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Requester.Role = models.RoleRequester
	conv.Provider.Role = models.RoleProvider
	if contextRef.Valid {
		conv.ContextRef = &contextRef.String
	}
	if refID.Valid && refAt.Valid {
		conv.LastMessage = &models.LastMessageRef{
			ID:        refID.UUID,
			Snippet:   refSnippet.String,
			SenderID:  refSender.UUID,
			CreatedAt: refAt.Time,
		}
	}

	return &conv, nil
}
