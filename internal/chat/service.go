package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// Service is the command surface of the conversation subsystem. All
// writes to conversations and messages flow through it; nothing writes
// storage behind its back.
type Service struct {
	convs ConversationStore
	msgs  MessageStore
	bus   Publisher
	log   zerolog.Logger
}

func NewService(convs ConversationStore, msgs MessageStore, bus Publisher, log zerolog.Logger) *Service {
	return &Service{
		convs: convs,
		msgs:  msgs,
		bus:   bus,
		log:   log.With().Str("component", "chat").Logger(),
	}
}

// FindOrCreate resolves the active conversation between the caller and
// otherID, creating it when the pair has no prior contact. The caller's
// role decides the pair labeling: a requester talks to a provider and
// vice versa.
func (s *Service) FindOrCreate(ctx context.Context, me models.Participant, otherID uuid.UUID, contextRef *string) (*models.Conversation, error) {
	if me.UserID == otherID {
		return nil, fmt.Errorf("cannot open a conversation with yourself")
	}

	requester := me
	provider := models.Participant{UserID: otherID, Role: models.RoleProvider}
	if me.Role == models.RoleProvider {
		requester = models.Participant{UserID: otherID, Role: models.RoleRequester}
		provider = me
	}

	conv, created, err := s.convs.FindOrCreate(ctx, requester, provider, contextRef)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}

	if created {
		if err := s.bus.PublishConversation(ctx, conv); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conv.ID.String()).
				Msg("publish conversation created")
		}
	}

	return conv, nil
}

// Send appends a message and updates the conversation's denormalized
// state. The message row is durable and published before the counter
// bump so a reader can never observe an unread increment without its
// message.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conv, err := s.convs.Get(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConversationUnavailable
		}
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if conv.Status != models.ConversationActive {
		return nil, ErrConversationUnavailable
	}

	sender, _ := conv.Participant(senderID)

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderRole:     sender.Role,
		SenderName:     sender.DisplayName,
		Content:        req.Content,
		Kind:           req.Kind,
		Attachment:     req.Attachment,
		Metadata:       req.Metadata,
		ClientKey:      req.ClientKey,
	}

	created, err := s.msgs.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if !created {
		// Idempotent replay of a retried send; the original already
		// went through the full pipeline.
		return msg, nil
	}

	if err := s.bus.PublishMessage(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("publish message")
	}

	updated, err := s.convs.ApplyMessage(ctx, msg)
	if err != nil {
		// The message is durable; the denormalized pointer catches up
		// on the next write or reload.
		s.log.Error().Err(err).Str("conversation_id", conv.ID.String()).
			Msg("apply message to conversation")
		return msg, nil
	}

	if err := s.bus.PublishConversation(ctx, updated); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conv.ID.String()).
			Msg("publish conversation update")
	}

	return msg, nil
}

// MarkRead flips is_read on all unread peer messages and resets the
// reader's counter as one logical batch. Idempotent: with nothing new
// to read it transitions zero messages.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrConversationUnavailable
		}
		return 0, fmt.Errorf("resolve conversation: %w", err)
	}
	if !conv.HasParticipant(readerID) {
		return 0, ErrNotParticipant
	}

	n, err := s.msgs.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	updated, err := s.convs.ResetUnread(ctx, conversationID, readerID)
	if err != nil {
		return n, fmt.Errorf("reset unread: %w", err)
	}

	if n > 0 {
		if err := s.bus.PublishConversation(ctx, updated); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID.String()).
				Msg("publish conversation update")
		}
	}

	return n, nil
}

// Archive retires a conversation. Idempotent; rows are never deleted.
func (s *Service) Archive(ctx context.Context, conversationID, actingUser uuid.UUID) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(actingUser) {
		return ErrNotParticipant
	}

	if err := s.convs.Archive(ctx, conversationID, actingUser); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}

	updated, err := s.convs.Get(ctx, conversationID)
	if err == nil {
		if err := s.bus.PublishConversation(ctx, updated); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID.String()).
				Msg("publish conversation archive")
		}
	}

	return nil
}

// Get loads a conversation the user participates in.
func (s *Service) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// List pages userID's conversations, newest activity first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*models.ConversationList, error) {
	cur, err := models.DecodeConversationCursor(cursor)
	if err != nil {
		return nil, err
	}

	items, next, err := s.convs.List(ctx, userID, cur, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return &models.ConversationList{Items: items, NextCursor: next.Encode()}, nil
}

// Messages pages a conversation's log in (created_at, id) order,
// restartable from a cursor for tailing and reconnect resync.
func (s *Service) Messages(ctx context.Context, userID, conversationID uuid.UUID, since string, limit int) (*models.MessageList, error) {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	cur, err := models.DecodeMessageCursor(since)
	if err != nil {
		return nil, err
	}

	items, next, err := s.msgs.ListByConversation(ctx, conversationID, cur, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return &models.MessageList{Items: items, NextCursor: next.Encode()}, nil
}

// MessagesSince is the resync path: everything after the cursor with no
// participant re-check, used internally by sessions that already hold
// the conversation.
func (s *Service) MessagesSince(ctx context.Context, conversationID uuid.UUID, since models.MessageCursor, limit int) ([]models.Message, models.MessageCursor, error) {
	return s.msgs.ListByConversation(ctx, conversationID, since, limit)
}
