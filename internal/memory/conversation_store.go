package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

// ConversationStore is the in-memory registry implementation. It backs
// unit tests and mirrors the Postgres repository's semantics, including
// the single-active-conversation-per-pair constraint.
type ConversationStore struct {
	mu           sync.Mutex
	byID         map[uuid.UUID]*models.Conversation
	activeByPair map[string]uuid.UUID
	now          func() time.Time
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byID:         make(map[uuid.UUID]*models.Conversation),
		activeByPair: make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *ConversationStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, requester, provider models.Participant, contextRef *string) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(requester.UserID, provider.UserID)
	if id, ok := s.activeByPair[key]; ok {
		return cloneConversation(s.byID[id]), false, nil
	}

	now := s.now()
	conv := &models.Conversation{
		ID:         uuid.New(),
		Requester:  requester,
		Provider:   provider,
		Status:     models.ConversationActive,
		ContextRef: contextRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := conv.Validate(); err != nil {
		return nil, false, err
	}

	s.byID[conv.ID] = conv
	s.activeByPair[key] = conv.ID

	return cloneConversation(conv), true, nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *ConversationStore) List(ctx context.Context, userID uuid.UUID, cursor models.ConversationCursor, limit int) ([]models.Conversation, models.ConversationCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	all := make([]*models.Conversation, 0)
	for _, conv := range s.byID {
		if conv.HasParticipant(userID) {
			all = append(all, conv)
		}
	}

	// Newest activity first, id as tiebreak for a stable cursor.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})

	items := make([]models.Conversation, 0, limit)
	for _, conv := range all {
		if !cursor.IsZero() {
			// Skip rows at or before the cursor position.
			if conv.UpdatedAt.After(cursor.UpdatedAt) {
				continue
			}
			if conv.UpdatedAt.Equal(cursor.UpdatedAt) && conv.ID.String() >= cursor.ID.String() {
				continue
			}
		}
		items = append(items, *cloneConversation(conv))
		if len(items) == limit {
			break
		}
	}

	var next models.ConversationCursor
	if len(items) == limit {
		last := items[len(items)-1]
		next = models.ConversationCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	return items, next, nil
}

func (s *ConversationStore) Archive(ctx context.Context, id, actingUser uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return chat.ErrNotFound
	}
	if conv.Status == models.ConversationArchived {
		return nil
	}

	conv.Status = models.ConversationArchived
	conv.UpdatedAt = s.monotonic(conv.UpdatedAt)
	delete(s.activeByPair, conv.PairKey())

	return nil
}

func (s *ConversationStore) ApplyMessage(ctx context.Context, msg *models.Message) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		return nil, chat.ErrNotFound
	}

	// Only advance the pointer; a late-arriving older message must not
	// regress it.
	if conv.LastMessage == nil || conv.LastMessage.CreatedAt.Before(msg.CreatedAt) ||
		(conv.LastMessage.CreatedAt.Equal(msg.CreatedAt) && conv.LastMessage.ID.String() < msg.ID.String()) {
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

	conv.UpdatedAt = s.monotonic(conv.UpdatedAt)

	return cloneConversation(conv), nil
}

func (s *ConversationStore) ResetUnread(ctx context.Context, id, readerID uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, chat.ErrNotFound
	}

	conv.SetUnread(readerID, 0)

	return cloneConversation(conv), nil
}

// monotonic returns now() but never a value before prev; updated_at
// must not regress.
func (s *ConversationStore) monotonic(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	if c.LastMessage != nil {
		ref := *c.LastMessage
		out.LastMessage = &ref
	}
	if c.ContextRef != nil {
		ref := *c.ContextRef
		out.ContextRef = &ref
	}
	return &out
}
