package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// MessageStore is the in-memory append-only log implementation.
type MessageStore struct {
	mu          sync.Mutex
	byConv      map[uuid.UUID][]*models.Message
	byClientKey map[string]*models.Message
	now         func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConv:      make(map[uuid.UUID][]*models.Message),
		byClientKey: make(map[string]*models.Message),
		now:         time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *MessageStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.ConversationID.String() + "|" + msg.ClientKey
	if existing, ok := s.byClientKey[key]; ok {
		*msg = *existing
		return false, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, err
	}
	msg.ID = id
	msg.CreatedAt = s.now()
	msg.IsRead = false
	msg.Delivery = ""

	stored := cloneMessage(msg)
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], stored)
	s.byClientKey[key] = stored

	// Keep the log in (created_at, id) order even if the clock is
	// coarse enough to produce ties.
	log := s.byConv[msg.ConversationID]
	sort.Slice(log, func(i, j int) bool {
		return models.CursorOf(log[i]).Less(models.CursorOf(log[j]))
	})

	return true, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, since models.MessageCursor, limit int) ([]models.Message, models.MessageCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	items := make([]models.Message, 0, limit)
	for _, m := range s.byConv[conversationID] {
		if !since.IsZero() && !since.Less(models.CursorOf(m)) {
			continue
		}
		items = append(items, *cloneMessage(m))
		if len(items) == limit {
			break
		}
	}

	var next models.MessageCursor
	if len(items) > 0 {
		next = models.CursorOf(&items[len(items)-1])
	} else {
		next = since
	}

	return items, next, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.byConv[conversationID] {
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}

	return n, nil
}

func cloneMessage(m *models.Message) *models.Message {
	out := *m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.Metadata != nil {
		md := make(models.Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return &out
}
