package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/memory"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

func startSession(t *testing.T, f *fixture, userID uuid.UUID) *chat.Session {
	t.Helper()
	session := chat.NewSession(userID, f.svc, f.bus, chat.SessionConfig{
		SendTimeout:        2 * time.Second,
		OfflineBannerAfter: 50 * time.Millisecond,
		PageSize:           10,
	}, zerolog.Nop())
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Stop)
	return session
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func awaitFrame(t *testing.T, ch <-chan models.WSMessage, event string) models.WSMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-ch:
			if frame.Event == event {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame on the event stream", event)
			return models.WSMessage{}
		}
	}
}

func TestSessionUnreadFollowsPeerActivity(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	requester := startSession(t, f, f.requester.UserID)
	provider := startSession(t, f, f.provider.UserID)

	for i := 0; i < 2; i++ {
		_, err := requester.Send(ctx, models.SendMessageRequest{
			ConversationID: conv.ID,
			Content:        "oi",
			ClientKey:      uuid.NewString(),
		})
		require.NoError(t, err)
	}

	eventually(t, func() bool {
		n, err := provider.TotalUnread(ctx)
		return err == nil && n == 2
	}, "provider badge reaches 2")

	n, err := provider.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := provider.TotalUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Marking again transitions nothing.
	n, err = provider.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionOptimisticEchoReconciles(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	requester := startSession(t, f, f.requester.UserID)

	_, err := requester.Open(ctx, conv.ID)
	require.NoError(t, err)

	sent, err := requester.Send(ctx, models.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "consegue me atender hoje?",
		ClientKey:      "ck-echo",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sent.ID)

	// The echo was replaced by the authoritative row, never duplicated,
	// even though the bus also delivered the send back to us.
	eventually(t, func() bool {
		msgs, err := requester.Open(ctx, conv.ID)
		return err == nil && len(msgs) == 1 && msgs[0].ID == sent.ID && msgs[0].Delivery == ""
	}, "tail holds exactly the authoritative message")
}

func TestSessionIgnoresDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	requester := startSession(t, f, f.requester.UserID)
	provider := startSession(t, f, f.provider.UserID)

	_, err := provider.Open(ctx, conv.ID)
	require.NoError(t, err)

	sent, err := requester.Send(ctx, models.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "segue a foto do problema",
		ClientKey:      "ck-dup",
	})
	require.NoError(t, err)

	eventually(t, func() bool {
		msgs, err := provider.Open(ctx, conv.ID)
		return err == nil && len(msgs) == 1
	}, "provider tail receives the message")

	// At-least-once channel: the same event may arrive again.
	f.bus.Redeliver(sent)
	f.bus.Redeliver(sent)

	time.Sleep(50 * time.Millisecond)
	msgs, err := provider.Open(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "duplicates are dropped by id")
}

func TestSessionResyncsAfterReconnect(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	requester := startSession(t, f, f.requester.UserID)
	provider := startSession(t, f, f.provider.UserID)

	_, err := provider.Open(ctx, conv.ID)
	require.NoError(t, err)
	provider.CloseConversation()

	// The channel goes down; events published during the gap are lost
	// for good, but the writes are durable.
	f.bus.SetState(models.StateDisconnected)

	for _, content := range []string{"posso ir amanhã às 9h?", "ou no sábado"} {
		_, err := requester.Send(ctx, models.SendMessageRequest{
			ConversationID: conv.ID,
			Content:        content,
			ClientKey:      uuid.NewString(),
		})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	total, err := provider.TotalUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total, "nothing arrives while disconnected")

	// Recovery triggers reload-on-reconnect: list and tails catch up
	// from storage.
	f.bus.SetState(models.StateConnected)

	eventually(t, func() bool {
		n, err := provider.TotalUnread(ctx)
		return err == nil && n == 2
	}, "badge catches up after resync")

	msgs, err := provider.Open(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "tail recovered both missed messages")
}

func TestSessionOpenAcknowledgesAndSuppressesBadge(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	requester := startSession(t, f, f.requester.UserID)

	_, err := requester.Send(ctx, models.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "primeira mensagem",
		ClientKey:      uuid.NewString(),
	})
	require.NoError(t, err)

	provider := startSession(t, f, f.provider.UserID)

	total, err := provider.TotalUnread(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	// Opening the conversation acknowledges the backlog.
	msgs, err := provider.Open(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	total, err = provider.TotalUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	active, err := provider.ActiveConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, active)

	// With the conversation on screen, new messages are acknowledged
	// immediately instead of growing the badge.
	_, err = requester.Send(ctx, models.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "ainda está aí?",
		ClientKey:      uuid.NewString(),
	})
	require.NoError(t, err)

	eventually(t, func() bool {
		msgs, err := provider.Open(ctx, conv.ID)
		return err == nil && len(msgs) == 2
	}, "message lands in the open tail")

	eventually(t, func() bool {
		n, err := provider.TotalUnread(ctx)
		if err != nil || n != 0 {
			return false
		}
		stored, err := f.svc.Get(ctx, conv.ID, f.provider.UserID)
		return err == nil && stored.UnreadFor(f.provider.UserID) == 0
	}, "viewer's counter stays at zero")
}

func TestSessionObservesPresence(t *testing.T) {
	f := newFixture(t)
	f.conversation(t)
	ctx := context.Background()

	provider := startSession(t, f, f.provider.UserID)

	now := time.Now()
	require.NoError(t, f.bus.PublishPresence(ctx, &models.Presence{
		UserID:   f.requester.UserID,
		Status:   models.PresenceOnline,
		LastSeen: now,
	}))

	eventually(t, func() bool {
		p, ok, err := provider.PresenceOf(ctx, f.requester.UserID)
		return err == nil && ok && p.Status == models.PresenceOnline
	}, "presence snapshot observed")

	// A stale snapshot must not win over the newer one.
	require.NoError(t, f.bus.PublishPresence(ctx, &models.Presence{
		UserID:   f.requester.UserID,
		Status:   models.PresenceOffline,
		LastSeen: now.Add(-time.Minute),
	}))

	time.Sleep(50 * time.Millisecond)
	p, ok, err := provider.PresenceOf(ctx, f.requester.UserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PresenceOnline, p.Status)
}

func TestSessionListsConversationsByActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := models.Participant{UserID: uuid.New(), Role: models.RoleProvider, DisplayName: "Funilaria da Clara"}

	first := f.conversation(t)
	second, err := f.svc.FindOrCreate(ctx, f.requester, other.UserID, nil)
	require.NoError(t, err)

	requester := startSession(t, f, f.requester.UserID)

	// Activity in the first conversation moves it to the top.
	_, err = requester.Send(ctx, models.SendMessageRequest{
		ConversationID: first.ID,
		Content:        "voltei",
		ClientKey:      uuid.NewString(),
	})
	require.NoError(t, err)

	eventually(t, func() bool {
		convs, err := requester.Conversations(ctx)
		return err == nil && len(convs) == 2 && convs[0].ID == first.ID && convs[1].ID == second.ID
	}, "most recent activity first")
}

// slowMessageStore delays Append until the deadline fires, standing in
// for a storage collaborator that stops answering.
type slowMessageStore struct {
	chat.MessageStore

	mu    sync.Mutex
	delay time.Duration
}

func (s *slowMessageStore) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *slowMessageStore) Append(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.MessageStore.Append(ctx, msg)
}

func TestSessionSendTimeoutMarksEchoFailedAndRetryIsSafe(t *testing.T) {
	convs := memory.NewConversationStore()
	msgs := memory.NewMessageStore()
	bus := memory.NewBus()
	slow := &slowMessageStore{MessageStore: msgs, delay: time.Second}
	svc := chat.NewService(convs, slow, bus, zerolog.Nop())
	ctx := context.Background()

	requester := models.Participant{UserID: uuid.New(), Role: models.RoleRequester, DisplayName: "Ana"}
	provider := models.Participant{UserID: uuid.New(), Role: models.RoleProvider, DisplayName: "Oficina do Bruno"}

	conv, err := svc.FindOrCreate(ctx, requester, provider.UserID, nil)
	require.NoError(t, err)

	session := chat.NewSession(requester.UserID, svc, bus, chat.SessionConfig{
		SendTimeout: 50 * time.Millisecond,
		PageSize:    10,
	}, zerolog.Nop())
	require.NoError(t, session.Start(ctx))
	t.Cleanup(session.Stop)

	req := models.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "tem vaga para revisão?",
		ClientKey:      "ck-timeout",
	}
	_, err = session.Send(ctx, req)
	assert.ErrorIs(t, err, chat.ErrSendTimeout)

	// The echo surfaces as failed instead of being silently dropped.
	failed := awaitFrame(t, session.Events(), models.EventWSMessageFailed)
	echo, ok := failed.Payload.(*models.Message)
	require.True(t, ok)
	assert.Equal(t, models.DeliveryFailed, echo.Delivery)
	assert.Equal(t, "ck-timeout", echo.ClientKey)

	// Storage recovers; retrying with the same client key stores the
	// message exactly once.
	slow.setDelay(0)
	sent, err := session.Send(ctx, req)
	require.NoError(t, err)

	stored, _, err := msgs.ListByConversation(ctx, conv.ID, models.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, sent.ID, stored[0].ID)
}

// listSpyStore publishes a bus event while the first List call is in
// flight, recreating a write that lands mid way through session start.
type listSpyStore struct {
	chat.ConversationStore

	once    sync.Once
	publish func()
}

func (s *listSpyStore) List(ctx context.Context, userID uuid.UUID, cursor models.ConversationCursor, limit int) ([]models.Conversation, models.ConversationCursor, error) {
	s.once.Do(s.publish)
	return s.ConversationStore.List(ctx, userID, cursor, limit)
}

func TestSessionStartCatchesEventsDuringInitialLoad(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	bumped := *conv
	bumped.SetUnread(f.provider.UserID, 1)
	bumped.UpdatedAt = conv.UpdatedAt.Add(time.Second)

	spy := &listSpyStore{ConversationStore: f.convs, publish: func() {
		require.NoError(t, f.bus.PublishConversation(ctx, &bumped))
	}}
	svc := chat.NewService(spy, f.msgs, f.bus, zerolog.Nop())

	session := chat.NewSession(f.provider.UserID, svc, f.bus, chat.SessionConfig{
		SendTimeout: 2 * time.Second,
		PageSize:    10,
	}, zerolog.Nop())
	require.NoError(t, session.Start(ctx))
	t.Cleanup(session.Stop)

	// The update raced the initial list load; it must still be applied,
	// not lost in the window before the stream was wired.
	eventually(t, func() bool {
		n, err := session.TotalUnread(ctx)
		return err == nil && n == 1
	}, "update published during the list load is applied")
}
