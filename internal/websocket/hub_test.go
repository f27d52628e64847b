package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/memory"
	"github.com/eubbbruno/instauto-chat/internal/middleware"
	"github.com/eubbbruno/instauto-chat/internal/models"
	"github.com/eubbbruno/instauto-chat/internal/presence"
)

func newHubFixture(t *testing.T, beatEvery time.Duration) (*Hub, *memory.Bus) {
	t.Helper()

	convs := memory.NewConversationStore()
	msgs := memory.NewMessageStore()
	bus := memory.NewBus()
	svc := chat.NewService(convs, msgs, bus, zerolog.Nop())
	manager := chat.NewManager(svc, bus, chat.SessionConfig{
		SendTimeout: 2 * time.Second,
		PageSize:    10,
	}, zerolog.Nop())
	tracker := presence.NewTracker(nil, bus, 90*time.Second, zerolog.Nop())

	return NewHub(manager, tracker, beatEvery, zerolog.Nop()), bus
}

func TestHubReannouncesPresenceWhileConnected(t *testing.T) {
	hub, bus := newHubFixture(t, 20*time.Millisecond)

	me := models.Participant{UserID: uuid.New(), Role: models.RoleRequester, DisplayName: "Ana"}

	var mu sync.Mutex
	beats := 0
	unsub := bus.Subscribe(func(ev models.Event) {
		if ev.Type == models.EventPresenceChanged && ev.Presence != nil &&
			ev.Presence.UserID == me.UserID && ev.Presence.Status == models.PresenceOnline {
			mu.Lock()
			beats++
			mu.Unlock()
		}
	})
	defer unsub()

	client := NewClient(hub, nil, me, middleware.NewRateLimiter(10))
	require.NoError(t, hub.Register(context.Background(), client))
	defer hub.Unregister(client)

	// One beat on register, then the timer keeps the snapshot fresh for
	// an idle socket.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return beats >= 3
	}, 2*time.Second, 10*time.Millisecond, "idle connection keeps heartbeating")
}

func TestHubRecordsOfflineOnLastUnregister(t *testing.T) {
	hub, bus := newHubFixture(t, time.Minute)

	me := models.Participant{UserID: uuid.New(), Role: models.RoleRequester, DisplayName: "Ana"}

	var mu sync.Mutex
	var last models.PresenceStatus
	unsub := bus.Subscribe(func(ev models.Event) {
		if ev.Type == models.EventPresenceChanged && ev.Presence != nil && ev.Presence.UserID == me.UserID {
			mu.Lock()
			last = ev.Presence.Status
			mu.Unlock()
		}
	})
	defer unsub()

	client := NewClient(hub, nil, me, middleware.NewRateLimiter(10))
	require.NoError(t, hub.Register(context.Background(), client))
	require.Len(t, hub.ConnectedUsers(), 1)

	hub.Unregister(client)
	require.Empty(t, hub.ConnectedUsers())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == models.PresenceOffline
	}, 2*time.Second, 10*time.Millisecond, "disconnect publishes offline")
}
