package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
	"github.com/eubbbruno/instauto-chat/internal/presence"
)

// Hub tracks connected clients per user and fans each user's session
// event stream out to all of that user's connections. A user with two
// tabs shares one session; the session is released when the last tab
// goes away.
type Hub struct {
	manager   *chat.Manager
	tracker   *presence.Tracker
	beatEvery time.Duration
	log       zerolog.Logger

	mu    sync.RWMutex
	users map[uuid.UUID]*userConns
}

type userConns struct {
	session *chat.Session
	clients map[*Client]bool
	stop    chan struct{}
}

func NewHub(manager *chat.Manager, tracker *presence.Tracker, heartbeatEvery time.Duration, log zerolog.Logger) *Hub {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 30 * time.Second
	}
	return &Hub{
		manager:   manager,
		tracker:   tracker,
		beatEvery: heartbeatEvery,
		log:       log.With().Str("component", "ws-hub").Logger(),
		users:     make(map[uuid.UUID]*userConns),
	}
}

// Register attaches a client, acquiring the user's session on the
// first connection.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	h.mu.Lock()

	uc, ok := h.users[client.userID]
	if !ok {
		session, err := h.manager.Acquire(ctx, client.userID)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		uc = &userConns{
			session: session,
			clients: make(map[*Client]bool),
			stop:    make(chan struct{}),
		}
		h.users[client.userID] = uc
		go h.pump(client.userID, uc)
	}
	uc.clients[client] = true
	client.session = uc.session
	h.mu.Unlock()

	if err := h.tracker.Heartbeat(ctx, client.userID, models.PresenceOnline, nil); err != nil {
		h.log.Warn().Err(err).Str("user_id", client.userID.String()).Msg("presence on connect")
	}

	h.log.Info().Str("user_id", client.userID.String()).Msg("client registered")
	return nil
}

// Unregister detaches a client; the last connection for a user stops
// the fan-out, releases the session and records the user offline.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	uc, ok := h.users[client.userID]
	if !ok || !uc.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(uc.clients, client)
	client.closeSend()

	last := len(uc.clients) == 0
	if last {
		close(uc.stop)
		delete(h.users, client.userID)
	}
	h.mu.Unlock()

	if last {
		h.manager.Release(client.userID)
		if err := h.tracker.Disconnect(context.Background(), client.userID); err != nil {
			h.log.Warn().Err(err).Str("user_id", client.userID.String()).Msg("presence on disconnect")
		}
	}

	h.log.Info().Str("user_id", client.userID.String()).Msg("client unregistered")
}

// pump forwards session events to every connection of the user and
// re-announces presence on a timer so an idle socket with live pongs
// does not drift past the staleness window.
func (h *Hub) pump(userID uuid.UUID, uc *userConns) {
	ticker := time.NewTicker(h.beatEvery)
	defer ticker.Stop()

	for {
		select {
		case ev := <-uc.session.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Str("event", ev.Event).Msg("marshal session event")
				continue
			}
			h.mu.RLock()
			for client := range uc.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer; the client's own pump will
					// notice the closed connection soon enough.
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.beat(userID, uc.session)

		case <-uc.stop:
			return
		}
	}
}

// beat refreshes the user's presence snapshot, keeping the currently
// opened conversation so badge suppression stays accurate.
func (h *Hub) beat(userID uuid.UUID, session *chat.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var active *uuid.UUID
	if id, err := session.ActiveConversation(ctx); err == nil && id != uuid.Nil {
		active = &id
	}
	if err := h.tracker.Heartbeat(ctx, userID, models.PresenceOnline, active); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("periodic heartbeat")
	}
}

// ConnectedUsers returns the user ids with at least one open socket.
func (h *Hub) ConnectedUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, uc := range h.users {
		for client := range uc.clients {
			delete(uc.clients, client)
			client.closeSend()
			client.conn.Close()
		}
		close(uc.stop)
		delete(h.users, id)
		h.manager.Release(id)
	}
}
