package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/middleware"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10240 // 10KB
)

// Client is one WebSocket connection. Commands go to the user's shared
// session; session events arrive on send via the hub's fan-out.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	me      models.Participant
	session *chat.Session
	limiter *middleware.RateLimiter

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, me models.Participant, limiter *middleware.RateLimiter) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  me.UserID,
		me:      me,
		limiter: limiter,
	}
}

// ReadPump pumps frames from the connection into session commands.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("user_id", c.userID.String()).Msg("websocket read")
			}
			break
		}
		c.handleMessage(message)
	}
}

// WritePump pumps frames from the send channel to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var wsMsg models.WSMessage
	if err := json.Unmarshal(data, &wsMsg); err != nil {
		c.sendError("Invalid message format", "")
		return
	}

	switch wsMsg.Event {
	case models.EventWSMessageSend:
		c.handleSend(wsMsg.Payload)

	case models.EventWSMessageRead:
		c.handleMarkRead(wsMsg.Payload)

	case models.EventWSOpenConversation:
		c.handleOpen(wsMsg.Payload)

	case models.EventWSHeartbeat:
		c.handleHeartbeat(wsMsg.Payload)

	default:
		c.sendError("Unknown event type", "")
	}
}

func (c *Client) handleSend(payload interface{}) {
	if !c.limiter.Allow(c.userID) {
		c.sendError("Rate limit exceeded", "rate_limited")
		return
	}

	var req models.SendMessageRequest
	if !decodePayload(payload, &req) {
		c.sendError("Invalid message payload", "")
		return
	}

	if _, err := c.session.Send(context.Background(), req); err != nil {
		// Timeouts already surfaced as a failed echo on the event
		// stream; other errors only concern this connection.
		if !errors.Is(err, chat.ErrSendTimeout) {
			c.sendError(err.Error(), errorCode(err))
		}
	}
}

func (c *Client) handleMarkRead(payload interface{}) {
	var req models.WSMarkReadPayload
	if !decodePayload(payload, &req) {
		c.sendError("Invalid read payload", "")
		return
	}

	if _, err := c.session.MarkRead(context.Background(), req.ConversationID); err != nil {
		c.sendError(err.Error(), errorCode(err))
	}
}

func (c *Client) handleOpen(payload interface{}) {
	var req models.WSOpenConversationPayload
	if !decodePayload(payload, &req) {
		c.sendError("Invalid open payload", "")
		return
	}

	msgs, err := c.session.Open(context.Background(), req.ConversationID)
	if err != nil {
		c.sendError(err.Error(), errorCode(err))
		return
	}

	c.reply(models.WSMessage{
		Event: models.EventWSOpenConversation,
		Payload: map[string]interface{}{
			"conversation_id": req.ConversationID,
			"messages":        msgs,
		},
	})

	active := req.ConversationID
	if err := c.hub.tracker.Heartbeat(context.Background(), c.userID, models.PresenceOnline, &active); err != nil {
		c.hub.log.Warn().Err(err).Str("user_id", c.userID.String()).Msg("presence on open")
	}
}

func (c *Client) handleHeartbeat(payload interface{}) {
	var req models.WSHeartbeatPayload
	if !decodePayload(payload, &req) {
		c.sendError("Invalid heartbeat payload", "")
		return
	}
	if req.Status == "" {
		req.Status = models.PresenceOnline
	}

	if err := c.hub.tracker.Heartbeat(context.Background(), c.userID, req.Status, req.ActiveConversationID); err != nil {
		c.sendError(err.Error(), "")
	}
}

// closeSend shuts the outbound channel exactly once. reply checks the
// flag under the same lock, so a frame in flight on the read pump
// cannot hit a channel the hub just closed.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) reply(msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(message, code string) {
	c.reply(models.WSMessage{
		Event:   models.EventWSError,
		Payload: models.WSErrorPayload{Message: message, Code: code},
	})
}

// decodePayload re-marshals the generic payload into its typed form.
func decodePayload(payload interface{}, out interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return "not_found"
	case errors.Is(err, chat.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, chat.ErrConversationUnavailable):
		return "conversation_unavailable"
	case errors.Is(err, chat.ErrSendTimeout):
		return "send_timeout"
	}
	return ""
}
