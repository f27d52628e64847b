package chat

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// SessionConfig tunes one user's session.
type SessionConfig struct {
	SendTimeout        time.Duration
	OfflineBannerAfter time.Duration
	PageSize           int
}

func (c *SessionConfig) withDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.OfflineBannerAfter <= 0 {
		c.OfflineBannerAfter = 15 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
}

// tail is the lazily loaded message cache for one open conversation.
type tail struct {
	messages []models.Message
	ids      map[uuid.UUID]bool
	cursor   models.MessageCursor
}

// Session is the per-user facade over the conversation subsystem: the
// live conversation list, a derived total unread count, lazy message
// tails and the optimistic-send pipeline. All state is owned by a
// single reducer goroutine; commands and bus events feed one ordered
// mailbox, so no locks guard the maps below.
type Session struct {
	userID uuid.UUID
	svc    *Service
	stream EventStream
	cfg    SessionConfig
	log    zerolog.Logger
	now    func() time.Time

	inbox  chan func()
	outbox chan models.WSMessage
	done   chan struct{}

	unsubEvents func()
	unsubState  func()

	// Reducer-owned state.
	conversations map[uuid.UUID]models.Conversation
	tails         map[uuid.UUID]*tail
	pending       map[string]*models.Message
	presences     map[uuid.UUID]models.Presence
	activeConv    uuid.UUID
	totalUnread   int
	connState     models.ConnectionState
	disconnected  time.Time
}

func NewSession(userID uuid.UUID, svc *Service, stream EventStream, cfg SessionConfig, log zerolog.Logger) *Session {
	cfg.withDefaults()
	return &Session{
		userID:        userID,
		svc:           svc,
		stream:        stream,
		cfg:           cfg,
		log:           log.With().Str("component", "session").Str("user_id", userID.String()).Logger(),
		now:           time.Now,
		inbox:         make(chan func(), 256),
		outbox:        make(chan models.WSMessage, 256),
		done:          make(chan struct{}),
		conversations: make(map[uuid.UUID]models.Conversation),
		tails:         make(map[uuid.UUID]*tail),
		pending:       make(map[string]*models.Message),
		presences:     make(map[uuid.UUID]models.Presence),
		connState:     models.StateConnected,
	}
}

// Start wires the event stream into the mailbox, loads the conversation
// list and runs the reducer until Stop. Subscribing before the load
// means events landing mid-load queue up in the mailbox and are applied
// on top of the snapshot instead of being lost.
func (s *Session) Start(ctx context.Context) error {
	s.unsubEvents = s.stream.Subscribe(func(ev models.Event) {
		s.post(func() { s.apply(ev) })
	})
	s.unsubState = s.stream.OnConnectionStateChange(func(state models.ConnectionState) {
		s.post(func() { s.applyConnectionState(state) })
	})

	if err := s.reloadConversations(ctx); err != nil {
		s.unsubEvents()
		s.unsubState()
		return err
	}
	s.recomputeUnread()

	go s.run()
	return nil
}

// Stop tears the session down. Idempotent.
func (s *Session) Stop() {
	select {
	case <-s.done:
		return
	default:
	}
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	if s.unsubState != nil {
		s.unsubState()
	}
	close(s.done)
}

// Events is the outbound stream consumed by the gateway.
func (s *Session) Events() <-chan models.WSMessage {
	return s.outbox
}

func (s *Session) run() {
	for {
		select {
		case task := <-s.inbox:
			task()
		case <-s.done:
			return
		}
	}
}

// post enqueues work for the reducer without blocking past shutdown.
func (s *Session) post(task func()) {
	select {
	case s.inbox <- task:
	case <-s.done:
	}
}

// call runs task on the reducer and waits for it.
func (s *Session) call(ctx context.Context, task func()) error {
	doneCh := make(chan struct{})
	s.post(func() {
		defer close(doneCh)
		task()
	})
	select {
	case <-doneCh:
		return nil
	case <-s.done:
		return errors.New("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send appends a message with an optimistic local echo. On timeout the
// echo is marked failed and kept; retrying with the same client key is
// safe because the store dedupes on it.
func (s *Session) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	var (
		msg  *models.Message
		serr error
	)
	err := s.call(ctx, func() {
		msg, serr = s.doSend(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return msg, serr
}

func (s *Session) doSend(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	echo := &models.Message{
		ConversationID: req.ConversationID,
		SenderID:       s.userID,
		Content:        req.Content,
		Kind:           req.Kind,
		Attachment:     req.Attachment,
		Metadata:       req.Metadata,
		ClientKey:      req.ClientKey,
		CreatedAt:      s.now(),
		Delivery:       models.DeliverySending,
	}
	s.pending[req.ClientKey] = echo
	s.emit(models.EventWSMessageNew, echo)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	msg, err := s.svc.Send(sendCtx, s.userID, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Never silently dropped: the echo stays visible as
			// failed and the caller may retry with the same key.
			echo.Delivery = models.DeliveryFailed
			s.emit(models.EventWSMessageFailed, echo)
			return nil, ErrSendTimeout
		}
		delete(s.pending, req.ClientKey)
		s.emit(models.EventWSMessageFailed, echo)
		return nil, err
	}

	// Reconcile immediately if the authoritative event has not done it
	// yet; applyMessage drops the pending entry when it races us.
	if _, stillPending := s.pending[req.ClientKey]; stillPending {
		s.reconcile(msg)
	}

	return msg, nil
}

// MarkRead acknowledges every unread peer message in the conversation.
func (s *Session) MarkRead(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var (
		n    int
		merr error
	)
	err := s.call(ctx, func() {
		n, merr = s.doMarkRead(ctx, conversationID)
	})
	if err != nil {
		return 0, err
	}
	return n, merr
}

func (s *Session) doMarkRead(ctx context.Context, conversationID uuid.UUID) (int, error) {
	n, err := s.svc.MarkRead(ctx, conversationID, s.userID)
	if err != nil {
		return 0, err
	}

	if conv, ok := s.conversations[conversationID]; ok {
		conv.SetUnread(s.userID, 0)
		s.conversations[conversationID] = conv
		s.recomputeUnread()
	}
	if t, ok := s.tails[conversationID]; ok {
		for i := range t.messages {
			if t.messages[i].SenderID != s.userID {
				t.messages[i].IsRead = true
			}
		}
	}

	return n, nil
}

// CreateConversation resolves or creates the conversation with another
// user.
func (s *Session) CreateConversation(ctx context.Context, me models.Participant, otherID uuid.UUID, contextRef *string) (*models.Conversation, error) {
	var (
		conv *models.Conversation
		cerr error
	)
	err := s.call(ctx, func() {
		conv, cerr = s.svc.FindOrCreate(ctx, me, otherID, contextRef)
		if cerr == nil {
			s.upsertConversation(*conv)
		}
	})
	if err != nil {
		return nil, err
	}
	return conv, cerr
}

// Open loads (or returns) the conversation's message tail, marks it as
// the active conversation and acknowledges pending unread. The full
// history is paged in on first open; afterwards the tail is advanced by
// bus events.
func (s *Session) Open(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var (
		msgs []models.Message
		oerr error
	)
	err := s.call(ctx, func() {
		msgs, oerr = s.doOpen(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return msgs, oerr
}

func (s *Session) doOpen(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	if _, err := s.svc.Get(ctx, conversationID, s.userID); err != nil {
		return nil, err
	}

	t, ok := s.tails[conversationID]
	if !ok {
		t = &tail{ids: make(map[uuid.UUID]bool)}
		if err := s.fillTail(ctx, conversationID, t); err != nil {
			return nil, err
		}
		s.tails[conversationID] = t
	}

	s.activeConv = conversationID

	// Opening a conversation acknowledges it; the viewer's counter
	// must not keep growing for messages on screen.
	if conv, ok := s.conversations[conversationID]; ok && conv.UnreadFor(s.userID) > 0 {
		if _, err := s.doMarkRead(ctx, conversationID); err != nil {
			s.log.Warn().Err(err).Msg("mark read on open")
		}
	}

	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out, nil
}

// Close marks no conversation as active.
func (s *Session) CloseConversation() {
	s.post(func() { s.activeConv = uuid.Nil })
}

// Conversations returns the cached list, newest activity first.
func (s *Session) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.call(ctx, func() {
		out = s.sortedConversations()
	})
	return out, err
}

// TotalUnread is the sum of this user's unread counters.
func (s *Session) TotalUnread(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, func() { n = s.totalUnread })
	return n, err
}

// PresenceOf returns the last presence snapshot observed on the bus.
func (s *Session) PresenceOf(ctx context.Context, userID uuid.UUID) (models.Presence, bool, error) {
	var (
		p  models.Presence
		ok bool
	)
	err := s.call(ctx, func() { p, ok = s.presences[userID] })
	return p, ok, err
}

// ActiveConversation reports which conversation the user has open.
func (s *Session) ActiveConversation(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.call(ctx, func() { id = s.activeConv })
	return id, err
}

// ---- reducer internals ----

func (s *Session) apply(ev models.Event) {
	switch ev.Type {
	case models.EventMessageInserted:
		if ev.Message != nil {
			s.applyMessage(ev.Message)
		}
	case models.EventConversationChanged:
		if ev.Conversation != nil && ev.Conversation.HasParticipant(s.userID) {
			s.upsertConversation(*ev.Conversation)
		}
	case models.EventPresenceChanged:
		if ev.Presence != nil {
			s.applyPresence(*ev.Presence)
		}
	case models.EventResync:
		s.resync()
	}
}

// applyMessage folds an authoritative message event into the session.
// Keyed by message id, safe to run twice.
func (s *Session) applyMessage(msg *models.Message) {
	if _, mine := s.conversations[msg.ConversationID]; !mine {
		return
	}

	if msg.SenderID == s.userID {
		s.reconcile(msg)
		return
	}

	t, loaded := s.tails[msg.ConversationID]
	if !loaded {
		// Tail not open; the conversation-changed event carries the
		// preview and counter updates.
		return
	}

	if t.ids[msg.ID] {
		return // duplicate delivery
	}

	cur := models.CursorOf(msg)
	if !t.cursor.IsZero() && !t.cursor.Less(cur) {
		// Unseen message ordered before our cursor: we have a gap the
		// channel will never replay. Rebuild the tail from storage.
		s.resyncTail(msg.ConversationID, t)
		return
	}

	t.messages = append(t.messages, *msg)
	t.ids[msg.ID] = true
	t.cursor = cur
	s.emit(models.EventWSMessageNew, msg)

	// Viewer suppression: a message landing in the open conversation
	// is acknowledged immediately instead of growing the badge.
	if s.activeConv == msg.ConversationID {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
		defer cancel()
		if _, err := s.doMarkRead(ctx, msg.ConversationID); err != nil {
			s.log.Warn().Err(err).Msg("auto mark read")
		}
	}
}

// reconcile replaces the optimistic echo with the authoritative row,
// never duplicating it.
func (s *Session) reconcile(msg *models.Message) {
	delete(s.pending, msg.ClientKey)

	t, loaded := s.tails[msg.ConversationID]
	if !loaded {
		return
	}
	if t.ids[msg.ID] {
		return
	}
	t.messages = append(t.messages, *msg)
	t.ids[msg.ID] = true
	if t.cursor.Less(models.CursorOf(msg)) {
		t.cursor = models.CursorOf(msg)
	}
	s.sortTail(t)
	s.emit(models.EventWSMessageNew, msg)
}

func (s *Session) applyPresence(p models.Presence) {
	prev, ok := s.presences[p.UserID]
	if ok && p.LastSeen.Before(prev.LastSeen) {
		return // stale snapshot; last write wins
	}
	s.presences[p.UserID] = p
	s.emit(models.EventWSPresenceUpdate, p)
}

func (s *Session) upsertConversation(conv models.Conversation) {
	prev, ok := s.conversations[conv.ID]
	if ok && conv.UpdatedAt.Before(prev.UpdatedAt) {
		return // out-of-order event
	}
	s.conversations[conv.ID] = conv
	s.recomputeUnread()
	s.emit(models.EventWSConversationUpsert, conv)
}

func (s *Session) applyConnectionState(state models.ConnectionState) {
	prev := s.connState
	s.connState = state

	switch state {
	case models.StateDisconnected, models.StateReconnecting:
		if prev == models.StateConnected {
			s.disconnected = s.now()
			// Surface the offline banner only if the outage persists.
			time.AfterFunc(s.cfg.OfflineBannerAfter, func() {
				s.post(func() {
					if s.connState != models.StateConnected {
						s.emit(models.EventWSConnectionState, models.WSConnectionStatePayload{
							State:   s.connState,
							Offline: true,
						})
					}
				})
			})
		}
	case models.StateConnected:
		s.emit(models.EventWSConnectionState, models.WSConnectionStatePayload{State: state})
	}
}

// resync is the reload-on-reconnect rule: the channel replays no
// backlog, so after any gap the list and every open tail are reloaded
// from storage.
func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	if err := s.reloadConversations(ctx); err != nil {
		s.log.Error().Err(err).Msg("resync conversation list")
		return
	}
	s.recomputeUnread()

	for id, t := range s.tails {
		s.advanceTail(ctx, id, t)
	}

	for _, conv := range s.sortedConversations() {
		s.emit(models.EventWSConversationUpsert, conv)
	}
	s.emit(models.EventWSUnreadTotal, models.WSUnreadTotalPayload{Total: s.totalUnread})
}

func (s *Session) reloadConversations(ctx context.Context) error {
	fresh := make(map[uuid.UUID]models.Conversation)
	cursor := ""
	for {
		page, err := s.svc.List(ctx, s.userID, cursor, s.cfg.PageSize)
		if err != nil {
			return err
		}
		for _, conv := range page.Items {
			fresh[conv.ID] = conv
		}
		if page.NextCursor == "" || len(page.Items) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	s.conversations = fresh
	return nil
}

// advanceTail fetches everything after the tail's cursor and appends
// it, emitting each recovered message exactly once.
func (s *Session) advanceTail(ctx context.Context, conversationID uuid.UUID, t *tail) {
	since := t.cursor
	for {
		msgs, next, err := s.svc.MessagesSince(ctx, conversationID, since, s.cfg.PageSize)
		if err != nil {
			s.log.Error().Err(err).Str("conversation_id", conversationID.String()).
				Msg("resync message tail")
			return
		}
		if len(msgs) == 0 {
			return
		}
		for i := range msgs {
			m := msgs[i]
			if t.ids[m.ID] {
				continue
			}
			delete(s.pending, m.ClientKey)
			t.messages = append(t.messages, m)
			t.ids[m.ID] = true
			t.cursor = models.CursorOf(&m)
			s.emit(models.EventWSMessageNew, &m)
		}
		since = next
	}
}

// resyncTail rebuilds a tail from scratch after an unresolvable gap.
func (s *Session) resyncTail(conversationID uuid.UUID, t *tail) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	fresh := &tail{ids: make(map[uuid.UUID]bool)}
	if err := s.fillTail(ctx, conversationID, fresh); err != nil {
		s.log.Error().Err(err).Str("conversation_id", conversationID.String()).
			Msg("rebuild message tail")
		return
	}

	for i := range fresh.messages {
		m := fresh.messages[i]
		if !t.ids[m.ID] {
			s.emit(models.EventWSMessageNew, &m)
		}
	}
	*t = *fresh
}

func (s *Session) fillTail(ctx context.Context, conversationID uuid.UUID, t *tail) error {
	var since models.MessageCursor
	for {
		msgs, next, err := s.svc.MessagesSince(ctx, conversationID, since, s.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for i := range msgs {
			if t.ids[msgs[i].ID] {
				continue
			}
			t.messages = append(t.messages, msgs[i])
			t.ids[msgs[i].ID] = true
			t.cursor = models.CursorOf(&msgs[i])
		}
		since = next
	}
}

func (s *Session) sortTail(t *tail) {
	sort.SliceStable(t.messages, func(i, j int) bool {
		return models.CursorOf(&t.messages[i]).Less(models.CursorOf(&t.messages[j]))
	})
}

func (s *Session) sortedConversations() []models.Conversation {
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func (s *Session) recomputeUnread() {
	total := 0
	for _, conv := range s.conversations {
		total += conv.UnreadFor(s.userID)
	}
	if total != s.totalUnread {
		s.totalUnread = total
		s.emit(models.EventWSUnreadTotal, models.WSUnreadTotalPayload{Total: total})
	}
}

// emit pushes a frame to the gateway without ever blocking the
// reducer. A full outbox drops the frame; the next resync restores
// consistency.
func (s *Session) emit(event string, payload interface{}) {
	select {
	case s.outbox <- models.WSMessage{Event: event, Payload: payload}:
	default:
		s.log.Warn().Str("event", event).Msg("outbox full, dropping frame")
	}
}
