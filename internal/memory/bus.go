package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// Bus is an in-process stand-in for the external pub/sub channel plus
// its adapter: publishes dispatch synchronously to subscribed
// listeners, message events are deduplicated by id, and events
// published while the bus is "disconnected" are lost, mirroring the
// real channel's lack of backlog replay. Tests drive the connection
// state by hand.
type Bus struct {
	mu             sync.Mutex
	listeners      map[int]func(models.Event)
	stateListeners map[int]func(models.ConnectionState)
	nextID         int
	state          models.ConnectionState
	seen           map[uuid.UUID]bool
}

func NewBus() *Bus {
	return &Bus{
		listeners:      make(map[int]func(models.Event)),
		stateListeners: make(map[int]func(models.ConnectionState)),
		state:          models.StateConnected,
		seen:           make(map[uuid.UUID]bool),
	}
}

func (b *Bus) PublishMessage(ctx context.Context, msg *models.Message) error {
	b.mu.Lock()
	if b.state != models.StateConnected {
		b.mu.Unlock()
		return nil
	}
	if b.seen[msg.ID] {
		b.mu.Unlock()
		return nil
	}
	b.seen[msg.ID] = true
	fns := b.snapshotListeners()
	b.mu.Unlock()

	ev := models.Event{Type: models.EventMessageInserted, Message: cloneMessage(msg)}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Redeliver replays an already-published message event, bypassing the
// dedup set. Simulates at-least-once delivery in tests.
func (b *Bus) Redeliver(msg *models.Message) {
	b.mu.Lock()
	fns := b.snapshotListeners()
	b.mu.Unlock()

	ev := models.Event{Type: models.EventMessageInserted, Message: cloneMessage(msg)}
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Bus) PublishConversation(ctx context.Context, conv *models.Conversation) error {
	b.mu.Lock()
	if b.state != models.StateConnected {
		b.mu.Unlock()
		return nil
	}
	fns := b.snapshotListeners()
	b.mu.Unlock()

	ev := models.Event{Type: models.EventConversationChanged, Conversation: cloneConversation(conv)}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (b *Bus) PublishPresence(ctx context.Context, p *models.Presence) error {
	b.mu.Lock()
	if b.state != models.StateConnected {
		b.mu.Unlock()
		return nil
	}
	fns := b.snapshotListeners()
	b.mu.Unlock()

	snapshot := *p
	ev := models.Event{Type: models.EventPresenceChanged, Presence: &snapshot}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (b *Bus) Subscribe(fn func(models.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Bus) OnConnectionStateChange(fn func(models.ConnectionState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.stateListeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.stateListeners, id)
	}
}

func (b *Bus) State() models.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState drives the simulated connection. Re-entering connected after
// a gap emits a resync event, matching the adapter's
// reload-on-reconnect rule.
func (b *Bus) SetState(state models.ConnectionState) {
	b.mu.Lock()
	prev := b.state
	b.state = state
	stateFns := make([]func(models.ConnectionState), 0, len(b.stateListeners))
	for _, fn := range b.stateListeners {
		stateFns = append(stateFns, fn)
	}
	var eventFns []func(models.Event)
	if state == models.StateConnected && prev != models.StateConnected {
		eventFns = b.snapshotListeners()
	}
	b.mu.Unlock()

	for _, fn := range stateFns {
		fn(state)
	}
	for _, fn := range eventFns {
		fn(models.Event{Type: models.EventResync})
	}
}

func (b *Bus) snapshotListeners() []func(models.Event) {
	fns := make([]func(models.Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	return fns
}
