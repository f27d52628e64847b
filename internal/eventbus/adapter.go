package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

const seenTTL = 10 * time.Minute

// Adapter bridges the external Redis pub/sub channel into typed,
// deduplicated in-process events. The channel is at-least-once with no
// backlog replay, so the adapter's one load-bearing recovery rule is:
// whenever the connection recovers after any gap, emit a resync event
// that forces subscribers to reload from storage.
type Adapter struct {
	rdb  *redis.Client
	log  zerolog.Logger
	seen *seenSet

	mu             sync.Mutex
	listeners      map[int]func(models.Event)
	stateListeners map[int]func(models.ConnectionState)
	nextID         int
	state          models.ConnectionState
}

func NewAdapter(rdb *redis.Client, log zerolog.Logger) *Adapter {
	return &Adapter{
		rdb:            rdb,
		log:            log.With().Str("component", "eventbus").Logger(),
		seen:           newSeenSet(seenTTL),
		listeners:      make(map[int]func(models.Event)),
		stateListeners: make(map[int]func(models.ConnectionState)),
		state:          models.StateDisconnected,
	}
}

// Run drives the subscribe loop until ctx is cancelled. Connection
// losses move the state machine through
// disconnected -> reconnecting -> connected with exponential backoff.
func (a *Adapter) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever
	policy.MaxInterval = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pubsub := a.rdb.Subscribe(ctx, models.TopicMessages, models.TopicConversations, models.TopicPresence)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.setState(models.StateReconnecting)
			if !a.sleep(ctx, policy.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}

		policy.Reset()
		a.setState(models.StateConnected)

		if err := a.consume(ctx, pubsub); err != nil {
			_ = pubsub.Close()
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Warn().Err(err).Msg("subscription lost")
			a.setState(models.StateDisconnected)
			if !a.sleep(ctx, policy.NextBackOff()) {
				return ctx.Err()
			}
			a.setState(models.StateReconnecting)
		}
	}
}

func (a *Adapter) consume(ctx context.Context, pubsub *redis.PubSub) error {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		a.dispatchRaw(msg.Channel, []byte(msg.Payload))
	}
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatchRaw decodes one wire payload into a typed event. Malformed
// payloads are logged and skipped; duplicate message ids are dropped.
func (a *Adapter) dispatchRaw(topic string, payload []byte) {
	switch topic {
	case models.TopicMessages:
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("malformed event")
			return
		}
		if !a.seen.markSeen(msg.ID, time.Now()) {
			return
		}
		a.dispatch(models.Event{Type: models.EventMessageInserted, Message: &msg})

	case models.TopicConversations:
		var conv models.Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("malformed event")
			return
		}
		a.dispatch(models.Event{Type: models.EventConversationChanged, Conversation: &conv})

	case models.TopicPresence:
		var p models.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("malformed event")
			return
		}
		a.dispatch(models.Event{Type: models.EventPresenceChanged, Presence: &p})
	}
}

func (a *Adapter) dispatch(ev models.Event) {
	a.mu.Lock()
	fns := make([]func(models.Event), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (a *Adapter) setState(state models.ConnectionState) {
	a.mu.Lock()
	prev := a.state
	if prev == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	stateFns := make([]func(models.ConnectionState), 0, len(a.stateListeners))
	for _, fn := range a.stateListeners {
		stateFns = append(stateFns, fn)
	}
	a.mu.Unlock()

	a.log.Info().Str("from", string(prev)).Str("to", string(state)).Msg("connection state")

	for _, fn := range stateFns {
		fn(state)
	}

	// Reload-on-reconnect: recovering after any gap means events were
	// lost for good. Tell every listener to reload.
	if state == models.StateConnected && prev != models.StateConnected && prev != "" {
		a.dispatch(models.Event{Type: models.EventResync})
	}
}

// Subscribe registers an in-process listener for typed events.
func (a *Adapter) Subscribe(fn func(models.Event)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.listeners[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// OnConnectionStateChange registers a connectivity listener.
func (a *Adapter) OnConnectionStateChange(fn func(models.ConnectionState)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.stateListeners[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.stateListeners, id)
	}
}

func (a *Adapter) State() models.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
