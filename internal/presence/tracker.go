package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

// Store is the shared snapshot backing (Redis in production). Optional;
// a nil store keeps presence process-local.
type Store interface {
	UpsertPresence(ctx context.Context, p *models.Presence) error
	GetPresence(ctx context.Context, userID uuid.UUID) (*models.Presence, error)
}

// Tracker keeps the last-known liveness snapshot per user. Heartbeats
// are last-write-wins upserts; "offline" past the staleness window is
// inferred by readers, never stored. State is a pure per-user upsert,
// so a single RWMutex over the map is all the coordination needed.
type Tracker struct {
	store      Store
	bus        chat.Publisher
	staleAfter time.Duration
	log        zerolog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	snapshots map[uuid.UUID]models.Presence
}

func NewTracker(store Store, bus chat.Publisher, staleAfter time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:      store,
		bus:        bus,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "presence").Logger(),
		now:        time.Now,
		snapshots:  make(map[uuid.UUID]models.Presence),
	}
}

// SetClock overrides the tracker clock. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Heartbeat upserts a user's snapshot. Always accepted: only the
// latest snapshot matters, so there is no "out of order" rejection,
// but last_seen itself never regresses.
func (t *Tracker) Heartbeat(ctx context.Context, userID uuid.UUID, status models.PresenceStatus, activeConversationID *uuid.UUID) error {
	if !models.ValidPresenceStatus(status) {
		return fmt.Errorf("invalid presence status %q", status)
	}

	t.mu.Lock()
	now := t.now()
	snapshot := models.Presence{
		UserID:               userID,
		Status:               status,
		LastSeen:             now,
		ActiveConversationID: activeConversationID,
	}
	if prev, ok := t.snapshots[userID]; ok && prev.LastSeen.After(now) {
		snapshot.LastSeen = prev.LastSeen
	}
	t.snapshots[userID] = snapshot
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpsertPresence(ctx, &snapshot); err != nil {
			t.log.Warn().Err(err).Str("user_id", userID.String()).Msg("presence write-through")
		}
	}
	if err := t.bus.PublishPresence(ctx, &snapshot); err != nil {
		t.log.Warn().Err(err).Str("user_id", userID.String()).Msg("publish presence")
	}

	return nil
}

// Disconnect records an explicit offline transition.
func (t *Tracker) Disconnect(ctx context.Context, userID uuid.UUID) error {
	return t.Heartbeat(ctx, userID, models.PresenceOffline, nil)
}

// Observe folds a presence event from the bus into the local cache,
// last write wins.
func (t *Tracker) Observe(p models.Presence) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.snapshots[p.UserID]; ok && p.LastSeen.Before(prev.LastSeen) {
		return
	}
	t.snapshots[p.UserID] = p
}

// Get returns the user's snapshot, falling back to the shared store
// and then to a synthetic offline snapshot for users never seen.
func (t *Tracker) Get(ctx context.Context, userID uuid.UUID) models.Presence {
	t.mu.RLock()
	snapshot, ok := t.snapshots[userID]
	t.mu.RUnlock()
	if ok {
		return snapshot
	}

	if t.store != nil {
		if p, err := t.store.GetPresence(ctx, userID); err == nil && p != nil {
			t.Observe(*p)
			return *p
		}
	}

	return models.Presence{UserID: userID, Status: models.PresenceOffline}
}

// IsOnline applies the staleness window: true iff the latest heartbeat
// is fresh and the stored status is not offline.
func (t *Tracker) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	t.mu.RLock()
	now := t.now()
	t.mu.RUnlock()
	return t.Get(ctx, userID).OnlineAt(now, t.staleAfter)
}

// Response shapes a snapshot for the HTTP facade.
func (t *Tracker) Response(ctx context.Context, userID uuid.UUID) models.PresenceResponse {
	p := t.Get(ctx, userID)
	t.mu.RLock()
	now := t.now()
	t.mu.RUnlock()
	return models.PresenceResponse{
		UserID:   p.UserID,
		Status:   p.Status,
		LastSeen: p.LastSeen,
		IsOnline: p.OnlineAt(now, t.staleAfter),
	}
}
