package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// seenSet is the replay guard for message events: the channel is
// at-least-once, so the same insert can arrive more than once. Entries
// are pruned after ttl; anything older than that would have been
// caught by a reload anyway.
type seenSet struct {
	mu        sync.Mutex
	ids       map[uuid.UUID]time.Time
	ttl       time.Duration
	lastPrune time.Time
}

func newSeenSet(ttl time.Duration) *seenSet {
	return &seenSet{
		ids: make(map[uuid.UUID]time.Time),
		ttl: ttl,
	}
}

// markSeen records id and reports whether this is its first sighting.
func (s *seenSet) markSeen(id uuid.UUID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > s.ttl {
		s.prune(now)
	}

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = now
	return true
}

func (s *seenSet) prune(now time.Time) {
	cutoff := now.Add(-s.ttl)
	for id, seenAt := range s.ids {
		if seenAt.Before(cutoff) {
			delete(s.ids, id)
		}
	}
	s.lastPrune = now
}
