package eventbus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSeenSetDeduplicates(t *testing.T) {
	seen := newSeenSet(10 * time.Minute)
	now := time.Now()
	id := uuid.New()

	assert.True(t, seen.markSeen(id, now))
	assert.False(t, seen.markSeen(id, now))
	assert.False(t, seen.markSeen(id, now.Add(time.Minute)))

	assert.True(t, seen.markSeen(uuid.New(), now))
}

func TestSeenSetPrunesExpiredEntries(t *testing.T) {
	seen := newSeenSet(time.Minute)
	now := time.Now()
	old := uuid.New()

	assert.True(t, seen.markSeen(old, now))

	// Well past the ttl the entry is pruned and the id counts as new
	// again; by then a reload has already covered the gap.
	later := now.Add(3 * time.Minute)
	assert.True(t, seen.markSeen(uuid.New(), later), "trigger a prune pass")
	assert.True(t, seen.markSeen(old, later))
}
