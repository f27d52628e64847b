package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCursorRoundTrip(t *testing.T) {
	cur := MessageCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		ID:        uuid.New(),
	}

	decoded, err := DecodeMessageCursor(cur.Encode())
	require.NoError(t, err)
	assert.True(t, cur.Equal(decoded))

	zero, err := DecodeMessageCursor("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", MessageCursor{}.Encode())
}

func TestMessageCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeMessageCursor("not base64 at all!!")
	assert.Error(t, err)

	_, err = DecodeMessageCursor("bm8gcGlwZSBoZXJl") // "no pipe here"
	assert.Error(t, err)
}

func TestMessageCursorOrdering(t *testing.T) {
	base := time.Now()
	earlier := MessageCursor{CreatedAt: base, ID: uuid.New()}
	later := MessageCursor{CreatedAt: base.Add(time.Millisecond), ID: uuid.New()}

	assert.True(t, earlier.Less(later))
	assert.False(t, later.Less(earlier))
	assert.False(t, earlier.Less(earlier))

	// Timestamp ties break on the id so the order stays total.
	a := MessageCursor{CreatedAt: base, ID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	b := MessageCursor{CreatedAt: base, ID: uuid.MustParse("00000000-0000-0000-0000-000000000002")}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestConversationCursorRoundTrip(t *testing.T) {
	cur := ConversationCursor{UpdatedAt: time.Now().UTC(), ID: uuid.New()}

	decoded, err := DecodeConversationCursor(cur.Encode())
	require.NoError(t, err)
	assert.True(t, cur.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, cur.ID, decoded.ID)
}
