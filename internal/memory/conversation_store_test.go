package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eubbbruno/instauto-chat/internal/chat"
	"github.com/eubbbruno/instauto-chat/internal/models"
)

func participants() (models.Participant, models.Participant) {
	requester := models.Participant{UserID: uuid.New(), Role: models.RoleRequester, DisplayName: "Ana"}
	provider := models.Participant{UserID: uuid.New(), Role: models.RoleProvider, DisplayName: "Oficina do Bruno"}
	return requester, provider
}

func TestFindOrCreateReturnsExistingActive(t *testing.T) {
	store := NewConversationStore()
	requester, provider := participants()
	ctx := context.Background()

	first, created, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateConcurrentCallersGetOneConversation(t *testing.T) {
	store := NewConversationStore()
	requester, provider := participants()

	const callers = 32
	ids := make([]uuid.UUID, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := store.FindOrCreate(context.Background(), requester, provider, nil)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller must land on the same conversation")
	}
}

func TestArchiveFreesThePairForANewConversation(t *testing.T) {
	store := NewConversationStore()
	requester, provider := participants()
	ctx := context.Background()

	first, _, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)

	require.NoError(t, store.Archive(ctx, first.ID, requester.UserID))
	// Archiving twice is a no-op.
	require.NoError(t, store.Archive(ctx, first.ID, requester.UserID))

	second, created, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	archived, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationArchived, archived.Status)
}

func TestGetUnknownConversation(t *testing.T) {
	store := NewConversationStore()
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestApplyMessageAdvancesPointerAndPeerUnread(t *testing.T) {
	store := NewConversationStore()
	requester, provider := participants()
	ctx := context.Background()

	conv, _, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)

	now := time.Now()
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       requester.UserID,
		Content:        "bom dia, ainda tem vaga hoje?",
		CreatedAt:      now,
	}

	updated, err := store.ApplyMessage(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessage)
	assert.Equal(t, msg.ID, updated.LastMessage.ID)
	assert.Equal(t, 1, updated.UnreadFor(provider.UserID))
	assert.Equal(t, 0, updated.UnreadFor(requester.UserID))

	// A late-arriving older message must not regress the pointer.
	stale := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       provider.UserID,
		Content:        "older",
		CreatedAt:      now.Add(-time.Minute),
	}
	updated, err = store.ApplyMessage(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, updated.LastMessage.ID)
	assert.Equal(t, 1, updated.UnreadFor(requester.UserID), "counter still bumps for the stale row")
}

func TestResetUnreadIsIdempotent(t *testing.T) {
	store := NewConversationStore()
	requester, provider := participants()
	ctx := context.Background()

	conv, _, err := store.FindOrCreate(ctx, requester, provider, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.ApplyMessage(ctx, &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       requester.UserID,
			Content:        "ping",
			CreatedAt:      time.Now(),
		})
		require.NoError(t, err)
	}

	updated, err := store.ResetUnread(ctx, conv.ID, provider.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UnreadFor(provider.UserID))

	again, err := store.ResetUnread(ctx, conv.ID, provider.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.UnreadFor(provider.UserID))
}

func TestListPagesNewestActivityFirst(t *testing.T) {
	store := NewConversationStore()
	base := time.Now()
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	me := models.Participant{UserID: uuid.New(), Role: models.RoleRequester}
	ctx := context.Background()

	var convIDs []uuid.UUID
	for i := 0; i < 5; i++ {
		provider := models.Participant{UserID: uuid.New(), Role: models.RoleProvider}
		conv, _, err := store.FindOrCreate(ctx, me, provider, nil)
		require.NoError(t, err)
		convIDs = append(convIDs, conv.ID)
	}

	page1, cursor, err := store.List(ctx, me.UserID, models.ConversationCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.False(t, cursor.IsZero())
	// Most recently created first.
	assert.Equal(t, convIDs[4], page1[0].ID)
	assert.Equal(t, convIDs[3], page1[1].ID)

	page2, cursor, err := store.List(ctx, me.UserID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, convIDs[2], page2[0].ID)
	assert.Equal(t, convIDs[1], page2[1].ID)

	page3, _, err := store.List(ctx, me.UserID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, convIDs[0], page3[0].ID)
}
