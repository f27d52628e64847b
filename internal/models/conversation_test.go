package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, uuid.New()))
}

func TestConversationValidate(t *testing.T) {
	requester := Participant{UserID: uuid.New(), Role: RoleRequester, DisplayName: "Ana"}
	provider := Participant{UserID: uuid.New(), Role: RoleProvider, DisplayName: "Oficina do Bruno"}

	conv := Conversation{
		ID:        uuid.New(),
		Requester: requester,
		Provider:  provider,
		Status:    ConversationActive,
	}
	require.NoError(t, conv.Validate())

	same := conv
	same.Provider.UserID = same.Requester.UserID
	assert.Error(t, same.Validate())

	badRole := conv
	badRole.Requester.Role = RoleProvider
	assert.Error(t, badRole.Validate())

	badStatus := conv
	badStatus.Status = "deleted"
	assert.Error(t, badStatus.Validate())
}

func TestConversationParticipantLookups(t *testing.T) {
	requester := Participant{UserID: uuid.New(), Role: RoleRequester}
	provider := Participant{UserID: uuid.New(), Role: RoleProvider}
	conv := Conversation{Requester: requester, Provider: provider}

	assert.True(t, conv.HasParticipant(requester.UserID))
	assert.True(t, conv.HasParticipant(provider.UserID))
	assert.False(t, conv.HasParticipant(uuid.New()))

	peer, ok := conv.Peer(requester.UserID)
	require.True(t, ok)
	assert.Equal(t, provider.UserID, peer.UserID)

	me, ok := conv.Participant(provider.UserID)
	require.True(t, ok)
	assert.Equal(t, RoleProvider, me.Role)

	_, ok = conv.Peer(uuid.New())
	assert.False(t, ok)
}

func TestUnreadCountersClampAtZero(t *testing.T) {
	requester := Participant{UserID: uuid.New(), Role: RoleRequester}
	provider := Participant{UserID: uuid.New(), Role: RoleProvider}
	conv := Conversation{Requester: requester, Provider: provider}

	conv.SetUnread(requester.UserID, 3)
	assert.Equal(t, 3, conv.UnreadFor(requester.UserID))
	assert.Equal(t, 0, conv.UnreadFor(provider.UserID))

	conv.SetUnread(requester.UserID, -5)
	assert.Equal(t, 0, conv.UnreadFor(requester.UserID))

	// Unknown users read as zero and writes are ignored.
	stranger := uuid.New()
	conv.SetUnread(stranger, 9)
	assert.Equal(t, 0, conv.UnreadFor(stranger))
}
