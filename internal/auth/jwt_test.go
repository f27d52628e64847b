package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")
	userID := uuid.New()

	token, err := svc.GenerateToken(userID, models.RoleProvider, "Oficina do Bruno", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, models.RoleProvider, claims.Role)
	assert.Equal(t, "Oficina do Bruno", claims.DisplayName)

	me := ParticipantFromClaims(claims)
	assert.Equal(t, userID, me.UserID)
	assert.Equal(t, models.RoleProvider, me.Role)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateToken(uuid.New(), models.RoleRequester, "Ana", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTService("secret-b").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret")
	token, err := svc.GenerateToken(uuid.New(), models.RoleRequester, "Ana", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsMissingUserID(t *testing.T) {
	svc := NewJWTService("test-secret")
	token, err := svc.GenerateToken(uuid.Nil, models.RoleRequester, "Ana", time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret")
	_, err := svc.ValidateToken("not.a.token")
	assert.Error(t, err)
}
