package auth_test

import (
	"testing"
	"time"

	"github.com/lorrc/incident-sync/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := auth.NewTokenManager("test-secret-key-for-unit-tests", time.Hour)

	token, err := tm.GenerateToken("ranger")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ranger", claims.Username)
	assert.Equal(t, "ranger", claims.Subject)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm := auth.NewTokenManager("secret-one", time.Hour)
	other := auth.NewTokenManager("secret-two", time.Hour)

	token, err := tm.GenerateToken("ranger")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	tm := auth.NewTokenManager("test-secret-key-for-unit-tests", -time.Minute)

	token, err := tm.GenerateToken("ranger")
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}
