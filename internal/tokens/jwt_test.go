package tokens_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/camguard/internal/tokens"
)

func TestStreamToken_RoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-signing-key")

	token, err := mgr.GenerateStreamToken("caregiver-1", "cam-9", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := mgr.ValidateStreamToken(token)
	require.NoError(t, err)
	assert.Equal(t, tokens.ScopeStream, claims.Scope)
	assert.Equal(t, "cam-9", claims.CameraID)
	assert.Equal(t, "caregiver-1", claims.Subject)
}

func TestStreamToken_WrongKeyRejected(t *testing.T) {
	token, err := tokens.NewManager("key-a").GenerateStreamToken("s", "", time.Minute)
	require.NoError(t, err)

	_, err = tokens.NewManager("key-b").ValidateStreamToken(token)
	assert.Error(t, err)
}

func TestStreamToken_NonPositiveTTLDefaultsToHour(t *testing.T) {
	mgr := tokens.NewManager("test-signing-key")
	token, err := mgr.GenerateStreamToken("s", "", -time.Minute)
	require.NoError(t, err)

	claims, err := mgr.ValidateStreamToken(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestStreamToken_GarbageRejected(t *testing.T) {
	_, err := tokens.NewManager("test-signing-key").ValidateStreamToken("not.a.jwt")
	assert.Error(t, err)
}
