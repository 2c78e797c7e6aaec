package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallenge_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	userID := uuid.New()
	realmID := uuid.New()
	params := map[string]string{"client_id": "web", "scope": "openid"}

	token, err := svc.CreateChallenge(ctx, userID, realmID, params)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	ch, err := svc.ValidateChallenge(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, ch.UserID)
	assert.Equal(t, realmID, ch.RealmID)
	assert.Equal(t, params, ch.OAuthParams)
	assert.Equal(t, 1, ch.Attempts)
}

func TestChallenge_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ValidateChallenge(context.Background(), "not-a-real-token")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallenge_AttemptLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	token, err := svc.CreateChallenge(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		ch, err := svc.ValidateChallenge(ctx, token)
		require.NoError(t, err, "attempt %d is within the limit", i)
		assert.Equal(t, i, ch.Attempts)
	}

	_, err = svc.ValidateChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrChallengeLocked)
	// Locked stays locked.
	_, err = svc.ValidateChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrChallengeLocked)
}

func TestChallenge_ConsumedOnSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	token, err := svc.CreateChallenge(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	ch, err := svc.ValidateChallenge(ctx, token)
	require.NoError(t, err)
	require.NoError(t, svc.ConsumeChallenge(ctx, ch))

	_, err = svc.ValidateChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallenge_Expiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	token, err := svc.CreateChallenge(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = svc.ValidateChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
