package keys

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
)

func TestService_ActiveKey_None(t *testing.T) {
	stores := memory.NewStores()
	svc := NewService(stores.Keys)

	_, err := svc.ActiveKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoActiveSigningKey)
}

func TestService_Rotate(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	svc := NewService(stores.Keys)
	realmID := uuid.New()

	first, err := svc.Rotate(ctx, realmID)
	require.NoError(t, err)
	assert.True(t, first.Active)

	active, err := svc.ActiveKey(ctx, realmID)
	require.NoError(t, err)
	assert.Equal(t, first.Kid, active.Kid)

	second, err := svc.Rotate(ctx, realmID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Kid, second.Kid)

	// Rotation invalidates the cache; the new key is served immediately.
	active, err = svc.ActiveKey(ctx, realmID)
	require.NoError(t, err)
	assert.Equal(t, second.Kid, active.Kid)

	// The demoted key remains listed for verification.
	all, err := stores.Keys.ListByRealm(ctx, realmID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestService_ActiveKey_NewestWins(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	realmID := uuid.New()

	old := &storage.SigningKey{RealmID: realmID, Kid: "old", Algorithm: "RS256", Active: true, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, stores.Keys.Create(ctx, old))
	newer := &storage.SigningKey{RealmID: realmID, Kid: "new", Algorithm: "RS256", Active: true, CreatedAt: time.Now()}
	require.NoError(t, stores.Keys.Create(ctx, newer))

	svc := NewService(stores.Keys)
	active, err := svc.ActiveKey(ctx, realmID)
	require.NoError(t, err)
	assert.Equal(t, "new", active.Kid)
}

func TestService_VerifyForRealm_SurvivesRotation(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	svc := NewService(stores.Keys)
	realmID := uuid.New()

	first, err := svc.Rotate(ctx, realmID)
	require.NoError(t, err)

	token, err := SignJWT(map[string]any{"sub": "alice"}, first.PrivateKeyPEM, first.Kid, time.Minute)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, realmID)
	require.NoError(t, err)

	payload, err := svc.VerifyForRealm(ctx, realmID, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload["sub"])

	_, err = svc.VerifyForRealm(ctx, realmID, "not.a.token")
	assert.Error(t, err)
}

func TestService_JWKS(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	svc := NewService(stores.Keys)
	realmID := uuid.New()

	_, err := svc.Rotate(ctx, realmID)
	require.NoError(t, err)
	_, err = svc.Rotate(ctx, realmID)
	require.NoError(t, err)

	set, err := svc.JWKS(ctx, realmID)
	require.NoError(t, err)
	assert.Len(t, set.Keys, 2, "JWKS serves active and recent inactive keys")
	for _, k := range set.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "RS256", k.Alg)
	}
}
