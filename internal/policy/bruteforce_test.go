package policy

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

func bruteRealm() *storage.Realm {
	return &storage.Realm{
		ID:                    uuid.New(),
		BruteForceEnabled:     true,
		MaxLoginFailures:      3,
		LockoutDuration:       60,
		FailureResetTime:      300,
		PermanentLockoutAfter: 0,
	}
}

func TestGate_LocksAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)
	realm := bruteRealm()
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		require.NoError(t, gate.RecordFailure(ctx, realm, userID))
		status, err := gate.CheckLocked(ctx, realm, userID)
		require.NoError(t, err)
		assert.False(t, status.Locked, "attempt %d must not lock yet", i+1)
	}

	require.NoError(t, gate.RecordFailure(ctx, realm, userID))
	status, err := gate.CheckLocked(ctx, realm, userID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	require.NotNil(t, status.LockedUntil)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), *status.LockedUntil, 2*time.Second)
}

func TestGate_DisabledRealm(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)
	realm := bruteRealm()
	realm.BruteForceEnabled = false
	userID := uuid.New()

	for i := 0; i < 10; i++ {
		require.NoError(t, gate.RecordFailure(ctx, realm, userID))
	}
	status, err := gate.CheckLocked(ctx, realm, userID)
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestGate_ResetWindowRestartsCounter(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)
	realm := bruteRealm()
	userID := uuid.New()

	require.NoError(t, gate.RecordFailure(ctx, realm, userID))
	require.NoError(t, gate.RecordFailure(ctx, realm, userID))

	// Jump the clock past the reset window: the next failure counts as 1.
	gate.now = func() time.Time { return time.Now().Add(400 * time.Second) }
	require.NoError(t, gate.RecordFailure(ctx, realm, userID))

	f, err := stores.LoginFailures.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.FailureCount)
	assert.Equal(t, 3, f.TotalFailures, "cumulative total never resets")
}

func TestGate_ResetFailuresOnSuccess(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)
	realm := bruteRealm()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, gate.RecordFailure(ctx, realm, userID))
	}
	require.NoError(t, gate.ResetFailures(ctx, userID))

	status, err := gate.CheckLocked(ctx, realm, userID)
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestGate_PermanentLockout(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)
	realm := bruteRealm()
	realm.PermanentLockoutAfter = 5
	userID := uuid.New()

	for i := 0; i < 6; i++ {
		require.NoError(t, gate.RecordFailure(ctx, realm, userID))
	}

	status, err := gate.CheckLocked(ctx, realm, userID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.True(t, status.Permanent)

	// A later success does not lift a permanent lockout.
	require.NoError(t, gate.ResetFailures(ctx, userID))
	status, err = gate.CheckLocked(ctx, realm, userID)
	require.NoError(t, err)
	assert.True(t, status.Permanent)
}

func TestGate_UnknownUserNotLocked(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	gate := NewGate(stores.LoginFailures)

	status, err := gate.CheckLocked(ctx, bruteRealm(), uuid.New())
	require.NoError(t, err)
	assert.False(t, status.Locked)
}
