package policy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// Gate tracks per-user login failures and computes lockout. It runs before
// password verification so a locked account never reveals whether the
// password would have matched.
type Gate struct {
	store storage.LoginFailureStore
	now   func() time.Time
}

func NewGate(store storage.LoginFailureStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// LockStatus is the outcome of CheckLocked.
type LockStatus struct {
	Locked      bool
	Permanent   bool
	LockedUntil *time.Time
}

// CheckLocked consults the failure state for the user.
func (g *Gate) CheckLocked(ctx context.Context, realm *storage.Realm, userID uuid.UUID) (LockStatus, error) {
	if !realm.BruteForceEnabled {
		return LockStatus{}, nil
	}

	f, err := g.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LockStatus{}, nil
		}
		return LockStatus{}, err
	}

	if f.PermanentLockout {
		return LockStatus{Locked: true, Permanent: true}, nil
	}
	if f.LockedUntil != nil && f.LockedUntil.After(g.now()) {
		return LockStatus{Locked: true, LockedUntil: f.LockedUntil}, nil
	}
	return LockStatus{}, nil
}

// RecordFailure updates the counters after a failed password attempt.
// Occasional overcounting under concurrency is acceptable and biases
// toward safety.
func (g *Gate) RecordFailure(ctx context.Context, realm *storage.Realm, userID uuid.UUID) error {
	if !realm.BruteForceEnabled {
		return nil
	}

	now := g.now()
	f, err := g.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		f = &storage.LoginFailure{UserID: userID, RealmID: realm.ID}
	}

	resetWindow := time.Duration(realm.FailureResetTime) * time.Second
	if resetWindow > 0 && !f.LastFailureAt.IsZero() && now.Sub(f.LastFailureAt) > resetWindow {
		f.FailureCount = 1
	} else {
		f.FailureCount++
	}
	f.TotalFailures++
	f.LastFailureAt = now

	if realm.MaxLoginFailures > 0 && f.FailureCount >= realm.MaxLoginFailures {
		until := now.Add(time.Duration(realm.LockoutDuration) * time.Second)
		f.LockedUntil = &until
	}
	if realm.PermanentLockoutAfter > 0 && f.TotalFailures > realm.PermanentLockoutAfter {
		f.PermanentLockout = true
	}

	return g.store.Upsert(ctx, f)
}

// ResetFailures clears the temporary counter after a successful login.
// The cumulative total survives; permanent lockout is monotonic.
func (g *Gate) ResetFailures(ctx context.Context, userID uuid.UUID) error {
	f, err := g.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if f.PermanentLockout {
		return nil
	}
	f.FailureCount = 0
	f.LockedUntil = nil
	return g.store.Upsert(ctx, f)
}
