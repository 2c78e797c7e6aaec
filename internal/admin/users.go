package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
)

// CreateUser persists the user; when a password is supplied it runs through
// the realm policy and lands in the history window.
func (s *Service) CreateUser(ctx context.Context, realm *storage.Realm, user *storage.User, password string) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.RealmID = realm.ID

	if password != "" {
		if err := s.setPasswordFields(ctx, realm, user, password); err != nil {
			return err
		}
	}
	if err := s.stores.Users.Create(ctx, user); err != nil {
		return err
	}
	if password != "" && user.PasswordHash != nil {
		if err := s.history.RecordHistory(ctx, user.ID, realm.ID, *user.PasswordHash, realm.PasswordHistoryCount); err != nil {
			s.logger.Warn("failed to record password history", "user_id", user.ID, "error", err)
		}
	}
	s.logger.Info("user created", "username", user.Username, "realm", realm.Name)
	return nil
}

// SetPassword validates the realm policy and the history window, then
// replaces the user's password.
func (s *Service) SetPassword(ctx context.Context, realm *storage.Realm, user *storage.User, password string) error {
	reused, err := s.history.CheckHistory(ctx, user.ID, realm.ID, password, realm.PasswordHistoryCount)
	if err != nil {
		return err
	}
	if reused {
		return ErrPasswordReused
	}

	if err := s.setPasswordFields(ctx, realm, user, password); err != nil {
		return err
	}
	if err := s.stores.Users.Update(ctx, user); err != nil {
		return err
	}
	return s.history.RecordHistory(ctx, user.ID, realm.ID, *user.PasswordHash, realm.PasswordHistoryCount)
}

func (s *Service) setPasswordFields(ctx context.Context, realm *storage.Realm, user *storage.User, password string) error {
	if res := policy.Validate(realm, password); !res.Valid {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, res.Errors)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now()
	user.PasswordHash = &hash
	user.PasswordChangedAt = &now
	return nil
}

func (s *Service) GetUser(ctx context.Context, realmID uuid.UUID, username string) (*storage.User, error) {
	return s.stores.Users.GetByUsername(ctx, realmID, username)
}

func (s *Service) UpdateUser(ctx context.Context, user *storage.User) error {
	return s.stores.Users.Update(ctx, user)
}

// DeleteUser removes the user and everything hanging off it.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.stores.Users.Delete(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, realmID uuid.UUID) ([]*storage.User, error) {
	return s.stores.Users.ListByRealm(ctx, realmID)
}

// UnlockUser clears the brute-force failure record, including a permanent
// lockout; this is the only way out of one.
func (s *Service) UnlockUser(ctx context.Context, userID uuid.UUID) error {
	return s.stores.LoginFailures.Delete(ctx, userID)
}
