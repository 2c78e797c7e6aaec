// Package admin implements the management services behind the admin REST
// API: realm, client, user, role, group, identity-provider and mapper CRUD
// plus signing-key rotation.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
)

var (
	ErrRealmNameInvalid = errors.New("realm name must be URL-safe")
	ErrPasswordPolicy   = errors.New("password violates realm policy")
	ErrPasswordReused   = errors.New("password was used recently")
)

// Realm names end up in issuer URLs, so only URL-safe names are accepted.
var realmNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Default realm lifespans in seconds.
const (
	defaultAccessLifespan  = 300
	defaultRefreshLifespan = 3600
	defaultOfflineLifespan = 30 * 24 * 3600
)

// Service bundles the admin operations.
type Service struct {
	stores  *storage.Stores
	keys    *keys.Service
	hasher  crypto.PasswordHasher
	history *policy.HistoryService
	logger  *slog.Logger
}

func NewService(stores *storage.Stores, keySvc *keys.Service, hasher crypto.PasswordHasher, logger *slog.Logger) *Service {
	return &Service{
		stores:  stores,
		keys:    keySvc,
		hasher:  hasher,
		history: policy.NewHistoryService(stores.PasswordHistory, hasher),
		logger:  logger,
	}
}

// CreateRealm persists the realm with sane lifespan defaults and provisions
// its first signing key.
func (s *Service) CreateRealm(ctx context.Context, realm *storage.Realm) error {
	if !realmNameRe.MatchString(realm.Name) {
		return ErrRealmNameInvalid
	}
	if realm.ID == uuid.Nil {
		realm.ID = uuid.New()
	}
	if realm.AccessTokenLifespan <= 0 {
		realm.AccessTokenLifespan = defaultAccessLifespan
	}
	if realm.RefreshTokenLifespan <= 0 {
		realm.RefreshTokenLifespan = defaultRefreshLifespan
	}
	if realm.OfflineTokenLifespan <= 0 {
		realm.OfflineTokenLifespan = defaultOfflineLifespan
	}

	if err := s.stores.Realms.Create(ctx, realm); err != nil {
		return err
	}
	if _, err := s.keys.Rotate(ctx, realm.ID); err != nil {
		return fmt.Errorf("failed to provision signing key: %w", err)
	}
	s.logger.Info("realm created", "realm", realm.Name)
	return nil
}

func (s *Service) GetRealm(ctx context.Context, name string) (*storage.Realm, error) {
	return s.stores.Realms.GetByName(ctx, name)
}

// UpdateRealm applies configuration changes. The name is immutable once the
// realm exists because it is baked into every issued token's iss.
func (s *Service) UpdateRealm(ctx context.Context, realm *storage.Realm) error {
	current, err := s.stores.Realms.GetByID(ctx, realm.ID)
	if err != nil {
		return err
	}
	if current.Name != realm.Name {
		return ErrRealmNameInvalid
	}
	return s.stores.Realms.Update(ctx, realm)
}

// DeleteRealm cascades to every realm-owned aggregate.
func (s *Service) DeleteRealm(ctx context.Context, id uuid.UUID) error {
	return s.stores.Realms.Delete(ctx, id)
}

func (s *Service) ListRealms(ctx context.Context) ([]*storage.Realm, error) {
	return s.stores.Realms.List(ctx)
}

// RotateRealmKey provisions a fresh active signing key and demotes the
// previous one. Old keys keep verifying until retired.
func (s *Service) RotateRealmKey(ctx context.Context, realmID uuid.UUID) (*storage.SigningKey, error) {
	key, err := s.keys.Rotate(ctx, realmID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("signing key rotated", "realm_id", realmID, "kid", key.Kid)
	return key, nil
}
