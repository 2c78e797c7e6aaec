package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by every Get* when no row matches.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned on uniqueness violations (duplicate username,
// client id, token hash, ...).
var ErrConflict = errors.New("storage: conflict")

type RealmStore interface {
	Create(ctx context.Context, r *Realm) error
	GetByID(ctx context.Context, id uuid.UUID) (*Realm, error)
	GetByName(ctx context.Context, name string) (*Realm, error)
	Update(ctx context.Context, r *Realm) error
	// Delete cascades to all realm-owned aggregates.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Realm, error)
}

type KeyStore interface {
	Create(ctx context.Context, k *SigningKey) error
	// ActiveKey returns the most recently created active key for the realm,
	// or ErrNotFound when none exists.
	ActiveKey(ctx context.Context, realmID uuid.UUID) (*SigningKey, error)
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*SigningKey, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ClientStore interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetByClientID(ctx context.Context, realmID uuid.UUID, clientID string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*Client, error)
	// ListBackchannel returns clients with a configured backchannel logout URI.
	ListBackchannel(ctx context.Context, realmID uuid.UUID) ([]*Client, error)
}

type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, realmID uuid.UUID, username string) (*User, error)
	GetByEmail(ctx context.Context, realmID uuid.UUID, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*User, error)
}

type LoginFailureStore interface {
	// Get returns ErrNotFound when the user has no failure record.
	Get(ctx context.Context, userID uuid.UUID) (*LoginFailure, error)
	Upsert(ctx context.Context, f *LoginFailure) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetByName(ctx context.Context, realmID uuid.UUID, clientID *uuid.UUID, name string) (*Role, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*Role, error)

	AssignToUser(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveFromUser(ctx context.Context, userID, roleID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Role, error)

	AssignToGroup(ctx context.Context, groupID, roleID uuid.UUID) error
	RemoveFromGroup(ctx context.Context, groupID, roleID uuid.UUID) error
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*Role, error)
}

type GroupStore interface {
	Create(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, id uuid.UUID) (*Group, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*Group, error)

	AddUser(ctx context.Context, userID, groupID uuid.UUID) error
	RemoveUser(ctx context.Context, userID, groupID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Group, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// Revoke flips revoked=false to true; it reports false when the token was
	// already revoked or absent, which is the rotation CAS used for reuse
	// detection.
	Revoke(ctx context.Context, id uuid.UUID) (bool, error)
	RevokeBySession(ctx context.Context, sessionID uuid.UUID) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*RefreshToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type AuthCodeStore interface {
	Create(ctx context.Context, c *AuthorizationCode) error
	GetByCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// MarkUsed flips used=false to true; false result means a concurrent
	// consumer won.
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type DeviceCodeStore interface {
	Create(ctx context.Context, d *DeviceCode) error
	GetByDeviceCode(ctx context.Context, realmID uuid.UUID, deviceCode string) (*DeviceCode, error)
	GetByUserCode(ctx context.Context, realmID uuid.UUID, userCode string) (*DeviceCode, error)
	Update(ctx context.Context, d *DeviceCode) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type LoginSessionStore interface {
	Create(ctx context.Context, s *LoginSession) error
	GetByHash(ctx context.Context, hash string) (*LoginSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type PasswordHistoryStore interface {
	Insert(ctx context.Context, h *PasswordHistory) error
	// ListRecent returns up to n entries, newest first.
	ListRecent(ctx context.Context, userID uuid.UUID, n int) ([]*PasswordHistory, error)
	// TrimTo deletes all but the newest n entries for the user.
	TrimTo(ctx context.Context, userID uuid.UUID, n int) error
}

type PendingActionStore interface {
	Create(ctx context.Context, a *PendingAction) error
	GetByHash(ctx context.Context, hash string) (*PendingAction, error)
	// Update rewrites Data; TTL is left unchanged.
	Update(ctx context.Context, a *PendingAction) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type CredentialStore interface {
	Create(ctx context.Context, c *UserCredential) error
	GetByUserAndType(ctx context.Context, userID uuid.UUID, credType string) (*UserCredential, error)
	Update(ctx context.Context, c *UserCredential) error
	DeleteUnverified(ctx context.Context, userID uuid.UUID, credType string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RecoveryCodeStore interface {
	// ReplaceForUser atomically swaps the user's recovery codes.
	ReplaceForUser(ctx context.Context, userID uuid.UUID, codeHashes []string) error
	ListUnused(ctx context.Context, userID uuid.UUID) ([]*RecoveryCode, error)
	// MarkUsed flips used=false to true; false means already consumed.
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
}

type FederatedIdentityStore interface {
	Create(ctx context.Context, f *FederatedIdentity) error
	GetByExternalID(ctx context.Context, providerID uuid.UUID, externalUserID string) (*FederatedIdentity, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*FederatedIdentity, error)
}

type IdentityProviderStore interface {
	Create(ctx context.Context, p *IdentityProvider) error
	GetByAlias(ctx context.Context, realmID uuid.UUID, alias string) (*IdentityProvider, error)
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*IdentityProvider, error)
	Update(ctx context.Context, p *IdentityProvider) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MapperStore interface {
	Create(ctx context.Context, m *ProtocolMapper) error
	// ListByScopes returns mappers bound to any of the scopes, ordered by name
	// so execution order is deterministic when mappers touch the same claim.
	ListByScopes(ctx context.Context, realmID uuid.UUID, scopes []string) ([]*ProtocolMapper, error)
	ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*ProtocolMapper, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Stores bundles every repository for injection into services.
type Stores struct {
	Realms            RealmStore
	Keys              KeyStore
	Clients           ClientStore
	Users             UserStore
	LoginFailures     LoginFailureStore
	Roles             RoleStore
	Groups            GroupStore
	Sessions          SessionStore
	RefreshTokens     RefreshTokenStore
	AuthCodes         AuthCodeStore
	DeviceCodes       DeviceCodeStore
	LoginSessions     LoginSessionStore
	PasswordHistory   PasswordHistoryStore
	PendingActions    PendingActionStore
	Credentials       CredentialStore
	RecoveryCodes     RecoveryCodeStore
	FederatedIDs      FederatedIdentityStore
	IdentityProviders IdentityProviderStore
	Mappers           MapperStore
}
