// Package storage defines the domain model and the repository contracts for
// every aggregate. Implementations live in storage/postgres (pgx) and
// storage/memory (tests and dev mode). Services depend only on the
// interfaces so the grant pipeline can be unit-tested with fakes.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// ClientType distinguishes confidential clients (authenticate with a secret)
// from public ones (PKCE-bound, no secret check).
type ClientType string

const (
	ClientConfidential ClientType = "CONFIDENTIAL"
	ClientPublic       ClientType = "PUBLIC"
)

// Realm is the tenant boundary. Its name is part of every issuer URL and is
// immutable once tokens have been signed for it.
type Realm struct {
	ID                   uuid.UUID
	Name                 string
	DisplayName          string
	Enabled              bool
	AccessTokenLifespan  int // seconds
	RefreshTokenLifespan int // seconds
	OfflineTokenLifespan int // seconds

	// Password policy knobs. Zero values disable a rule.
	PasswordMinLength    int
	RequireUppercase     bool
	RequireLowercase     bool
	RequireDigits        bool
	RequireSpecial       bool
	PasswordHistoryCount int
	PasswordMaxAgeDays   int

	// Brute-force knobs.
	BruteForceEnabled     bool
	MaxLoginFailures      int
	LockoutDuration       int // seconds
	FailureResetTime      int // seconds
	PermanentLockoutAfter int // cumulative failures; 0 disables

	MFARequired bool
	Theme       []byte // opaque JSON consumed by the login UI collaborator

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SigningKey is a realm-scoped RSA keypair. Exactly one active key signs at
// any moment; inactive keys remain available for verification until retired.
type SigningKey struct {
	ID            uuid.UUID
	RealmID       uuid.UUID
	Kid           string
	Algorithm     string // always RS256
	PublicKeyPEM  string // SPKI
	PrivateKeyPEM string // PKCS8
	Active        bool
	CreatedAt     time.Time
}

// Client is an application that obtains tokens.
type Client struct {
	ID                               uuid.UUID
	RealmID                          uuid.UUID
	ClientID                         string // unique per realm
	Type                             ClientType
	SecretHash                       *string // argon2id; nil for public clients
	Enabled                          bool
	GrantTypes                       []string
	RedirectURIs                     []string
	WebOrigins                       []string
	DefaultScopes                    []string
	OptionalScopes                   []string
	ServiceAccountUserID             *uuid.UUID
	BackchannelLogoutURI             *string
	BackchannelLogoutSessionRequired bool
	CreatedAt                        time.Time
}

// User is a realm-scoped subject.
type User struct {
	ID                uuid.UUID
	RealmID           uuid.UUID
	Username          string
	Email             *string
	EmailVerified     bool
	FirstName         *string
	LastName          *string
	Enabled           bool
	PasswordHash      *string // nil for federated or unset passwords
	PasswordChangedAt *time.Time
	FederationLink    *string // external provider tag; nil for local users
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LoginFailure tracks the brute-force counters for one user.
type LoginFailure struct {
	UserID           uuid.UUID
	RealmID          uuid.UUID
	FailureCount     int
	TotalFailures    int // cumulative since genesis, never reset
	LastFailureAt    time.Time
	LockedUntil      *time.Time
	PermanentLockout bool
}

// Role is realm-scoped when ClientID is nil, client-scoped otherwise.
type Role struct {
	ID          uuid.UUID
	RealmID     uuid.UUID
	ClientID    *uuid.UUID
	Name        string
	Description string
}

// Group forms a tree via ParentID. Cycles are forbidden at write time but
// the role walker still guards against them.
type Group struct {
	ID       uuid.UUID
	RealmID  uuid.UUID
	ParentID *uuid.UUID
	Name     string
}

// Session is an OAuth session opened on successful subject authentication.
// It owns its refresh tokens.
type Session struct {
	ID        uuid.UUID
	RealmID   uuid.UUID
	UserID    uuid.UUID
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RefreshToken stores only the SHA-256 of the opaque secret.
// Revocation is monotonic; reuse of a revoked token poisons the session.
type RefreshToken struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TokenHash string
	// Scope is the validated scope of the issuing grant, restored on
	// rotation when the refresh request omits the scope parameter.
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
	IsOffline bool
	CreatedAt time.Time
}

// AuthorizationCode is single-use and bound to exact client and redirect URI.
type AuthorizationCode struct {
	ID                  uuid.UUID
	RealmID             uuid.UUID
	Code                string
	ClientID            uuid.UUID
	UserID              uuid.UUID
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Used                bool
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// DeviceCode backs the RFC 8628 device flow.
type DeviceCode struct {
	ID           uuid.UUID
	RealmID      uuid.UUID
	ClientID     uuid.UUID
	DeviceCode   string
	UserCode     string
	Scope        string
	Interval     int // seconds between polls
	ExpiresAt    time.Time
	Approved     bool
	Denied       bool
	UserID       *uuid.UUID
	LastPolledAt *time.Time
	CreatedAt    time.Time
}

// LoginSession is the browser SSO record, orthogonal to OAuth sessions.
// The cookie value is stored as a SHA-256 hash.
type LoginSession struct {
	ID        uuid.UUID
	RealmID   uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordHistory keeps the last N password hashes per user.
type PasswordHistory struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	RealmID      uuid.UUID
	PasswordHash string
	CreatedAt    time.Time
}

// PendingAction is a one-shot token record (MFA challenges and similar).
// Only the SHA-256 of the token is stored; Data carries action-specific JSON.
type PendingAction struct {
	ID        uuid.UUID
	TokenHash string
	Type      string
	Data      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserCredential holds a TOTP enrollment; unique per (user, type).
type UserCredential struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string // "totp"
	SecretKey string // base32
	Algorithm string // "SHA1"
	Digits    int
	Period    int
	Verified  bool
	CreatedAt time.Time
}

// RecoveryCode is a hashed single-use MFA recovery code.
type RecoveryCode struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	CodeHash string
	Used     bool
}

// FederatedIdentity links a local user to an external IdP subject.
// Unique per (provider, external user).
type FederatedIdentity struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	IdentityProviderID uuid.UUID
	ExternalUserID     string
	CreatedAt          time.Time
}

// IdentityProvider is an external OIDC provider the broker can federate.
type IdentityProvider struct {
	ID               uuid.UUID
	RealmID          uuid.UUID
	Alias            string
	Enabled          bool
	ClientID         string
	ClientSecret     string
	AuthorizationURL string
	TokenURL         string
	UserinfoURL      string
	DefaultScopes    string // space-joined, sent to the external IdP
	TrustEmail       bool
	LinkOnly         bool
	SyncUserProfile  bool
}

// ProtocolMapper is a configured claim transform bound to a scope.
type ProtocolMapper struct {
	ID         uuid.UUID
	RealmID    uuid.UUID
	Scope      string
	Name       string
	MapperType string
	Config     map[string]string
}
