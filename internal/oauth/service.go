// Package oauth implements the grant pipeline: client authentication, the
// six grant handlers, token issuance, refresh rotation with reuse detection,
// introspection, revocation, userinfo and logout.
package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/oidc"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
)

// Service owns the grant pipeline. Handlers are stateless; all shared state
// lives in the stores and in the blacklist.
type Service struct {
	baseURL     string
	stores      *storage.Stores
	keys        *keys.Service
	hasher      crypto.PasswordHasher
	mfa         *mfa.Service
	gate        *policy.Gate
	history     *policy.HistoryService
	blacklist   *Blacklist
	backchannel *BackchannelDispatcher
	audit       audit.Logger
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(
	baseURL string,
	stores *storage.Stores,
	keySvc *keys.Service,
	hasher crypto.PasswordHasher,
	mfaSvc *mfa.Service,
	gate *policy.Gate,
	blacklist *Blacklist,
	backchannel *BackchannelDispatcher,
	auditLogger audit.Logger,
	logger *slog.Logger,
) *Service {
	return &Service{
		baseURL:     baseURL,
		stores:      stores,
		keys:        keySvc,
		hasher:      hasher,
		mfa:         mfaSvc,
		gate:        gate,
		history:     policy.NewHistoryService(stores.PasswordHistory, hasher),
		blacklist:   blacklist,
		backchannel: backchannel,
		audit:       auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

// Issuer builds the iss value for a realm.
func (s *Service) Issuer(realm *storage.Realm) string {
	return s.baseURL + "/realms/" + realm.Name
}

// Blacklist exposes the jti blacklist for the job scheduler.
func (s *Service) Blacklist() *Blacklist {
	return s.blacklist
}

// ValidateClient authenticates the client for a grant. Confidential clients
// must present an Argon2id-verifiable secret; public clients are admitted
// without one and the stored hash field is never even read, so there is no
// secret oracle for them.
func (s *Service) ValidateClient(ctx context.Context, realm *storage.Realm, clientID, clientSecret, grantType string) (*storage.Client, *Error) {
	if clientID == "" {
		return nil, invalidRequest("client_id is required")
	}

	client, err := s.stores.Clients.GetByClientID(ctx, realm.ID, clientID)
	if err != nil {
		return nil, invalidClient("client authentication failed")
	}
	if !client.Enabled {
		return nil, invalidClient("client authentication failed")
	}
	if !containsString(client.GrantTypes, grantType) {
		return nil, unauthorizedClient("grant type not allowed for client")
	}

	if client.Type == storage.ClientConfidential {
		if clientSecret == "" || client.SecretHash == nil {
			return nil, invalidClient("client authentication failed")
		}
		if err := s.hasher.Compare(*client.SecretHash, clientSecret); err != nil {
			return nil, invalidClient("client authentication failed")
		}
	}
	return client, nil
}

// OpenSession creates an OAuth session with TTL = refreshTokenLifespan.
func (s *Service) OpenSession(ctx context.Context, realm *storage.Realm, userID uuid.UUID, ip, userAgent string) (*storage.Session, error) {
	session := &storage.Session{
		ID:        uuid.New(),
		RealmID:   realm.ID,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: s.now().Add(time.Duration(realm.RefreshTokenLifespan) * time.Second),
	}
	if err := s.stores.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListUserSessions returns the user's open OAuth sessions.
func (s *Service) ListUserSessions(ctx context.Context, userID uuid.UUID) ([]*storage.Session, error) {
	return s.stores.Sessions.ListByUser(ctx, userID)
}

// RevokeSession revokes every refresh token in the session, dispatches
// backchannel logout, and deletes the session row.
func (s *Service) RevokeSession(ctx context.Context, realm *storage.Realm, session *storage.Session) error {
	if err := s.stores.RefreshTokens.RevokeBySession(ctx, session.ID); err != nil {
		return err
	}
	s.backchannel.Dispatch(ctx, realm, session.UserID, session.ID)
	return s.stores.Sessions.Delete(ctx, session.ID)
}

// roleClaims is the partitioned role set for a user: realm-scoped role names
// plus client-scoped roles grouped by client id.
type roleClaims struct {
	realmRoles     []string
	resourceAccess map[string]oidc.RoleAccess
}

// resolveRoles unions the user's direct roles with roles inherited through
// group membership, walking the group parent chain iteratively with a
// visited set so cyclic data cannot loop the walker.
func (s *Service) resolveRoles(ctx context.Context, user *storage.User) (roleClaims, error) {
	out := roleClaims{resourceAccess: map[string]oidc.RoleAccess{}}

	roles, err := s.stores.Roles.ListByUser(ctx, user.ID)
	if err != nil {
		return out, err
	}

	groups, err := s.stores.Groups.ListByUser(ctx, user.ID)
	if err != nil {
		return out, err
	}
	visited := map[uuid.UUID]bool{}
	queue := groups
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if visited[g.ID] {
			continue
		}
		visited[g.ID] = true

		groupRoles, err := s.stores.Roles.ListByGroup(ctx, g.ID)
		if err != nil {
			return out, err
		}
		roles = append(roles, groupRoles...)

		if g.ParentID != nil && !visited[*g.ParentID] {
			parent, err := s.stores.Groups.GetByID(ctx, *g.ParentID)
			if err == nil {
				queue = append(queue, parent)
			}
		}
	}

	seen := map[uuid.UUID]bool{}
	clientNames := map[uuid.UUID]string{}
	for _, r := range roles {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		if r.ClientID == nil {
			out.realmRoles = append(out.realmRoles, r.Name)
			continue
		}
		name, ok := clientNames[*r.ClientID]
		if !ok {
			client, err := s.stores.Clients.GetByID(ctx, *r.ClientID)
			if err != nil {
				continue
			}
			name = client.ClientID
			clientNames[*r.ClientID] = name
		}
		access := out.resourceAccess[name]
		access.Roles = append(access.Roles, r.Name)
		out.resourceAccess[name] = access
	}
	return out, nil
}

func (s *Service) mapperContext(user *storage.User, roles roleClaims) oidc.MapperContext {
	return oidc.MapperContext{
		UserID:         user.ID.String(),
		Username:       user.Username,
		Email:          user.Email,
		EmailVerified:  user.EmailVerified,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		RealmRoles:     roles.realmRoles,
		ResourceAccess: roles.resourceAccess,
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
