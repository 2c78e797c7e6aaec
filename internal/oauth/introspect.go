package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/oidc"
	"github.com/veridianlabs/veridian/internal/storage"
)

// introspectionClaims is the subset of token claims exposed by the
// introspection endpoint.
var introspectionClaims = []string{
	"sub", "iss", "aud", "exp", "iat", "scope",
	"preferred_username", "email", "realm_access", "resource_access",
}

// Introspect implements RFC 7662. Any verification failure collapses into
// {active:false}; the endpoint never explains why.
func (s *Service) Introspect(ctx context.Context, realm *storage.Realm, token string) map[string]any {
	inactive := map[string]any{"active": false}

	payload, ok := s.verifyAccessToken(ctx, realm, token)
	if !ok {
		return inactive
	}

	// A token minted against a closed session is dead even if the JWT is
	// still within its lifetime.
	if sid, ok := payload["sid"].(string); ok {
		sessionID, err := uuid.Parse(sid)
		if err != nil {
			return inactive
		}
		if _, err := s.stores.Sessions.GetByID(ctx, sessionID); err != nil {
			return inactive
		}
	}

	out := map[string]any{"active": true}
	for _, claim := range introspectionClaims {
		if v, ok := payload[claim]; ok {
			out[claim] = v
		}
	}

	s.audit.Log(ctx, audit.Event{Type: audit.EventIntrospect, RealmName: realm.Name})
	return out
}

// Revoke implements RFC 7009. Refresh tokens are revoked by hash; access
// tokens land on the jti blacklist until their natural expiry. Unknown
// tokens succeed silently per the RFC.
func (s *Service) Revoke(ctx context.Context, realm *storage.Realm, token, hint string) error {
	if hint == "" || hint == "refresh_token" {
		if rt, err := s.stores.RefreshTokens.GetByHash(ctx, crypto.SHA256Hex(token)); err == nil {
			if _, err := s.stores.RefreshTokens.Revoke(ctx, rt.ID); err != nil {
				return err
			}
			s.audit.Log(ctx, audit.Event{
				Type:      audit.EventRevoke,
				RealmName: realm.Name,
				SessionID: rt.SessionID.String(),
			})
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	if hint == "" || hint == "access_token" {
		if payload, ok := s.verifyAccessTokenSignature(ctx, realm, token); ok {
			jti, _ := payload["jti"].(string)
			if exp, ok := numericClaim(payload["exp"]); ok && jti != "" {
				s.blacklist.Add(jti, time.Unix(exp, 0))
				s.audit.Log(ctx, audit.Event{Type: audit.EventRevoke, RealmName: realm.Name})
			}
		}
	}
	return nil
}

// Userinfo returns the standard claims the access token's scope allows.
func (s *Service) Userinfo(ctx context.Context, realm *storage.Realm, accessToken string) (map[string]any, *Error) {
	payload, ok := s.verifyAccessToken(ctx, realm, accessToken)
	if !ok {
		return nil, invalidToken("token verification failed")
	}

	sub, _ := payload["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, invalidToken("token verification failed")
	}
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, invalidToken("token verification failed")
	}

	scope, _ := payload["scope"].(string)
	scopes := oidc.ParseAndValidate(scope)
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}
	return oidc.ResolveUserClaims(user, oidc.ClaimsForScopes(scopes)), nil
}

// AuthenticateBearer verifies an access token and resolves its subject. The
// account endpoints use it as their auth gate.
func (s *Service) AuthenticateBearer(ctx context.Context, realm *storage.Realm, accessToken string) (*storage.User, *Error) {
	payload, ok := s.verifyAccessToken(ctx, realm, accessToken)
	if !ok {
		return nil, invalidToken("token verification failed")
	}

	sub, _ := payload["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, invalidToken("token verification failed")
	}
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil || !user.Enabled || user.RealmID != realm.ID {
		return nil, invalidToken("token verification failed")
	}
	return user, nil
}

// Logout revokes the session behind the refresh token, dispatches
// backchannel logout, and removes the session.
func (s *Service) Logout(ctx context.Context, realm *storage.Realm, refreshToken string) *Error {
	rt, err := s.stores.RefreshTokens.GetByHash(ctx, crypto.SHA256Hex(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return invalidGrant("invalid refresh token")
		}
		return serverError("logout failed")
	}

	session, err := s.stores.Sessions.GetByID(ctx, rt.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return invalidGrant("invalid refresh token")
		}
		return serverError("logout failed")
	}

	if err := s.RevokeSession(ctx, realm, session); err != nil {
		return serverError("logout failed")
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventLogout,
		RealmName: realm.Name,
		UserID:    session.UserID.String(),
		SessionID: session.ID.String(),
	})
	return nil
}

// verifyAccessToken validates signature and lifetime against the realm's
// active key and rejects blacklisted jtis.
func (s *Service) verifyAccessToken(ctx context.Context, realm *storage.Realm, token string) (map[string]any, bool) {
	payload, ok := s.verifyAccessTokenSignature(ctx, realm, token)
	if !ok {
		return nil, false
	}
	if jti, ok := payload["jti"].(string); ok && s.blacklist.IsBlacklisted(jti) {
		return nil, false
	}
	return payload, true
}

func (s *Service) verifyAccessTokenSignature(ctx context.Context, realm *storage.Realm, token string) (map[string]any, bool) {
	payload, err := s.keys.VerifyForRealm(ctx, realm.ID, token)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// numericClaim normalizes the float64 that encoding/json produces for
// numbers and the int64 some signers keep.
func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
