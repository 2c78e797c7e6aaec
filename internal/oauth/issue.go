package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/oidc"
	"github.com/veridianlabs/veridian/internal/storage"
)

// refreshSecretBytes is the entropy of opaque refresh tokens.
const refreshSecretBytes = 64

// TokenResponse is the token-endpoint JSON body. The MFA branch reuses the
// shape with only Error and MFAToken set, delivered with HTTP 200.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	Error    string `json:"error,omitempty"`
	MFAToken string `json:"mfa_token,omitempty"`
}

// issueInput parameterizes IssueTokens across the grants.
type issueInput struct {
	realm     *storage.Realm
	user      *storage.User
	client    *storage.Client
	sessionID uuid.UUID
	scope     string // raw requested scope; empty means omitted
	nonce     string
	authTime  *time.Time

	// skipIDToken suppresses the id_token even when openid is in scope.
	// client_credentials is a machine grant and never identifies a person.
	skipIDToken bool
}

// IssueTokens is the single token builder every subject grant converges on.
func (s *Service) IssueTokens(ctx context.Context, in issueInput) (*TokenResponse, error) {
	key, err := s.keys.ActiveKey(ctx, in.realm.ID)
	if err != nil {
		return nil, err
	}

	scopeOmitted := strings.TrimSpace(in.scope) == ""
	effectiveScopes := oidc.ParseAndValidate(in.scope)
	if len(effectiveScopes) == 0 {
		effectiveScopes = []string{"openid"}
	}
	validatedScope := oidc.ToString(effectiveScopes)

	allowed := oidc.ClaimsForScopes(effectiveScopes)
	userClaims := oidc.ResolveUserClaims(in.user, allowed)

	roles, err := s.resolveRoles(ctx, in.user)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"iss":   s.Issuer(in.realm),
		"sub":   in.user.ID.String(),
		"aud":   in.client.ClientID,
		"azp":   in.client.ClientID,
		"typ":   "Bearer",
		"scope": validatedScope,
		"sid":   in.sessionID.String(),
	}
	for k, v := range userClaims {
		payload[k] = v
	}

	// Role claims ride along when scope was omitted (backward-compat
	// default) or the roles scope granted them.
	if scopeOmitted || allowed["realm_access"] {
		payload["realm_access"] = oidc.RoleAccess{Roles: roles.realmRoles}
		payload["resource_access"] = roles.resourceAccess
	}

	// Protocol mappers may override or extend; a mapper lookup failure
	// degrades to standard claims only.
	mappers, err := s.stores.Mappers.ListByScopes(ctx, in.realm.ID, effectiveScopes)
	if err != nil {
		s.logger.Warn("protocol mapper lookup failed", "realm", in.realm.Name, "error", err)
	} else {
		oidc.ApplyMappers(mappers, s.mapperContext(in.user, roles), payload)
	}

	accessTTL := time.Duration(in.realm.AccessTokenLifespan) * time.Second
	accessToken, err := keys.SignJWT(payload, key.PrivateKeyPEM, key.Kid, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.mintRefreshToken(ctx, in.realm, in.sessionID, effectiveScopes)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    in.realm.AccessTokenLifespan,
		RefreshToken: refreshToken,
		Scope:        validatedScope,
	}

	if oidc.HasOpenID(effectiveScopes) && !in.skipIDToken {
		authTime := s.now()
		if in.authTime != nil {
			authTime = *in.authTime
		}
		idPayload := map[string]any{
			"iss":       s.Issuer(in.realm),
			"sub":       in.user.ID.String(),
			"aud":       in.client.ClientID,
			"azp":       in.client.ClientID,
			"typ":       "ID",
			"sid":       in.sessionID.String(),
			"at_hash":   keys.ComputeAtHash(accessToken),
			"auth_time": authTime.Unix(),
			"acr":       "1",
		}
		for k, v := range userClaims {
			idPayload[k] = v
		}
		if in.nonce != "" {
			idPayload["nonce"] = in.nonce
		}
		idToken, err := keys.SignJWT(idPayload, key.PrivateKeyPEM, key.Kid, accessTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to sign id token: %w", err)
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// mintRefreshToken creates an opaque refresh token bound to the session and
// persists only its hash. offline_access stretches the lifespan.
func (s *Service) mintRefreshToken(ctx context.Context, realm *storage.Realm, sessionID uuid.UUID, scopes []string) (string, error) {
	secret, err := crypto.GenerateOpaqueToken(refreshSecretBytes)
	if err != nil {
		return "", err
	}

	offline := oidc.HasScope(scopes, oidc.ScopeOfflineAccess)
	lifespan := realm.RefreshTokenLifespan
	if offline {
		lifespan = realm.OfflineTokenLifespan
	}

	if err := s.stores.RefreshTokens.Create(ctx, &storage.RefreshToken{
		ID:        uuid.New(),
		SessionID: sessionID,
		TokenHash: crypto.SHA256Hex(secret),
		Scope:     oidc.ToString(scopes),
		ExpiresAt: s.now().Add(time.Duration(lifespan) * time.Second),
		IsOffline: offline,
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return secret, nil
}

// IssueClientToken signs the minimal access token for client_credentials
// without a service account: no user, no session, no refresh token.
func (s *Service) IssueClientToken(ctx context.Context, realm *storage.Realm, client *storage.Client, scope string) (*TokenResponse, error) {
	key, err := s.keys.ActiveKey(ctx, realm.ID)
	if err != nil {
		return nil, err
	}

	effectiveScopes := oidc.ParseAndValidate(scope)
	if len(effectiveScopes) == 0 {
		effectiveScopes = []string{"openid"}
	}
	validatedScope := oidc.ToString(effectiveScopes)

	payload := map[string]any{
		"iss":   s.Issuer(realm),
		"sub":   client.ID.String(),
		"aud":   client.ClientID,
		"azp":   client.ClientID,
		"typ":   "Bearer",
		"scope": validatedScope,
	}

	accessTTL := time.Duration(realm.AccessTokenLifespan) * time.Second
	accessToken, err := keys.SignJWT(payload, key.PrivateKeyPEM, key.Kid, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   realm.AccessTokenLifespan,
		Scope:       validatedScope,
	}, nil
}
