package oauth

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/oidc"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
)

const grantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// HandleTokenRequest dispatches the token endpoint by grant_type. Every
// grant authenticates the client first and subject grants converge on
// IssueTokens.
func (s *Service) HandleTokenRequest(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	grantType := form.Get("grant_type")
	if grantType == "" {
		return nil, invalidRequest("grant_type is required")
	}

	switch grantType {
	case "password":
		return s.passwordGrant(ctx, realm, form, clientIP, userAgent)
	case "client_credentials":
		return s.clientCredentialsGrant(ctx, realm, form, clientIP, userAgent)
	case "refresh_token":
		return s.refreshTokenGrant(ctx, realm, form, clientIP, userAgent)
	case "authorization_code":
		return s.authorizationCodeGrant(ctx, realm, form, clientIP, userAgent)
	case grantTypeDeviceCode:
		return s.deviceCodeGrant(ctx, realm, form, clientIP, userAgent)
	case "mfa_otp":
		return s.mfaOtpGrant(ctx, realm, form, clientIP, userAgent)
	default:
		return nil, unsupportedGrantType()
	}
}

func (s *Service) passwordGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), "password")
	if oerr != nil {
		return nil, oerr
	}

	username := form.Get("username")
	password := form.Get("password")
	if username == "" || password == "" {
		return nil, invalidRequest("username and password are required")
	}

	user, oerr := s.AuthenticatePassword(ctx, realm, client, username, password, clientIP)
	if oerr != nil {
		return nil, oerr
	}

	mfaEnabled, err := s.mfa.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, serverError("mfa lookup failed")
	}
	if mfaEnabled {
		token, err := s.mfa.CreateChallenge(ctx, user.ID, realm.ID, map[string]string{
			"client_id": client.ClientID,
			"scope":     form.Get("scope"),
		})
		if err != nil {
			return nil, serverError("failed to create mfa challenge")
		}
		return &TokenResponse{Error: "mfa_required", MFAToken: token}, nil
	}
	if realm.MFARequired {
		return nil, invalidGrant("MFA setup required")
	}

	session, err := s.OpenSession(ctx, realm, user.ID, clientIP, userAgent)
	if err != nil {
		return nil, serverError("failed to open session")
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventLogin,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		UserID:    user.ID.String(),
		SessionID: session.ID.String(),
		IPAddress: clientIP,
	})

	resp, err := s.IssueTokens(ctx, issueInput{
		realm:     realm,
		user:      user,
		client:    client,
		sessionID: session.ID,
		scope:     form.Get("scope"),
	})
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}

// AuthenticatePassword verifies a subject's password with the brute-force
// gate applied. Every failure mode collapses into the same neutral error so
// callers cannot enumerate users; the browser login endpoint shares it with
// the password grant.
func (s *Service) AuthenticatePassword(ctx context.Context, realm *storage.Realm, client *storage.Client, username, password, clientIP string) (*storage.User, *Error) {
	user, err := s.stores.Users.GetByUsername(ctx, realm.ID, username)
	if err != nil {
		// Neutral failure; no user enumeration.
		s.auditLoginError(ctx, realm, client, "", clientIP, "unknown user")
		return nil, invalidGrant("invalid user credentials")
	}
	if !user.Enabled || (user.PasswordHash == nil && user.FederationLink == nil) {
		s.auditLoginError(ctx, realm, client, user.ID.String(), clientIP, "account unusable")
		return nil, invalidGrant("invalid user credentials")
	}

	// Lockout check runs before password verification to avoid an oracle.
	lock, err := s.gate.CheckLocked(ctx, realm, user.ID)
	if err != nil {
		return nil, serverError("lockout check failed")
	}
	if lock.Locked {
		s.auditLoginError(ctx, realm, client, user.ID.String(), clientIP, "account locked")
		return nil, invalidGrant("invalid user credentials")
	}

	if user.PasswordHash == nil || s.hasher.Compare(*user.PasswordHash, password) != nil {
		if err := s.gate.RecordFailure(ctx, realm, user.ID); err != nil {
			s.logger.Error("failed to record login failure", "user_id", user.ID, "error", err)
		}
		s.auditLoginError(ctx, realm, client, user.ID.String(), clientIP, "wrong password")
		return nil, invalidGrant("invalid user credentials")
	}
	if err := s.gate.ResetFailures(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset login failures", "user_id", user.ID, "error", err)
	}

	if policy.IsExpired(user, realm) {
		return nil, invalidGrant("password expired")
	}
	return user, nil
}

func (s *Service) mfaOtpGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	// The mfa_otp grant continues a password login, so it is gated by the
	// client's password grant permission.
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), "password")
	if oerr != nil {
		return nil, oerr
	}

	mfaToken := form.Get("mfa_token")
	otp := form.Get("otp")
	if mfaToken == "" || otp == "" {
		return nil, invalidRequest("mfa_token and otp are required")
	}

	challenge, err := s.mfa.ValidateChallenge(ctx, mfaToken)
	if err != nil {
		return nil, invalidGrant("invalid or expired mfa token")
	}
	if challenge.RealmID != realm.ID {
		return nil, invalidGrant("invalid or expired mfa token")
	}

	ok, err := s.mfa.VerifyTOTP(ctx, challenge.UserID, otp)
	if err != nil {
		return nil, serverError("otp verification failed")
	}
	if !ok {
		ok, err = s.mfa.VerifyRecoveryCode(ctx, challenge.UserID, otp)
		if err != nil {
			return nil, serverError("otp verification failed")
		}
	}
	if !ok {
		return nil, invalidGrant("invalid otp")
	}
	if err := s.mfa.ConsumeChallenge(ctx, challenge); err != nil {
		s.logger.Error("failed to consume mfa challenge", "error", err)
	}

	user, err := s.stores.Users.GetByID(ctx, challenge.UserID)
	if err != nil || !user.Enabled {
		return nil, invalidGrant("invalid user credentials")
	}

	session, err := s.OpenSession(ctx, realm, user.ID, clientIP, userAgent)
	if err != nil {
		return nil, serverError("failed to open session")
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventLogin,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		UserID:    user.ID.String(),
		SessionID: session.ID.String(),
		IPAddress: clientIP,
		Details:   map[string]string{"mfa": "true"},
	})

	resp, err := s.IssueTokens(ctx, issueInput{
		realm:     realm,
		user:      user,
		client:    client,
		sessionID: session.ID,
		scope:     challenge.OAuthParams["scope"],
	})
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}

func (s *Service) clientCredentialsGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), "client_credentials")
	if oerr != nil {
		return nil, oerr
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventClientLogin,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		IPAddress: clientIP,
	})

	// With a service account the grant behaves like a subject login.
	if client.ServiceAccountUserID != nil {
		user, err := s.stores.Users.GetByID(ctx, *client.ServiceAccountUserID)
		if err != nil || !user.Enabled {
			return nil, invalidGrant("service account unavailable")
		}
		session, err := s.OpenSession(ctx, realm, user.ID, clientIP, userAgent)
		if err != nil {
			return nil, serverError("failed to open session")
		}
		resp, err := s.IssueTokens(ctx, issueInput{
			realm:       realm,
			user:        user,
			client:      client,
			sessionID:   session.ID,
			scope:       form.Get("scope"),
			skipIDToken: true,
		})
		if err != nil {
			return nil, serverError("token issuance failed")
		}
		return resp, nil
	}

	resp, err := s.IssueClientToken(ctx, realm, client, form.Get("scope"))
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}

func (s *Service) refreshTokenGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), "refresh_token")
	if oerr != nil {
		return nil, oerr
	}

	raw := form.Get("refresh_token")
	if raw == "" {
		return nil, invalidRequest("refresh_token is required")
	}

	token, err := s.stores.RefreshTokens.GetByHash(ctx, crypto.SHA256Hex(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidGrant("invalid refresh token")
		}
		return nil, serverError("refresh lookup failed")
	}

	// Reuse detection: presenting an already-revoked token poisons the
	// whole session.
	if token.Revoked {
		s.poisonSession(ctx, realm, token.SessionID, clientIP)
		return nil, invalidGrant("invalid refresh token")
	}
	if !token.ExpiresAt.After(s.now()) {
		return nil, invalidGrant("refresh token expired")
	}

	// CAS rotation: exactly one concurrent rotation wins; losers take the
	// reuse path.
	rotated, err := s.stores.RefreshTokens.Revoke(ctx, token.ID)
	if err != nil {
		return nil, serverError("rotation failed")
	}
	if !rotated {
		s.poisonSession(ctx, realm, token.SessionID, clientIP)
		return nil, invalidGrant("invalid refresh token")
	}

	session, err := s.stores.Sessions.GetByID(ctx, token.SessionID)
	if err != nil || !session.ExpiresAt.After(s.now()) {
		return nil, invalidGrant("session expired")
	}
	user, err := s.stores.Users.GetByID(ctx, session.UserID)
	if err != nil || !user.Enabled {
		return nil, invalidGrant("invalid user credentials")
	}

	// Requested scope is narrowed by the client's configuration; without a
	// request the presented token's scope carries over, so profile, email and
	// role claims survive rotation.
	scope := form.Get("scope")
	if scope != "" {
		scope = oidc.ToString(oidc.ClientEffectiveScopes(client, oidc.ParseAndValidate(scope)))
	} else {
		scope = token.Scope
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventRefresh,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		UserID:    user.ID.String(),
		SessionID: session.ID.String(),
		IPAddress: clientIP,
	})

	resp, err := s.IssueTokens(ctx, issueInput{
		realm:     realm,
		user:      user,
		client:    client,
		sessionID: session.ID,
		scope:     scope,
	})
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}

// poisonSession revokes every refresh token in the session after reuse of a
// revoked token was observed.
func (s *Service) poisonSession(ctx context.Context, realm *storage.Realm, sessionID uuid.UUID, clientIP string) {
	if err := s.stores.RefreshTokens.RevokeBySession(ctx, sessionID); err != nil {
		s.logger.Error("failed to poison session", "session_id", sessionID, "error", err)
		return
	}
	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventRefreshError,
		RealmName: realm.Name,
		SessionID: sessionID.String(),
		IPAddress: clientIP,
		Details:   map[string]string{"reason": "refresh token reuse detected"},
	})
}

func (s *Service) auditLoginError(ctx context.Context, realm *storage.Realm, client *storage.Client, userID, clientIP, reason string) {
	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventLoginError,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		UserID:    userID,
		IPAddress: clientIP,
		Details:   map[string]string{"reason": reason},
	})
}
