package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

// authCodeTTL bounds how long an authorization code stays exchangeable.
const authCodeTTL = time.Minute

// AuthCodeRequest carries the parameters bound into an authorization code.
type AuthCodeRequest struct {
	Client              *storage.Client
	UserID              uuid.UUID
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// IssueAuthorizationCode mints a single-use code for the authorization
// endpoint and the broker callback. The redirect URI must be registered.
func (s *Service) IssueAuthorizationCode(ctx context.Context, realm *storage.Realm, req AuthCodeRequest) (string, error) {
	if !containsString(req.Client.RedirectURIs, req.RedirectURI) {
		return "", invalidRequest("redirect_uri is not registered")
	}

	code, err := crypto.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	if err := s.stores.AuthCodes.Create(ctx, &storage.AuthorizationCode{
		ID:                  uuid.New(),
		RealmID:             realm.ID,
		Code:                code,
		ClientID:            req.Client.ID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           s.now().Add(authCodeTTL),
	}); err != nil {
		return "", err
	}
	return code, nil
}

func (s *Service) authorizationCodeGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), "authorization_code")
	if oerr != nil {
		return nil, oerr
	}

	rawCode := form.Get("code")
	if rawCode == "" {
		return nil, invalidRequest("code is required")
	}

	code, err := s.stores.AuthCodes.GetByCode(ctx, rawCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidGrant("invalid authorization code")
		}
		return nil, serverError("code lookup failed")
	}
	if code.RealmID != realm.ID || code.Used {
		return nil, invalidGrant("invalid authorization code")
	}

	// Burn the code before any further validation so a failed exchange can
	// never be replayed. The CAS loses against a concurrent consumer.
	used, err := s.stores.AuthCodes.MarkUsed(ctx, code.ID)
	if err != nil {
		return nil, serverError("code consumption failed")
	}
	if !used {
		return nil, invalidGrant("invalid authorization code")
	}

	if !code.ExpiresAt.After(s.now()) {
		return nil, invalidGrant("authorization code expired")
	}
	if code.ClientID != client.ID {
		return nil, invalidGrant("authorization code was issued to another client")
	}
	if form.Get("redirect_uri") != code.RedirectURI {
		return nil, invalidGrant("redirect_uri mismatch")
	}

	if code.CodeChallenge != "" {
		verifier := form.Get("code_verifier")
		if verifier == "" {
			return nil, invalidRequest("code_verifier is required")
		}
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if !crypto.SecureCompare(computed, code.CodeChallenge) {
			return nil, invalidGrant("pkce verification failed")
		}
	}

	user, err := s.stores.Users.GetByID(ctx, code.UserID)
	if err != nil || !user.Enabled {
		return nil, invalidGrant("invalid user credentials")
	}

	session, err := s.OpenSession(ctx, realm, user.ID, clientIP, userAgent)
	if err != nil {
		return nil, serverError("failed to open session")
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventCodeToToken,
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
		scope:     code.Scope,
		nonce:     code.Nonce,
	})
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}
