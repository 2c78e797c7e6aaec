// Package broker implements identity brokering: redirecting a login to an
// external OIDC provider and fusing the returned identity with a local user.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	stateTokenTTL   = 600 * time.Second
	exchangeTimeout = 10 * time.Second
)

var (
	ErrInvalidState  = errors.New("broker state verification failed")
	ErrExchange      = errors.New("token exchange with identity provider failed")
	ErrLinkOnly      = errors.New("identity provider is link-only and no linked user exists")
	ErrProviderError = errors.New("identity provider rejected the request")
)

// Service drives the broker redirect and callback legs.
type Service struct {
	baseURL string
	stores  *storage.Stores
	keys    *keys.Service
	http    *http.Client
	audit   audit.Logger
	logger  *slog.Logger
}

func NewService(baseURL string, stores *storage.Stores, keySvc *keys.Service, auditLogger audit.Logger, logger *slog.Logger) *Service {
	return &Service{
		baseURL: baseURL,
		stores:  stores,
		keys:    keySvc,
		http:    &http.Client{Timeout: exchangeTimeout},
		audit:   auditLogger,
		logger:  logger,
	}
}

// LoginParams carries the original client authorization parameters through
// the external round trip.
type LoginParams struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	Nonce       string
}

// InitiateLogin validates the request and builds the external authorize URL.
// The original parameters ride in a signed state JWT so the callback can
// restore them without server-side state.
func (s *Service) InitiateLogin(ctx context.Context, realm *storage.Realm, alias string, params LoginParams) (string, error) {
	idp, err := s.stores.IdentityProviders.GetByAlias(ctx, realm.ID, alias)
	if err != nil {
		return "", fmt.Errorf("unknown identity provider %q: %w", alias, err)
	}
	if !idp.Enabled {
		return "", fmt.Errorf("identity provider %q is disabled", alias)
	}

	client, err := s.stores.Clients.GetByClientID(ctx, realm.ID, params.ClientID)
	if err != nil {
		return "", fmt.Errorf("unknown client: %w", err)
	}
	if !contains(client.RedirectURIs, params.RedirectURI) {
		return "", errors.New("redirect_uri is not registered for client")
	}

	key, err := s.keys.ActiveKey(ctx, realm.ID)
	if err != nil {
		return "", err
	}
	state, err := keys.SignJWT(map[string]any{
		"typ":         "broker_state",
		"realmId":     realm.ID.String(),
		"realmName":   realm.Name,
		"alias":       alias,
		"clientId":    params.ClientID,
		"redirectUri": params.RedirectURI,
		"scope":       params.Scope,
		"state":       params.State,
		"nonce":       params.Nonce,
	}, key.PrivateKeyPEM, key.Kid, stateTokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign broker state: %w", err)
	}

	authorize, err := url.Parse(idp.AuthorizationURL)
	if err != nil {
		return "", fmt.Errorf("malformed authorization url: %w", err)
	}
	q := authorize.Query()
	q.Set("response_type", "code")
	q.Set("client_id", idp.ClientID)
	q.Set("scope", idp.DefaultScopes)
	q.Set("state", state)
	q.Set("redirect_uri", s.callbackURL(realm, alias))
	authorize.RawQuery = q.Encode()
	return authorize.String(), nil
}

func (s *Service) callbackURL(realm *storage.Realm, alias string) string {
	return s.baseURL + "/realms/" + realm.Name + "/broker/" + alias + "/callback"
}

// CallbackResult is the outcome of a successful broker callback: the local
// user plus the restored original authorization parameters.
type CallbackResult struct {
	User   *storage.User
	Params LoginParams
}

// HandleCallback verifies the state, exchanges the code, fetches userinfo
// and fuses the external identity onto a local user.
func (s *Service) HandleCallback(ctx context.Context, realm *storage.Realm, alias, code, stateJWT string) (*CallbackResult, error) {
	idp, err := s.stores.IdentityProviders.GetByAlias(ctx, realm.ID, alias)
	if err != nil {
		return nil, fmt.Errorf("unknown identity provider %q: %w", alias, err)
	}

	state, err := s.keys.VerifyForRealm(ctx, realm.ID, stateJWT)
	if err != nil {
		return nil, ErrInvalidState
	}
	if typ, _ := state["typ"].(string); typ != "broker_state" {
		return nil, ErrInvalidState
	}
	if a, _ := state["alias"].(string); a != alias {
		return nil, ErrInvalidState
	}
	if rid, _ := state["realmId"].(string); rid != realm.ID.String() {
		return nil, ErrInvalidState
	}

	tokens, err := s.exchangeCode(ctx, realm, idp, alias, code)
	if err != nil {
		return nil, err
	}
	info, err := s.fetchUserinfo(ctx, idp, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.fuseIdentity(ctx, realm, idp, info)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventFederatedLogin,
		RealmName: realm.Name,
		UserID:    user.ID.String(),
		Details:   map[string]string{"provider": alias},
	})

	getStr := func(k string) string { v, _ := state[k].(string); return v }
	return &CallbackResult{
		User: user,
		Params: LoginParams{
			ClientID:    getStr("clientId"),
			RedirectURI: getStr("redirectUri"),
			Scope:       getStr("scope"),
			State:       getStr("state"),
			Nonce:       getStr("nonce"),
		},
	}, nil
}

type providerTokens struct {
	AccessToken string `json:"access_token"`
}

func (s *Service) exchangeCode(ctx context.Context, realm *storage.Realm, idp *storage.IdentityProvider, alias, code string) (*providerTokens, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {idp.ClientID},
		"client_secret": {idp.ClientSecret},
		"redirect_uri":  {s.callbackURL(realm, alias)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, idp.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrExchange, resp.StatusCode)
	}

	var tokens providerTokens
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrExchange)
	}
	return &tokens, nil
}

// externalIdentity is the subset of provider userinfo the fusion rules read.
type externalIdentity struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
}

func (s *Service) fetchUserinfo(ctx context.Context, idp *storage.IdentityProvider, accessToken string) (*externalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idp.UserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrExchange, resp.StatusCode)
	}

	var info externalIdentity
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo without sub", ErrExchange)
	}
	return &info, nil
}

// fuseIdentity resolves the external identity to a local user:
// existing link wins, then trusted-email matching, then user creation
// unless the provider is link-only.
func (s *Service) fuseIdentity(ctx context.Context, realm *storage.Realm, idp *storage.IdentityProvider, info *externalIdentity) (*storage.User, error) {
	link, err := s.stores.FederatedIDs.GetByExternalID(ctx, idp.ID, info.Sub)
	if err == nil {
		user, err := s.stores.Users.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, err
		}
		if idp.SyncUserProfile {
			s.syncProfile(ctx, user, info)
		}
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if idp.TrustEmail && info.Email != "" {
		user, err := s.stores.Users.GetByEmail(ctx, realm.ID, info.Email)
		if err == nil {
			if err := s.createLink(ctx, idp, user, info.Sub); err != nil {
				return nil, err
			}
			return user, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	if idp.LinkOnly {
		return nil, ErrLinkOnly
	}

	user, err := s.createUser(ctx, realm, idp, info)
	if err != nil {
		return nil, err
	}
	if err := s.createLink(ctx, idp, user, info.Sub); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) createLink(ctx context.Context, idp *storage.IdentityProvider, user *storage.User, sub string) error {
	return s.stores.FederatedIDs.Create(ctx, &storage.FederatedIdentity{
		ID:                 uuid.New(),
		UserID:             user.ID,
		IdentityProviderID: idp.ID,
		ExternalUserID:     sub,
	})
}

func (s *Service) createUser(ctx context.Context, realm *storage.Realm, idp *storage.IdentityProvider, info *externalIdentity) (*storage.User, error) {
	username := info.PreferredUsername
	if username == "" && info.Email != "" {
		username = strings.SplitN(info.Email, "@", 2)[0]
	}
	if username == "" {
		username = idp.Alias + "-" + info.Sub
	}

	user := &storage.User{
		ID:             uuid.New(),
		RealmID:        realm.ID,
		Username:       username,
		EmailVerified:  info.EmailVerified,
		Enabled:        true,
		FederationLink: &idp.Alias,
	}
	if info.Email != "" {
		email := info.Email
		user.Email = &email
	}
	if info.GivenName != "" {
		given := info.GivenName
		user.FirstName = &given
	}
	if info.FamilyName != "" {
		family := info.FamilyName
		user.LastName = &family
	}
	if err := s.stores.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) syncProfile(ctx context.Context, user *storage.User, info *externalIdentity) {
	changed := false
	if info.Email != "" && (user.Email == nil || *user.Email != info.Email) {
		email := info.Email
		user.Email = &email
		changed = true
	}
	if info.GivenName != "" && (user.FirstName == nil || *user.FirstName != info.GivenName) {
		given := info.GivenName
		user.FirstName = &given
		changed = true
	}
	if info.FamilyName != "" && (user.LastName == nil || *user.LastName != info.FamilyName) {
		family := info.FamilyName
		user.LastName = &family
		changed = true
	}
	if !changed {
		return
	}
	if err := s.stores.Users.Update(ctx, user); err != nil {
		s.logger.Warn("failed to sync federated profile", "user_id", user.ID, "error", err)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
