package oauth

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
)

const (
	testBaseURL      = "http://localhost:3000"
	testClientSecret = "s3cret-value"
	testPassword     = "Sup3r!Secret"
)

// fixture wires a service against in-memory stores with one realm, one
// confidential client and one user.
type fixture struct {
	svc    *Service
	stores *storage.Stores
	keys   *keys.Service
	realm  *storage.Realm
	client *storage.Client
	user   *storage.User
	hasher crypto.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	stores := memory.NewStores()
	keySvc := keys.NewService(stores.Keys)
	hasher := crypto.NewArgon2Hasher()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mfaSvc := mfa.NewService("Veridian", stores.Credentials, stores.RecoveryCodes, stores.PendingActions)
	gate := policy.NewGate(stores.LoginFailures)
	backchannel := NewBackchannelDispatcher(testBaseURL, stores.Clients, keySvc, logger)

	svc := NewService(testBaseURL, stores, keySvc, hasher, mfaSvc, gate,
		NewBlacklist(), backchannel, audit.NopLogger{}, logger)

	realm := &storage.Realm{
		ID:                   uuid.New(),
		Name:                 "acme",
		Enabled:              true,
		AccessTokenLifespan:  300,
		RefreshTokenLifespan: 3600,
		OfflineTokenLifespan: 86400,
		BruteForceEnabled:    true,
		MaxLoginFailures:     3,
		LockoutDuration:      60,
		FailureResetTime:     300,
	}
	require.NoError(t, stores.Realms.Create(ctx, realm))
	_, err := keySvc.Rotate(ctx, realm.ID)
	require.NoError(t, err)

	secretHash, err := hasher.Hash(testClientSecret)
	require.NoError(t, err)
	client := &storage.Client{
		ID:         uuid.New(),
		RealmID:    realm.ID,
		ClientID:   "web-app",
		Type:       storage.ClientConfidential,
		SecretHash: &secretHash,
		Enabled:    true,
		GrantTypes: []string{
			"password", "client_credentials", "refresh_token",
			"authorization_code", grantTypeDeviceCode,
		},
		RedirectURIs:   []string{"https://app/cb"},
		DefaultScopes:  []string{"openid"},
		OptionalScopes: []string{"profile", "email", "offline_access"},
	}
	require.NoError(t, stores.Clients.Create(ctx, client))

	email := "jane@example.com"
	first := "Jane"
	last := "Doe"
	passwordHash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	changed := time.Now()
	user := &storage.User{
		ID:                uuid.New(),
		RealmID:           realm.ID,
		Username:          "jane",
		Email:             &email,
		EmailVerified:     true,
		FirstName:         &first,
		LastName:          &last,
		Enabled:           true,
		PasswordHash:      &passwordHash,
		PasswordChangedAt: &changed,
	}
	require.NoError(t, stores.Users.Create(ctx, user))

	return &fixture{
		svc:    svc,
		stores: stores,
		keys:   keySvc,
		realm:  realm,
		client: client,
		user:   user,
		hasher: hasher,
	}
}

// tokenForm builds a token request with client credentials pre-filled.
func (f *fixture) tokenForm(grantType string, params map[string]string) url.Values {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("client_id", f.client.ClientID)
	form.Set("client_secret", testClientSecret)
	for k, v := range params {
		form.Set(k, v)
	}
	return form
}

func (f *fixture) token(t *testing.T, grantType string, params map[string]string) *TokenResponse {
	t.Helper()
	resp, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, f.tokenForm(grantType, params), "127.0.0.1", "test-agent")
	require.Nil(t, oerr)
	return resp
}

// decodeToken verifies a JWT against the realm's active key.
func (f *fixture) decodeToken(t *testing.T, token string) map[string]any {
	t.Helper()
	key, err := f.keys.ActiveKey(context.Background(), f.realm.ID)
	require.NoError(t, err)
	payload, err := keys.VerifyJWT(token, key.PublicKeyPEM)
	require.NoError(t, err)
	return payload
}
