package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/storage"
)

func TestValidateClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("valid confidential", func(t *testing.T) {
		client, oerr := f.svc.ValidateClient(ctx, f.realm, "web-app", testClientSecret, "password")
		require.Nil(t, oerr)
		assert.Equal(t, f.client.ID, client.ID)
	})

	t.Run("missing client_id", func(t *testing.T) {
		_, oerr := f.svc.ValidateClient(ctx, f.realm, "", "", "password")
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_request", oerr.Code)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, oerr := f.svc.ValidateClient(ctx, f.realm, "ghost", testClientSecret, "password")
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_client", oerr.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, oerr := f.svc.ValidateClient(ctx, f.realm, "web-app", "wrong", "password")
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_client", oerr.Code)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, oerr := f.svc.ValidateClient(ctx, f.realm, "web-app", "", "password")
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_client", oerr.Code)
	})

	t.Run("grant not allowed", func(t *testing.T) {
		limited := &storage.Client{
			ID:         f.client.ID,
			RealmID:    f.realm.ID,
			ClientID:   "web-app",
			Type:       storage.ClientConfidential,
			SecretHash: f.client.SecretHash,
			Enabled:    true,
			GrantTypes: []string{"client_credentials"},
		}
		require.NoError(t, f.stores.Clients.Update(ctx, limited))
		_, oerr := f.svc.ValidateClient(ctx, f.realm, "web-app", testClientSecret, "password")
		require.NotNil(t, oerr)
		assert.Equal(t, "unauthorized_client", oerr.Code)
		require.NoError(t, f.stores.Clients.Update(ctx, f.client))
	})

	t.Run("public client skips secret check", func(t *testing.T) {
		// Even a stored hash does not make a public client verify secrets.
		stray, err := f.hasher.Hash("anything")
		require.NoError(t, err)
		pub := &storage.Client{
			ID:         uuid.New(),
			RealmID:    f.realm.ID,
			ClientID:   "spa",
			Type:       storage.ClientPublic,
			SecretHash: &stray,
			Enabled:    true,
			GrantTypes: []string{"authorization_code"},
		}
		require.NoError(t, f.stores.Clients.Create(ctx, pub))
		client, oerr := f.svc.ValidateClient(ctx, f.realm, "spa", "", "authorization_code")
		require.Nil(t, oerr)
		assert.Equal(t, "spa", client.ClientID)
	})
}

func TestPasswordGrant(t *testing.T) {
	f := newFixture(t)

	resp := f.token(t, "password", map[string]string{
		"username": "jane",
		"password": testPassword,
		"scope":    "openid profile email",
	})

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 300, resp.ExpiresIn)
	assert.Equal(t, "openid profile email", resp.Scope)

	access := f.decodeToken(t, resp.AccessToken)
	assert.Equal(t, testBaseURL+"/realms/acme", access["iss"])
	assert.Equal(t, f.user.ID.String(), access["sub"])
	assert.Equal(t, "web-app", access["aud"])
	assert.Equal(t, "web-app", access["azp"])
	assert.Equal(t, "Bearer", access["typ"])
	assert.Equal(t, "jane", access["preferred_username"])
	assert.Equal(t, "jane@example.com", access["email"])
	assert.NotEmpty(t, access["sid"])

	// at_hash on the ID token must match the issued access token.
	id := f.decodeToken(t, resp.IDToken)
	assert.Equal(t, keys.ComputeAtHash(resp.AccessToken), id["at_hash"])
	assert.Equal(t, "ID", id["typ"])
	assert.Equal(t, "1", id["acr"])
	assert.NotNil(t, id["auth_time"])
}

func TestPasswordGrant_ScopeOmittedIncludesRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := &storage.Role{ID: uuid.New(), RealmID: f.realm.ID, Name: "admin"}
	require.NoError(t, f.stores.Roles.Create(ctx, role))
	require.NoError(t, f.stores.Roles.AssignToUser(ctx, f.user.ID, role.ID))

	resp := f.token(t, "password", map[string]string{"username": "jane", "password": testPassword})
	access := f.decodeToken(t, resp.AccessToken)
	require.Contains(t, access, "realm_access")
	realmAccess := access["realm_access"].(map[string]any)
	assert.Contains(t, realmAccess["roles"], "admin")

	// With an explicit scope lacking "roles", role claims disappear.
	resp = f.token(t, "password", map[string]string{
		"username": "jane", "password": testPassword, "scope": "openid",
	})
	access = f.decodeToken(t, resp.AccessToken)
	assert.NotContains(t, access, "realm_access")
}

func TestPasswordGrant_WrongPassword(t *testing.T) {
	f := newFixture(t)

	form := f.tokenForm("password", map[string]string{"username": "jane", "password": "nope"})
	_, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)

	failure, err := f.stores.LoginFailures.Get(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failure.FailureCount)
}

func TestPasswordGrant_Lockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	form := f.tokenForm("password", map[string]string{"username": "jane", "password": "nope"})
	for i := 0; i < 3; i++ {
		_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
		require.NotNil(t, oerr)
	}

	// Correct password is refused while locked, with the same neutral error.
	good := f.tokenForm("password", map[string]string{"username": "jane", "password": testPassword})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, good, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestPasswordGrant_UnknownUser(t *testing.T) {
	f := newFixture(t)
	form := f.tokenForm("password", map[string]string{"username": "ghost", "password": "x"})
	_, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestPasswordGrant_ExpiredPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.realm.PasswordMaxAgeDays = 30
	require.NoError(t, f.stores.Realms.Update(ctx, f.realm))
	old := time.Now().Add(-60 * 24 * time.Hour)
	f.user.PasswordChangedAt = &old
	require.NoError(t, f.stores.Users.Update(ctx, f.user))

	form := f.tokenForm("password", map[string]string{"username": "jane", "password": testPassword})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
	assert.Contains(t, oerr.Description, "expired")
}

func TestPasswordGrant_MFASetupRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.realm.MFARequired = true
	require.NoError(t, f.stores.Realms.Update(ctx, f.realm))

	form := f.tokenForm("password", map[string]string{"username": "jane", "password": testPassword})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
	assert.Contains(t, oerr.Description, "MFA")
}

// enrollMFA activates TOTP for the fixture user and returns the secret.
func enrollMFA(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	enr, err := f.svc.mfa.EnrollTOTP(ctx, f.realm, f.user)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	_, err = f.svc.mfa.Activate(ctx, f.user.ID, code)
	require.NoError(t, err)
	return enr.Secret
}

func TestMFAFlow(t *testing.T) {
	f := newFixture(t)
	secret := enrollMFA(t, f)

	// Password grant detours into the challenge.
	resp := f.token(t, "password", map[string]string{
		"username": "jane", "password": testPassword, "scope": "openid",
	})
	assert.Equal(t, "mfa_required", resp.Error)
	require.NotEmpty(t, resp.MFAToken)
	assert.Empty(t, resp.AccessToken)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	final := f.token(t, "mfa_otp", map[string]string{"mfa_token": resp.MFAToken, "otp": code})
	assert.NotEmpty(t, final.AccessToken)
	assert.NotEmpty(t, final.RefreshToken)
	assert.NotEmpty(t, final.IDToken)
	assert.Equal(t, "openid", final.Scope)
}

func TestMFAFlow_AttemptLimit(t *testing.T) {
	f := newFixture(t)
	secret := enrollMFA(t, f)

	resp := f.token(t, "password", map[string]string{"username": "jane", "password": testPassword})
	require.NotEmpty(t, resp.MFAToken)

	ctx := context.Background()
	// Five wrong attempts keep the challenge alive; the sixth locks it even
	// with a correct OTP.
	for i := 0; i < 5; i++ {
		form := f.tokenForm("mfa_otp", map[string]string{"mfa_token": resp.MFAToken, "otp": "000000"})
		_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_grant", oerr.Code)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	form := f.tokenForm("mfa_otp", map[string]string{"mfa_token": resp.MFAToken, "otp": code})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestClientCredentials(t *testing.T) {
	f := newFixture(t)

	resp := f.token(t, "client_credentials", nil)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "bare client_credentials has no refresh token")
	assert.Empty(t, resp.IDToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 300, resp.ExpiresIn)
	assert.Equal(t, "openid", resp.Scope)

	access := f.decodeToken(t, resp.AccessToken)
	assert.Equal(t, f.client.ID.String(), access["sub"])
	assert.Equal(t, "web-app", access["aud"])
	assert.Equal(t, "web-app", access["azp"])
}

func TestClientCredentials_ServiceAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.ServiceAccountUserID = &f.user.ID
	require.NoError(t, f.stores.Clients.Update(ctx, f.client))

	resp := f.token(t, "client_credentials", nil)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken, "service-account clients get a session")

	access := f.decodeToken(t, resp.AccessToken)
	assert.Equal(t, f.user.ID.String(), access["sub"])
}

func TestClientCredentials_ServiceAccountHasNoIDToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.ServiceAccountUserID = &f.user.ID
	require.NoError(t, f.stores.Clients.Update(ctx, f.client))

	// Even with openid requested explicitly the machine grant stays
	// id_token-free; identity tokens describe people, not service accounts.
	resp := f.token(t, "client_credentials", map[string]string{"scope": "openid profile"})
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.IDToken)

	resp = f.token(t, "client_credentials", nil)
	assert.Empty(t, resp.IDToken)
}

func TestUnsupportedGrantType(t *testing.T) {
	f := newFixture(t)
	form := f.tokenForm("implicit", nil)
	_, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "unsupported_grant_type", oerr.Code)
}

func TestMissingGrantType(t *testing.T) {
	f := newFixture(t)
	form := f.tokenForm("", nil)
	form.Del("grant_type")
	_, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_request", oerr.Code)
}
