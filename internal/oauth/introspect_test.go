package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/storage"
)

func TestIntrospect_ActiveToken(t *testing.T) {
	f := newFixture(t)
	resp := f.token(t, "password", map[string]string{
		"username": "jane", "password": testPassword, "scope": "openid profile email",
	})

	out := f.svc.Introspect(context.Background(), f.realm, resp.AccessToken)
	assert.Equal(t, true, out["active"])
	assert.Equal(t, f.user.ID.String(), out["sub"])
	assert.Equal(t, testBaseURL+"/realms/acme", out["iss"])
	assert.Equal(t, "openid profile email", out["scope"])
	assert.Equal(t, "jane", out["preferred_username"])
	assert.Equal(t, "jane@example.com", out["email"])
}

func TestIntrospect_Garbage(t *testing.T) {
	f := newFixture(t)
	out := f.svc.Introspect(context.Background(), f.realm, "not.a.jwt")
	assert.Equal(t, map[string]any{"active": false}, out)
}

func TestIntrospect_RevokedAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	require.NoError(t, f.svc.Revoke(ctx, f.realm, resp.AccessToken, ""))
	out := f.svc.Introspect(ctx, f.realm, resp.AccessToken)
	assert.Equal(t, map[string]any{"active": false}, out)
}

func TestIntrospect_ClosedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	require.Nil(t, f.svc.Logout(ctx, f.realm, resp.RefreshToken))
	out := f.svc.Introspect(ctx, f.realm, resp.AccessToken)
	assert.Equal(t, map[string]any{"active": false}, out)
}

func TestRevoke_RefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	require.NoError(t, f.svc.Revoke(ctx, f.realm, resp.RefreshToken, "refresh_token"))

	rt, err := f.stores.RefreshTokens.GetByHash(ctx, crypto.SHA256Hex(resp.RefreshToken))
	require.NoError(t, err)
	assert.True(t, rt.Revoked)
}

func TestRevoke_UnknownTokenIsSilent(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Revoke(context.Background(), f.realm, "completely-unknown", ""))
}

func TestUserinfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.token(t, "password", map[string]string{
		"username": "jane", "password": testPassword, "scope": "openid email",
	})

	claims, oerr := f.svc.Userinfo(ctx, f.realm, resp.AccessToken)
	require.Nil(t, oerr)
	assert.Equal(t, f.user.ID.String(), claims["sub"])
	assert.Equal(t, "jane@example.com", claims["email"])
	// profile was not granted, so profile claims stay out.
	assert.NotContains(t, claims, "preferred_username")
	assert.NotContains(t, claims, "given_name")
}

func TestUserinfo_InvalidToken(t *testing.T) {
	f := newFixture(t)
	_, oerr := f.svc.Userinfo(context.Background(), f.realm, "garbage")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_token", oerr.Code)
}

func TestUserinfo_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	require.NoError(t, f.svc.Revoke(ctx, f.realm, resp.AccessToken, "access_token"))
	_, oerr := f.svc.Userinfo(ctx, f.realm, resp.AccessToken)
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_token", oerr.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	rt, err := f.stores.RefreshTokens.GetByHash(ctx, crypto.SHA256Hex(resp.RefreshToken))
	require.NoError(t, err)

	require.Nil(t, f.svc.Logout(ctx, f.realm, resp.RefreshToken))

	// Session gone, refresh token revoked, refresh grant refused.
	_, err = f.stores.Sessions.GetByID(ctx, rt.SessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	form := f.tokenForm("refresh_token", map[string]string{"refresh_token": resp.RefreshToken})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestLogout_UnknownToken(t *testing.T) {
	f := newFixture(t)
	oerr := f.svc.Logout(context.Background(), f.realm, "unknown")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestBackchannelLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var received []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		received = append(received, r.PostFormValue("logout_token"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	uri := ts.URL + "/backchannel"
	f.client.BackchannelLogoutURI = &uri
	f.client.BackchannelLogoutSessionRequired = true
	require.NoError(t, f.stores.Clients.Update(ctx, f.client))

	resp := f.login(t)
	require.Nil(t, f.svc.Logout(ctx, f.realm, resp.RefreshToken))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)

	key, err := f.keys.ActiveKey(ctx, f.realm.ID)
	require.NoError(t, err)
	payload, err := keys.VerifyJWT(received[0], key.PublicKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, "web-app", payload["aud"])
	assert.Equal(t, f.user.ID.String(), payload["sub"])
	assert.NotEmpty(t, payload["sid"], "sid required by client config")
	events, ok := payload["events"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, events, "http://schemas.openid.net/event/backchannel-logout")
}

func TestBackchannelLogout_FailureDoesNotPropagate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	uri := "http://127.0.0.1:1/unreachable"
	f.client.BackchannelLogoutURI = &uri
	require.NoError(t, f.stores.Clients.Update(ctx, f.client))

	resp := f.login(t)
	assert.Nil(t, f.svc.Logout(ctx, f.realm, resp.RefreshToken))
}

func TestBlacklistSweep(t *testing.T) {
	b := NewBlacklist()
	b.Add("live", time.Now().Add(time.Hour))
	b.Add("dead", time.Now().Add(time.Millisecond))

	time.Sleep(5 * time.Millisecond)
	removed := b.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.True(t, b.IsBlacklisted("live"))
	assert.False(t, b.IsBlacklisted("dead"))
}

func TestStartDeviceAuthorizationRequiresClient(t *testing.T) {
	f := newFixture(t)
	form := url.Values{}
	_, oerr := f.svc.StartDeviceAuthorization(context.Background(), f.realm, form)
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_request", oerr.Code)
}
