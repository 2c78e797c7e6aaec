package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) startDeviceFlow(t *testing.T) *DeviceAuthResponse {
	t.Helper()
	form := f.tokenForm("", map[string]string{"scope": "openid"})
	form.Del("grant_type")
	resp, oerr := f.svc.StartDeviceAuthorization(context.Background(), f.realm, form)
	require.Nil(t, oerr)
	return resp
}

func TestDeviceFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.startDeviceFlow(t)
	assert.NotEmpty(t, start.DeviceCode)
	assert.Regexp(t, `^[BCDFGHJ-NP-TVWXZ]{4}-[BCDFGHJ-NP-TVWXZ]{4}$`, start.UserCode)
	assert.Equal(t, testBaseURL+"/realms/acme/device", start.VerificationURI)
	assert.Contains(t, start.VerificationURIComplete, start.UserCode)
	assert.Equal(t, 5, start.Interval)

	poll := map[string]string{"device_code": start.DeviceCode}

	// Not approved yet.
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, f.tokenForm(grantTypeDeviceCode, poll), "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "authorization_pending", oerr.Code)

	// Second poll inside the interval backs off.
	_, oerr = f.svc.HandleTokenRequest(ctx, f.realm, f.tokenForm(grantTypeDeviceCode, poll), "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "slow_down", oerr.Code)

	require.NoError(t, f.svc.ApproveDeviceCode(ctx, f.realm, start.UserCode, f.user.ID))

	// Step past the polling interval.
	f.svc.now = func() time.Time { return time.Now().Add(6 * time.Second) }
	resp := f.token(t, grantTypeDeviceCode, poll)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	// Consumption deleted the record: polling again finds nothing.
	_, oerr = f.svc.HandleTokenRequest(ctx, f.realm, f.tokenForm(grantTypeDeviceCode, poll), "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestDeviceFlow_Denied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.startDeviceFlow(t)
	require.NoError(t, f.svc.DenyDeviceCode(ctx, f.realm, start.UserCode))

	form := f.tokenForm(grantTypeDeviceCode, map[string]string{"device_code": start.DeviceCode})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "access_denied", oerr.Code)
}

func TestDeviceFlow_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.startDeviceFlow(t)
	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	form := f.tokenForm(grantTypeDeviceCode, map[string]string{"device_code": start.DeviceCode})
	_, oerr := f.svc.HandleTokenRequest(ctx, f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "expired_token", oerr.Code)
}

func TestDeviceFlow_UnknownCode(t *testing.T) {
	f := newFixture(t)
	form := f.tokenForm(grantTypeDeviceCode, map[string]string{"device_code": "nope"})
	_, oerr := f.svc.HandleTokenRequest(context.Background(), f.realm, form, "127.0.0.1", "ua")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}
