package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adminsvc "github.com/veridianlabs/veridian/internal/admin"
	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/broker"
	"github.com/veridianlabs/veridian/internal/config"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/oauth"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
)

const (
	testBaseURL  = "http://localhost:3000"
	testAdminKey = "test-admin-key"
	testPassword = "Sup3r!Secret"
)

type apiFixture struct {
	server *Server
	stores *storage.Stores
	realm  *storage.Realm
	client *storage.Client
	secret string
	user   *storage.User
}

func newTestServer(t *testing.T, throttleLimit int) *apiFixture {
	t.Helper()
	ctx := context.Background()

	stores := memory.NewStores()
	keySvc := keys.NewService(stores.Keys)
	hasher := crypto.NewArgon2Hasher()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	adminSvc := adminsvc.NewService(stores, keySvc, hasher, logger)
	mfaSvc := mfa.NewService("Veridian", stores.Credentials, stores.RecoveryCodes, stores.PendingActions)
	oauthSvc := oauth.NewService(
		testBaseURL, stores, keySvc, hasher, mfaSvc,
		policy.NewGate(stores.LoginFailures),
		oauth.NewBlacklist(),
		oauth.NewBackchannelDispatcher(testBaseURL, stores.Clients, keySvc, logger),
		audit.NopLogger{}, logger,
	)
	brokerSvc := broker.NewService(testBaseURL, stores, keySvc, audit.NopLogger{}, logger)

	realm := &storage.Realm{
		Name:                 "acme",
		Enabled:              true,
		AccessTokenLifespan:  300,
		RefreshTokenLifespan: 3600,
		OfflineTokenLifespan: 86400,
	}
	require.NoError(t, adminSvc.CreateRealm(ctx, realm))

	client := &storage.Client{
		RealmID:  realm.ID,
		ClientID: "web-app",
		Type:     storage.ClientConfidential,
		Enabled:  true,
		GrantTypes: []string{
			"password", "client_credentials", "refresh_token",
			"authorization_code", "urn:ietf:params:oauth:grant-type:device_code",
		},
		RedirectURIs:   []string{"https://app.example/cb"},
		DefaultScopes:  []string{"openid"},
		OptionalScopes: []string{"profile", "email", "offline_access"},
	}
	secret, err := adminSvc.CreateClient(ctx, client)
	require.NoError(t, err)

	user := &storage.User{Username: "jane", Enabled: true}
	require.NoError(t, adminSvc.CreateUser(ctx, realm, user, testPassword))

	server := NewServer(Deps{
		Config: config.Config{
			BaseURL:       testBaseURL,
			Env:           "development",
			AdminAPIKey:   testAdminKey,
			ThrottleTTL:   time.Minute,
			ThrottleLimit: throttleLimit,
		},
		Stores: stores,
		Keys:   keySvc,
		OAuth:  oauthSvc,
		Broker: brokerSvc,
		Admin:  adminSvc,
		MFA:    mfaSvc,
		Logger: logger,
	})

	return &apiFixture{
		server: server,
		stores: stores,
		realm:  realm,
		client: client,
		secret: secret,
		user:   user,
	}
}

func (f *apiFixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) tokenRequest(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	form.Set("client_id", f.client.ClientID)
	form.Set("client_secret", f.secret)
	return f.postForm(t, "/realms/acme/protocol/openid-connect/token", form)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestTokenEndpoint_PasswordGrant(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.tokenRequest(t, url.Values{
		"grant_type": {"password"},
		"username":   {"jane"},
		"password":   {testPassword},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["id_token"])
	assert.Equal(t, "Bearer", body["token_type"])
}

func TestTokenEndpoint_ClientCredentialsIs201(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.tokenRequest(t, url.Values{"grant_type": {"client_credentials"}})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["access_token"])
	assert.Nil(t, body["refresh_token"])
}

func TestTokenEndpoint_InvalidClientIs401(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.postForm(t, "/realms/acme/protocol/openid-connect/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"web-app"},
		"client_secret": {"wrong"},
	})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestTokenEndpoint_UnknownRealmIs404(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.postForm(t, "/realms/nope/protocol/openid-connect/token", url.Values{
		"grant_type": {"client_credentials"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscoveryDocument(t *testing.T) {
	f := newTestServer(t, 1000)

	req := httptest.NewRequest(http.MethodGet, "/realms/acme/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, testBaseURL+"/realms/acme", body["issuer"])
	assert.Equal(t, testBaseURL+"/realms/acme/protocol/openid-connect/token", body["token_endpoint"])
	assert.Equal(t, testBaseURL+"/realms/acme/protocol/openid-connect/certs", body["jwks_uri"])
}

func TestCertsServesJWKS(t *testing.T) {
	f := newTestServer(t, 1000)

	req := httptest.NewRequest(http.MethodGet, "/realms/acme/protocol/openid-connect/certs", nil)
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var jwks keys.JWKS
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "RS256", jwks.Keys[0].Alg)
}

func TestIntrospectEndpoint(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.tokenRequest(t, url.Values{
		"grant_type": {"password"},
		"username":   {"jane"},
		"password":   {testPassword},
		"scope":      {"openid profile"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	accessToken := decodeBody(t, w)["access_token"].(string)

	w = f.postForm(t, "/realms/acme/protocol/openid-connect/token/introspect", url.Values{
		"token": {accessToken},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "jane", body["preferred_username"])

	// Garbage stays neutral.
	w = f.postForm(t, "/realms/acme/protocol/openid-connect/token/introspect", url.Values{
		"token": {"garbage"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["active"])
}

func TestBrowserLoginAndAuthorize(t *testing.T) {
	f := newTestServer(t, 1000)

	// Login plants the SSO cookie.
	loginBody := `{"username":"jane","password":"` + testPassword + `","client_id":"web-app"}`
	req := httptest.NewRequest(http.MethodPost, "/realms/acme/login-actions/authenticate", strings.NewReader(loginBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, loginCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// Authorize with the cookie redirects back with a code.
	authURL := "/realms/acme/protocol/openid-connect/auth?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"web-app"},
		"redirect_uri":  {"https://app.example/cb"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}.Encode()
	req = httptest.NewRequest(http.MethodGet, authURL, nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example", location.Host)
	assert.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	// The code exchanges at the token endpoint.
	w = f.tokenRequest(t, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example/cb"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["access_token"])
}

func TestAuthorize_WithoutSessionIsLoginRequired(t *testing.T) {
	f := newTestServer(t, 1000)

	authURL := "/realms/acme/protocol/openid-connect/auth?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"web-app"},
		"redirect_uri":  {"https://app.example/cb"},
	}.Encode()
	req := httptest.NewRequest(http.MethodGet, authURL, nil)
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "login_required", decodeBody(t, w)["error"])
}

func TestAccountMFAEnroll(t *testing.T) {
	f := newTestServer(t, 1000)

	w := f.tokenRequest(t, url.Values{
		"grant_type": {"password"},
		"username":   {"jane"},
		"password":   {testPassword},
	})
	require.Equal(t, http.StatusOK, w.Code)
	accessToken := decodeBody(t, w)["access_token"].(string)

	req := httptest.NewRequest(http.MethodPost, "/realms/acme/account/mfa/enroll", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w2 := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w2, req)

	require.Equal(t, http.StatusOK, w2.Code)
	body := decodeBody(t, w2)
	assert.NotEmpty(t, body["secret"])
	assert.Contains(t, body["otpauthUrl"], "otpauth://totp/")

	// No token, no enrollment.
	req = httptest.NewRequest(http.MethodPost, "/realms/acme/account/mfa/enroll", nil)
	w3 := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusUnauthorized, w3.Code)
}

func TestAdminAPI_KeyGuard(t *testing.T) {
	f := newTestServer(t, 1000)

	req := httptest.NewRequest(http.MethodGet, "/admin/realms", nil)
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/realms", nil)
	req.Header.Set("x-admin-api-key", "wrong-key")
	w = httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/realms", nil)
	req.Header.Set("x-admin-api-key", testAdminKey)
	w = httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAPI_CreateRealmAndClient(t *testing.T) {
	f := newTestServer(t, 1000)

	body := `{"name":"beta","enabled":true}`
	req := httptest.NewRequest(http.MethodPost, "/admin/realms", strings.NewReader(body))
	req.Header.Set("x-admin-api-key", testAdminKey)
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.Equal(t, "beta", created["name"])
	// Lifespan defaults applied by the service.
	assert.Equal(t, float64(300), created["access_token_lifespan"])

	clientBody := `{"client_id":"backend","type":"CONFIDENTIAL","enabled":true,"grant_types":["client_credentials"]}`
	req = httptest.NewRequest(http.MethodPost, "/admin/realms/beta/clients", strings.NewReader(clientBody))
	req.Header.Set("x-admin-api-key", testAdminKey)
	w = httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody(t, w)
	assert.NotEmpty(t, resp["secret"])
}

func TestAdminAPI_DisabledWithoutKey(t *testing.T) {
	f := newTestServer(t, 1000)
	f.server.cfg.AdminAPIKey = ""
	f.server.Router = f.server.routes()

	req := httptest.NewRequest(http.MethodGet, "/admin/realms", nil)
	req.Header.Set("x-admin-api-key", "")
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimiter(t *testing.T) {
	f := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		w := httptest.NewRecorder()
		f.server.Router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Another IP has its own bucket.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.9.9.9:5000"
	w = httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeviceVerifyFlow(t *testing.T) {
	f := newTestServer(t, 1000)

	// Device asks for codes.
	w := f.postForm(t, "/realms/acme/protocol/openid-connect/device/auth", url.Values{
		"client_id":     {f.client.ClientID},
		"client_secret": {f.secret},
		"scope":         {"openid"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	device := decodeBody(t, w)
	userCode := device["user_code"].(string)
	require.NotEmpty(t, userCode)

	// Browser user logs in, then approves.
	loginBody := `{"username":"jane","password":"` + testPassword + `","client_id":"web-app"}`
	req := httptest.NewRequest(http.MethodPost, "/realms/acme/login-actions/authenticate", strings.NewReader(loginBody))
	req.Header.Set("Content-Type", "application/json")
	lw := httptest.NewRecorder()
	f.server.Router.ServeHTTP(lw, req)
	require.Equal(t, http.StatusNoContent, lw.Code)
	cookie := lw.Result().Cookies()[0]

	verifyBody := `{"user_code":"` + userCode + `","approve":true}`
	req = httptest.NewRequest(http.MethodPost, "/realms/acme/device/verify", strings.NewReader(verifyBody))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	vw := httptest.NewRecorder()
	f.server.Router.ServeHTTP(vw, req)
	assert.Equal(t, http.StatusNoContent, vw.Code)
}
