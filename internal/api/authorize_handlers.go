package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/oauth"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	loginCookieName = "VERIDIAN_AUTH_SESSION"
	loginSessionTTL = 10 * time.Hour
	loginTokenBytes = 32
)

// loginSession resolves the browser SSO cookie to its record; expired or
// unknown cookies read as absent.
func (s *Server) loginSession(r *http.Request, realm *storage.Realm) *storage.LoginSession {
	cookie, err := r.Cookie(loginCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	ls, err := s.stores.LoginSessions.GetByHash(r.Context(), crypto.SHA256Hex(cookie.Value))
	if err != nil || ls.RealmID != realm.ID || !ls.ExpiresAt.After(time.Now()) {
		return nil
	}
	return ls
}

type browserLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

// handleBrowserLogin authenticates a browser user and plants the SSO cookie
// the authorization and device-verification endpoints rely on. The login UI
// collaborator renders the form; this is its backend.
func (s *Server) handleBrowserLogin(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	var req browserLoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" || req.ClientID == "" {
		helpers.RespondError(w, http.StatusBadRequest, "username, password and client_id are required")
		return
	}

	client, err := s.stores.Clients.GetByClientID(r.Context(), realm.ID, req.ClientID)
	if err != nil || !client.Enabled {
		helpers.RespondError(w, http.StatusBadRequest, "unknown client")
		return
	}

	user, oerr := s.oauth.AuthenticatePassword(r.Context(), realm, client, req.Username, req.Password, helpers.GetRealIP(r))
	if oerr != nil {
		respondOAuthError(w, oerr)
		return
	}

	token, err := crypto.GenerateOpaqueToken(loginTokenBytes)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	now := time.Now()
	ls := &storage.LoginSession{
		ID:        uuid.New(),
		RealmID:   realm.ID,
		UserID:    user.ID,
		TokenHash: crypto.SHA256Hex(token),
		IPAddress: helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
		ExpiresAt: now.Add(loginSessionTTL),
		CreatedAt: now,
	}
	if err := s.stores.LoginSessions.Create(r.Context(), ls); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     loginCookieName,
		Value:    token,
		Path:     "/realms/" + realm.Name,
		MaxAge:   int(loginSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Env == "production",
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorize is the authorization endpoint. With a live SSO cookie it
// mints a code and redirects back to the client; without one it answers
// login_required and lets the login UI take over.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	// client_id and redirect_uri are validated before anything is sent to
	// the redirect target.
	client, err := s.stores.Clients.GetByClientID(r.Context(), realm.ID, q.Get("client_id"))
	if err != nil || !client.Enabled {
		helpers.RespondError(w, http.StatusBadRequest, "unknown client")
		return
	}
	if q.Get("response_type") != "code" {
		helpers.RespondError(w, http.StatusBadRequest, "unsupported response_type")
		return
	}

	ls := s.loginSession(r, realm)
	if ls == nil {
		respondOAuthError(w, &oauth.Error{
			Code:        "login_required",
			Description: "no authenticated browser session",
			Status:      http.StatusUnauthorized,
		})
		return
	}

	code, err := s.oauth.IssueAuthorizationCode(r.Context(), realm, oauth.AuthCodeRequest{
		Client:              client,
		UserID:              ls.UserID,
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	redirect, _ := url.Parse(q.Get("redirect_uri"))
	params := redirect.Query()
	params.Set("code", code)
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

type deviceVerifyRequest struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
}

// handleDeviceVerify lets an authenticated browser user approve or deny a
// device flow user code.
func (s *Server) handleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	ls := s.loginSession(r, realm)
	if ls == nil {
		helpers.RespondError(w, http.StatusUnauthorized, "login required")
		return
	}

	var req deviceVerifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.UserCode == "" {
		helpers.RespondError(w, http.StatusBadRequest, "user_code is required")
		return
	}

	var err error
	if req.Approve {
		err = s.oauth.ApproveDeviceCode(r.Context(), realm, req.UserCode, ls.UserID)
	} else {
		err = s.oauth.DenyDeviceCode(r.Context(), realm, req.UserCode)
	}
	if err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "unknown user code")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceAuth is the RFC 8628 device authorization endpoint.
func (s *Server) handleDeviceAuth(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		badForm(w, "malformed form body")
		return
	}
	resp, oerr := s.oauth.StartDeviceAuthorization(r.Context(), realm, r.PostForm)
	if oerr != nil {
		respondOAuthError(w, oerr)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resp)
}
