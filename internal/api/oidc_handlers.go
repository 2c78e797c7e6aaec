package api

import (
	"net/http"

	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/oauth"
)

func badForm(w http.ResponseWriter, desc string) {
	respondOAuthError(w, &oauth.Error{
		Code:        "invalid_request",
		Description: desc,
		Status:      http.StatusBadRequest,
	})
}

// handleToken is the RFC 6749 token endpoint. client_credentials answers 201
// so machine clients can treat the token as a created resource; everything
// else answers 200, including the mfa_required interstitial.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		badForm(w, "malformed form body")
		return
	}

	resp, oerr := s.oauth.HandleTokenRequest(r.Context(), realm, r.PostForm, helpers.GetRealIP(r), r.UserAgent())
	if oerr != nil {
		respondOAuthError(w, oerr)
		return
	}

	status := http.StatusOK
	if r.PostForm.Get("grant_type") == "client_credentials" && resp.Error == "" {
		status = http.StatusCreated
	}
	helpers.RespondJSON(w, status, resp)
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		badForm(w, "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		badForm(w, "token is required")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, s.oauth.Introspect(r.Context(), realm, token))
}

// handleRevoke implements RFC 7009; unknown tokens still answer 200.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		badForm(w, "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		badForm(w, "token is required")
		return
	}
	if err := s.oauth.Revoke(r.Context(), realm, token, r.PostForm.Get("token_type_hint")); err != nil {
		s.logger.Error("revocation failed", "realm", realm.Name, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondOAuthError(w, &oauth.Error{Code: "invalid_token", Status: http.StatusUnauthorized})
		return
	}
	claims, oerr := s.oauth.Userinfo(r.Context(), realm, token)
	if oerr != nil {
		w.Header().Set("WWW-Authenticate", "Bearer error=\""+oerr.Code+"\"")
		respondOAuthError(w, oerr)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, claims)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		badForm(w, "malformed form body")
		return
	}
	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		badForm(w, "refresh_token is required")
		return
	}
	if oerr := s.oauth.Logout(r.Context(), realm, refreshToken); oerr != nil {
		respondOAuthError(w, oerr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	jwks, err := s.keys.JWKS(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to load keys")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, jwks)
}

// handleDiscovery serves the OIDC discovery document.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	issuer := s.oauth.Issuer(realm)
	base := issuer + "/protocol/openid-connect"

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"introspection_endpoint":                base + "/token/introspect",
		"userinfo_endpoint":                     base + "/userinfo",
		"revocation_endpoint":                   base + "/revoke",
		"end_session_endpoint":                  base + "/logout",
		"device_authorization_endpoint":         base + "/device/auth",
		"jwks_uri":                              base + "/certs",
		"grant_types_supported":                 []string{"password", "client_credentials", "refresh_token", "authorization_code", "urn:ietf:params:oauth:grant-type:device_code"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email", "roles", "offline_access"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
	})
}
