package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/broker"
	"github.com/veridianlabs/veridian/internal/oauth"
)

// handleBrokerLogin starts a federated login by redirecting the browser to
// the external provider.
func (s *Server) handleBrokerLogin(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	authorizeURL, err := s.broker.InitiateLogin(r.Context(), realm, chi.URLParam(r, "alias"), broker.LoginParams{
		ClientID:    q.Get("client_id"),
		RedirectURI: q.Get("redirect_uri"),
		Scope:       q.Get("scope"),
		State:       q.Get("state"),
		Nonce:       q.Get("nonce"),
	})
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// handleBrokerCallback finishes a federated login: the external code is
// exchanged, the identity fused, and the browser sent back to the original
// client with a local authorization code.
func (s *Server) handleBrokerCallback(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	result, err := s.broker.HandleCallback(r.Context(), realm, chi.URLParam(r, "alias"), q.Get("code"), q.Get("state"))
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrLinkOnly):
			helpers.RespondError(w, http.StatusForbidden, "no linked local account")
		case errors.Is(err, broker.ErrInvalidState):
			helpers.RespondError(w, http.StatusBadRequest, "invalid broker state")
		case errors.Is(err, broker.ErrExchange), errors.Is(err, broker.ErrProviderError):
			helpers.RespondError(w, http.StatusBadGateway, "identity provider error")
		default:
			s.logger.Error("broker callback failed", "realm", realm.Name, "error", err)
			helpers.RespondError(w, http.StatusInternalServerError, "federated login failed")
		}
		return
	}

	client, err := s.stores.Clients.GetByClientID(r.Context(), realm.ID, result.Params.ClientID)
	if err != nil || !client.Enabled {
		helpers.RespondError(w, http.StatusBadRequest, "unknown client")
		return
	}

	code, err := s.oauth.IssueAuthorizationCode(r.Context(), realm, oauth.AuthCodeRequest{
		Client:      client,
		UserID:      result.User.ID,
		RedirectURI: result.Params.RedirectURI,
		Scope:       result.Params.Scope,
		Nonce:       result.Params.Nonce,
	})
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	redirect, err := url.Parse(result.Params.RedirectURI)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid redirect URI")
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if result.Params.State != "" {
		params.Set("state", result.Params.State)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}
