// Package api wires the HTTP surface: the OIDC protocol endpoints per realm,
// the account endpoints and the admin REST API. Handlers stay thin; every
// decision lives in the service packages.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	adminsvc "github.com/veridianlabs/veridian/internal/admin"
	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/broker"
	"github.com/veridianlabs/veridian/internal/config"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/oauth"
	"github.com/veridianlabs/veridian/internal/storage"
)

// Server owns the router and the service dependencies behind it.
type Server struct {
	Router *chi.Mux

	cfg    config.Config
	stores *storage.Stores
	keys   *keys.Service
	oauth  *oauth.Service
	broker *broker.Service
	admin  *adminsvc.Service
	mfa    *mfa.Service
	logger *slog.Logger
}

// Deps carries everything NewServer needs; main assembles it once.
type Deps struct {
	Config config.Config
	Stores *storage.Stores
	Keys   *keys.Service
	OAuth  *oauth.Service
	Broker *broker.Service
	Admin  *adminsvc.Service
	MFA    *mfa.Service
	Logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:    deps.Config,
		stores: deps.Stores,
		keys:   deps.Keys,
		oauth:  deps.OAuth,
		broker: deps.Broker,
		admin:  deps.Admin,
		mfa:    deps.MFA,
		logger: deps.Logger,
	}
	s.Router = s.routes()
	return s
}

// realm resolves the {realm} URL parameter; disabled and unknown realms are
// indistinguishable from the outside.
func (s *Server) realm(w http.ResponseWriter, r *http.Request) (*storage.Realm, bool) {
	name := chi.URLParam(r, "realm")
	realm, err := s.stores.Realms.GetByName(r.Context(), name)
	if err != nil || !realm.Enabled {
		helpers.RespondError(w, http.StatusNotFound, "realm not found")
		return nil, false
	}
	return realm, true
}

// respondOAuthError writes the RFC 6749 error body with the status the
// service chose.
func respondOAuthError(w http.ResponseWriter, oerr *oauth.Error) {
	helpers.RespondJSON(w, oerr.Status, oerr)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// notFoundToStatus maps storage lookup errors onto 404 vs 500.
func notFoundToStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
