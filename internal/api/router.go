package api

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/veridianlabs/veridian/internal/api/middleware"
)

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Sentry sits before panic recovery so it sees the panics.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	limiter := customMiddleware.NewIPRateLimiter(s.cfg.ThrottleTTL, s.cfg.ThrottleLimit)
	r.Use(limiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/realms/{realm}", func(r chi.Router) {
		r.Get("/.well-known/openid-configuration", s.handleDiscovery)

		r.Route("/protocol/openid-connect", func(r chi.Router) {
			r.Post("/token", s.handleToken)
			r.Post("/token/introspect", s.handleIntrospect)
			r.Post("/revoke", s.handleRevoke)
			r.Get("/userinfo", s.handleUserinfo)
			r.Post("/userinfo", s.handleUserinfo)
			r.Post("/logout", s.handleLogout)
			r.Get("/certs", s.handleCerts)
			r.Get("/auth", s.handleAuthorize)
			r.Post("/device/auth", s.handleDeviceAuth)
		})

		r.Post("/login-actions/authenticate", s.handleBrowserLogin)
		r.Post("/device/verify", s.handleDeviceVerify)

		r.Get("/broker/{alias}/login", s.handleBrokerLogin)
		r.Get("/broker/{alias}/callback", s.handleBrokerCallback)

		// Account endpoints are gated by a bearer access token.
		r.Route("/account", func(r chi.Router) {
			r.Post("/mfa/enroll", s.handleMFAEnroll)
			r.Post("/mfa/activate", s.handleMFAActivate)
			r.Get("/sessions", s.handleAccountSessions)
			r.Delete("/sessions/{id}", s.handleAccountSessionRevoke)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(customMiddleware.AdminAPIKey(s.cfg.AdminAPIKey))

		r.Get("/realms", s.handleAdminListRealms)
		r.Post("/realms", s.handleAdminCreateRealm)

		r.Route("/realms/{realm}", func(r chi.Router) {
			r.Get("/", s.handleAdminGetRealm)
			r.Put("/", s.handleAdminUpdateRealm)
			r.Delete("/", s.handleAdminDeleteRealm)
			r.Post("/keys/rotate", s.handleAdminRotateKey)

			r.Get("/clients", s.handleAdminListClients)
			r.Post("/clients", s.handleAdminCreateClient)
			r.Put("/clients/{id}", s.handleAdminUpdateClient)
			r.Delete("/clients/{id}", s.handleAdminDeleteClient)
			r.Post("/clients/{id}/secret", s.handleAdminRegenerateSecret)

			r.Get("/users", s.handleAdminListUsers)
			r.Post("/users", s.handleAdminCreateUser)
			r.Get("/users/{username}", s.handleAdminGetUser)
			r.Put("/users/{username}", s.handleAdminUpdateUser)
			r.Delete("/users/{username}", s.handleAdminDeleteUser)
			r.Put("/users/{username}/password", s.handleAdminSetPassword)
			r.Post("/users/{username}/unlock", s.handleAdminUnlockUser)
			r.Get("/users/{username}/sessions", s.handleAdminUserSessions)
			r.Post("/users/{username}/roles/{roleID}", s.handleAdminAssignRole)
			r.Delete("/users/{username}/roles/{roleID}", s.handleAdminRemoveRole)
			r.Post("/users/{username}/groups/{groupID}", s.handleAdminAddToGroup)
			r.Delete("/users/{username}/groups/{groupID}", s.handleAdminRemoveFromGroup)

			r.Delete("/sessions/{id}", s.handleAdminRevokeSession)

			r.Get("/roles", s.handleAdminListRoles)
			r.Post("/roles", s.handleAdminCreateRole)
			r.Delete("/roles/{id}", s.handleAdminDeleteRole)

			r.Get("/groups", s.handleAdminListGroups)
			r.Post("/groups", s.handleAdminCreateGroup)
			r.Delete("/groups/{id}", s.handleAdminDeleteGroup)
			r.Post("/groups/{groupID}/roles/{roleID}", s.handleAdminAssignGroupRole)

			r.Get("/identity-providers", s.handleAdminListIdPs)
			r.Post("/identity-providers", s.handleAdminCreateIdP)
			r.Put("/identity-providers/{id}", s.handleAdminUpdateIdP)
			r.Delete("/identity-providers/{id}", s.handleAdminDeleteIdP)

			r.Get("/mappers", s.handleAdminListMappers)
			r.Post("/mappers", s.handleAdminCreateMapper)
			r.Delete("/mappers/{id}", s.handleAdminDeleteMapper)
		})
	})

	return r
}
