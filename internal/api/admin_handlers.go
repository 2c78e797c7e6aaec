package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	adminsvc "github.com/veridianlabs/veridian/internal/admin"
	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/storage"
)

// adminRealm resolves {realm} without the Enabled gate; the admin API must
// be able to manage disabled realms.
func (s *Server) adminRealm(w http.ResponseWriter, r *http.Request) (*storage.Realm, bool) {
	realm, err := s.stores.Realms.GetByName(r.Context(), chi.URLParam(r, "realm"))
	if err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "realm not found")
		return nil, false
	}
	return realm, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// --- Realms ---

type realmPayload struct {
	ID                    *uuid.UUID `json:"id,omitempty"`
	Name                  string     `json:"name"`
	DisplayName           string     `json:"display_name"`
	Enabled               bool       `json:"enabled"`
	AccessTokenLifespan   int        `json:"access_token_lifespan"`
	RefreshTokenLifespan  int        `json:"refresh_token_lifespan"`
	OfflineTokenLifespan  int        `json:"offline_token_lifespan"`
	PasswordMinLength     int        `json:"password_min_length"`
	RequireUppercase      bool       `json:"require_uppercase"`
	RequireLowercase      bool       `json:"require_lowercase"`
	RequireDigits         bool       `json:"require_digits"`
	RequireSpecial        bool       `json:"require_special"`
	PasswordHistoryCount  int        `json:"password_history_count"`
	PasswordMaxAgeDays    int        `json:"password_max_age_days"`
	BruteForceEnabled     bool       `json:"brute_force_enabled"`
	MaxLoginFailures      int        `json:"max_login_failures"`
	LockoutDuration       int        `json:"lockout_duration"`
	FailureResetTime      int        `json:"failure_reset_time"`
	PermanentLockoutAfter int        `json:"permanent_lockout_after"`
	MFARequired           bool       `json:"mfa_required"`
}

func (p *realmPayload) apply(realm *storage.Realm) {
	realm.Name = p.Name
	realm.DisplayName = p.DisplayName
	realm.Enabled = p.Enabled
	realm.AccessTokenLifespan = p.AccessTokenLifespan
	realm.RefreshTokenLifespan = p.RefreshTokenLifespan
	realm.OfflineTokenLifespan = p.OfflineTokenLifespan
	realm.PasswordMinLength = p.PasswordMinLength
	realm.RequireUppercase = p.RequireUppercase
	realm.RequireLowercase = p.RequireLowercase
	realm.RequireDigits = p.RequireDigits
	realm.RequireSpecial = p.RequireSpecial
	realm.PasswordHistoryCount = p.PasswordHistoryCount
	realm.PasswordMaxAgeDays = p.PasswordMaxAgeDays
	realm.BruteForceEnabled = p.BruteForceEnabled
	realm.MaxLoginFailures = p.MaxLoginFailures
	realm.LockoutDuration = p.LockoutDuration
	realm.FailureResetTime = p.FailureResetTime
	realm.PermanentLockoutAfter = p.PermanentLockoutAfter
	realm.MFARequired = p.MFARequired
}

func realmToPayload(realm *storage.Realm) realmPayload {
	return realmPayload{
		ID:                    &realm.ID,
		Name:                  realm.Name,
		DisplayName:           realm.DisplayName,
		Enabled:               realm.Enabled,
		AccessTokenLifespan:   realm.AccessTokenLifespan,
		RefreshTokenLifespan:  realm.RefreshTokenLifespan,
		OfflineTokenLifespan:  realm.OfflineTokenLifespan,
		PasswordMinLength:     realm.PasswordMinLength,
		RequireUppercase:      realm.RequireUppercase,
		RequireLowercase:      realm.RequireLowercase,
		RequireDigits:         realm.RequireDigits,
		RequireSpecial:        realm.RequireSpecial,
		PasswordHistoryCount:  realm.PasswordHistoryCount,
		PasswordMaxAgeDays:    realm.PasswordMaxAgeDays,
		BruteForceEnabled:     realm.BruteForceEnabled,
		MaxLoginFailures:      realm.MaxLoginFailures,
		LockoutDuration:       realm.LockoutDuration,
		FailureResetTime:      realm.FailureResetTime,
		PermanentLockoutAfter: realm.PermanentLockoutAfter,
		MFARequired:           realm.MFARequired,
	}
}

func (s *Server) handleAdminListRealms(w http.ResponseWriter, r *http.Request) {
	realms, err := s.admin.ListRealms(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list realms")
		return
	}
	out := make([]realmPayload, 0, len(realms))
	for _, realm := range realms {
		out = append(out, realmToPayload(realm))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateRealm(w http.ResponseWriter, r *http.Request) {
	var p realmPayload
	if err := helpers.DecodeJSON(r, &p); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	realm := &storage.Realm{}
	p.apply(realm)

	if err := s.admin.CreateRealm(r.Context(), realm); err != nil {
		switch {
		case errors.Is(err, adminsvc.ErrRealmNameInvalid):
			helpers.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrConflict):
			helpers.RespondError(w, http.StatusConflict, "realm already exists")
		default:
			s.logger.Error("realm creation failed", "error", err)
			helpers.RespondError(w, http.StatusInternalServerError, "realm creation failed")
		}
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, realmToPayload(realm))
}

func (s *Server) handleAdminGetRealm(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	helpers.RespondJSON(w, http.StatusOK, realmToPayload(realm))
}

func (s *Server) handleAdminUpdateRealm(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p realmPayload
	if err := helpers.DecodeJSON(r, &p); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Name == "" {
		p.Name = realm.Name
	}
	p.apply(realm)

	if err := s.admin.UpdateRealm(r.Context(), realm); err != nil {
		if errors.Is(err, adminsvc.ErrRealmNameInvalid) {
			helpers.RespondError(w, http.StatusBadRequest, "realm name is immutable")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "realm update failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, realmToPayload(realm))
}

func (s *Server) handleAdminDeleteRealm(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	if err := s.admin.DeleteRealm(r.Context(), realm.ID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "realm deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRotateKey(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	key, err := s.admin.RotateRealmKey(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "key rotation failed")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]string{"kid": key.Kid})
}

// --- Clients ---

type clientPayload struct {
	ID                               *uuid.UUID `json:"id,omitempty"`
	ClientID                         string     `json:"client_id"`
	Type                             string     `json:"type"`
	Enabled                          bool       `json:"enabled"`
	GrantTypes                       []string   `json:"grant_types"`
	RedirectURIs                     []string   `json:"redirect_uris"`
	WebOrigins                       []string   `json:"web_origins"`
	DefaultScopes                    []string   `json:"default_scopes"`
	OptionalScopes                   []string   `json:"optional_scopes"`
	ServiceAccountUserID             *uuid.UUID `json:"service_account_user_id,omitempty"`
	BackchannelLogoutURI             *string    `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired bool       `json:"backchannel_logout_session_required"`
}

func (p *clientPayload) apply(realm *storage.Realm, client *storage.Client) {
	client.RealmID = realm.ID
	client.ClientID = p.ClientID
	client.Type = storage.ClientType(p.Type)
	client.Enabled = p.Enabled
	client.GrantTypes = p.GrantTypes
	client.RedirectURIs = p.RedirectURIs
	client.WebOrigins = p.WebOrigins
	client.DefaultScopes = p.DefaultScopes
	client.OptionalScopes = p.OptionalScopes
	client.ServiceAccountUserID = p.ServiceAccountUserID
	client.BackchannelLogoutURI = p.BackchannelLogoutURI
	client.BackchannelLogoutSessionRequired = p.BackchannelLogoutSessionRequired
}

func clientToPayload(client *storage.Client) clientPayload {
	return clientPayload{
		ID:                               &client.ID,
		ClientID:                         client.ClientID,
		Type:                             string(client.Type),
		Enabled:                          client.Enabled,
		GrantTypes:                       client.GrantTypes,
		RedirectURIs:                     client.RedirectURIs,
		WebOrigins:                       client.WebOrigins,
		DefaultScopes:                    client.DefaultScopes,
		OptionalScopes:                   client.OptionalScopes,
		ServiceAccountUserID:             client.ServiceAccountUserID,
		BackchannelLogoutURI:             client.BackchannelLogoutURI,
		BackchannelLogoutSessionRequired: client.BackchannelLogoutSessionRequired,
	}
}

func (s *Server) handleAdminListClients(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	clients, err := s.admin.ListClients(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list clients")
		return
	}
	out := make([]clientPayload, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientToPayload(c))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateClient(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p clientPayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.ClientID == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	client := &storage.Client{}
	p.apply(realm, client)

	secret, err := s.admin.CreateClient(r.Context(), client)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			helpers.RespondError(w, http.StatusConflict, "client already exists")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "client creation failed")
		return
	}

	// The raw secret appears exactly once, in this response.
	resp := map[string]any{"client": clientToPayload(client)}
	if secret != "" {
		resp["secret"] = secret
	}
	helpers.RespondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleAdminUpdateClient(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var p clientPayload
	if err := helpers.DecodeJSON(r, &p); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	client := &storage.Client{ID: id}
	p.apply(realm, client)

	if err := s.admin.UpdateClient(r.Context(), client); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "client update failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, clientToPayload(client))
}

func (s *Server) handleAdminDeleteClient(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteClient(r.Context(), id); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "client deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	secret, err := s.admin.RegenerateClientSecret(r.Context(), id)
	if err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "secret regeneration failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// --- Users ---

type userPayload struct {
	ID            *uuid.UUID `json:"id,omitempty"`
	Username      string     `json:"username"`
	Email         *string    `json:"email,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	FirstName     *string    `json:"first_name,omitempty"`
	LastName      *string    `json:"last_name,omitempty"`
	Enabled       bool       `json:"enabled"`
	Password      string     `json:"password,omitempty"`
}

func (p *userPayload) apply(user *storage.User) {
	user.Username = p.Username
	user.Email = p.Email
	user.EmailVerified = p.EmailVerified
	user.FirstName = p.FirstName
	user.LastName = p.LastName
	user.Enabled = p.Enabled
}

func userToPayload(user *storage.User) userPayload {
	return userPayload{
		ID:            &user.ID,
		Username:      user.Username,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Enabled:       user.Enabled,
	}
}

// adminUser resolves the {username} parameter within the realm.
func (s *Server) adminUser(w http.ResponseWriter, r *http.Request, realm *storage.Realm) (*storage.User, bool) {
	user, err := s.admin.GetUser(r.Context(), realm.ID, chi.URLParam(r, "username"))
	if err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "user not found")
		return nil, false
	}
	return user, true
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	users, err := s.admin.ListUsers(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	out := make([]userPayload, 0, len(users))
	for _, u := range users {
		out = append(out, userToPayload(u))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p userPayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.Username == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user := &storage.User{}
	p.apply(user)

	if err := s.admin.CreateUser(r.Context(), realm, user, p.Password); err != nil {
		switch {
		case errors.Is(err, adminsvc.ErrPasswordPolicy):
			helpers.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrConflict):
			helpers.RespondError(w, http.StatusConflict, "user already exists")
		default:
			helpers.RespondError(w, http.StatusInternalServerError, "user creation failed")
		}
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, userToPayload(user))
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	helpers.RespondJSON(w, http.StatusOK, userToPayload(user))
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	var p userPayload
	if err := helpers.DecodeJSON(r, &p); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Username == "" {
		p.Username = user.Username
	}
	p.apply(user)

	if err := s.admin.UpdateUser(r.Context(), user); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "user update failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, userToPayload(user))
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	if err := s.admin.DeleteUser(r.Context(), user.ID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "user deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminSetPassword(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := s.admin.SetPassword(r.Context(), realm, user, req.Password); err != nil {
		switch {
		case errors.Is(err, adminsvc.ErrPasswordPolicy):
			helpers.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, adminsvc.ErrPasswordReused):
			helpers.RespondError(w, http.StatusConflict, err.Error())
		default:
			helpers.RespondError(w, http.StatusInternalServerError, "password update failed")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminUnlockUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	if err := s.admin.UnlockUser(r.Context(), user.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		helpers.RespondError(w, http.StatusInternalServerError, "unlock failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminUserSessions(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	sessions, err := s.oauth.ListUserSessions(r.Context(), user.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, sessionInfos(sessions))
}

func (s *Server) handleAdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := s.stores.Sessions.GetByID(r.Context(), id)
	if err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "session not found")
		return
	}
	if err := s.oauth.RevokeSession(r.Context(), realm, session); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
