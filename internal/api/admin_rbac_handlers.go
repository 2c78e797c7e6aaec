package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/storage"
)

// --- Roles ---

type rolePayload struct {
	ID          *uuid.UUID `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ClientID    *uuid.UUID `json:"client_id,omitempty"`
}

func (s *Server) handleAdminListRoles(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	roles, err := s.admin.ListRoles(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list roles")
		return
	}
	out := make([]rolePayload, 0, len(roles))
	for _, role := range roles {
		out = append(out, rolePayload{
			ID:          &role.ID,
			Name:        role.Name,
			Description: role.Description,
			ClientID:    role.ClientID,
		})
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateRole(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p rolePayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	role := &storage.Role{
		RealmID:     realm.ID,
		ClientID:    p.ClientID,
		Name:        p.Name,
		Description: p.Description,
	}
	if err := s.admin.CreateRole(r.Context(), role); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			helpers.RespondError(w, http.StatusConflict, "role already exists")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "role creation failed")
		return
	}
	p.ID = &role.ID
	helpers.RespondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdminDeleteRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteRole(r.Context(), id); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "role deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminAssignRole(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	roleID, ok := pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	if err := s.admin.AssignRoleToUser(r.Context(), user.ID, roleID); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "role assignment failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRemoveRole(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	roleID, ok := pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	if err := s.admin.RemoveRoleFromUser(r.Context(), user.ID, roleID); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "role removal failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Groups ---

type groupPayload struct {
	ID       *uuid.UUID `json:"id,omitempty"`
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

func (s *Server) handleAdminListGroups(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	groups, err := s.admin.ListGroups(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	out := make([]groupPayload, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupPayload{ID: &g.ID, Name: g.Name, ParentID: g.ParentID})
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateGroup(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p groupPayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	group := &storage.Group{
		RealmID:  realm.ID,
		ParentID: p.ParentID,
		Name:     p.Name,
	}
	if err := s.admin.CreateGroup(r.Context(), group); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "group creation failed")
		return
	}
	p.ID = &group.ID
	helpers.RespondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdminDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteGroup(r.Context(), id); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "group deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminAssignGroupRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	groupID, ok := pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	roleID, ok := pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	if err := s.admin.AssignRoleToGroup(r.Context(), groupID, roleID); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "role assignment failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminAddToGroup(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	groupID, ok := pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	if err := s.admin.AddUserToGroup(r.Context(), user.ID, groupID); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "group membership failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	user, ok := s.adminUser(w, r, realm)
	if !ok {
		return
	}
	groupID, ok := pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	if err := s.admin.RemoveUserFromGroup(r.Context(), user.ID, groupID); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "group removal failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Identity providers ---

type idpPayload struct {
	ID               *uuid.UUID `json:"id,omitempty"`
	Alias            string     `json:"alias"`
	Enabled          bool       `json:"enabled"`
	ClientID         string     `json:"client_id"`
	ClientSecret     string     `json:"client_secret,omitempty"`
	AuthorizationURL string     `json:"authorization_url"`
	TokenURL         string     `json:"token_url"`
	UserinfoURL      string     `json:"userinfo_url"`
	DefaultScopes    string     `json:"default_scopes"`
	TrustEmail       bool       `json:"trust_email"`
	LinkOnly         bool       `json:"link_only"`
	SyncUserProfile  bool       `json:"sync_user_profile"`
}

func (p *idpPayload) apply(realm *storage.Realm, idp *storage.IdentityProvider) {
	idp.RealmID = realm.ID
	idp.Alias = p.Alias
	idp.Enabled = p.Enabled
	idp.ClientID = p.ClientID
	if p.ClientSecret != "" {
		idp.ClientSecret = p.ClientSecret
	}
	idp.AuthorizationURL = p.AuthorizationURL
	idp.TokenURL = p.TokenURL
	idp.UserinfoURL = p.UserinfoURL
	idp.DefaultScopes = p.DefaultScopes
	idp.TrustEmail = p.TrustEmail
	idp.LinkOnly = p.LinkOnly
	idp.SyncUserProfile = p.SyncUserProfile
}

// idpToPayload never echoes the client secret back.
func idpToPayload(idp *storage.IdentityProvider) idpPayload {
	return idpPayload{
		ID:               &idp.ID,
		Alias:            idp.Alias,
		Enabled:          idp.Enabled,
		ClientID:         idp.ClientID,
		AuthorizationURL: idp.AuthorizationURL,
		TokenURL:         idp.TokenURL,
		UserinfoURL:      idp.UserinfoURL,
		DefaultScopes:    idp.DefaultScopes,
		TrustEmail:       idp.TrustEmail,
		LinkOnly:         idp.LinkOnly,
		SyncUserProfile:  idp.SyncUserProfile,
	}
}

func (s *Server) handleAdminListIdPs(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	idps, err := s.admin.ListIdentityProviders(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list identity providers")
		return
	}
	out := make([]idpPayload, 0, len(idps))
	for _, idp := range idps {
		out = append(out, idpToPayload(idp))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateIdP(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p idpPayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.Alias == "" {
		helpers.RespondError(w, http.StatusBadRequest, "alias is required")
		return
	}
	idp := &storage.IdentityProvider{}
	p.apply(realm, idp)

	if err := s.admin.CreateIdentityProvider(r.Context(), idp); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			helpers.RespondError(w, http.StatusConflict, "identity provider already exists")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "identity provider creation failed")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, idpToPayload(idp))
}

func (s *Server) handleAdminUpdateIdP(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var p idpPayload
	if err := helpers.DecodeJSON(r, &p); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	idp := &storage.IdentityProvider{ID: id}
	p.apply(realm, idp)

	if err := s.admin.UpdateIdentityProvider(r.Context(), idp); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "identity provider update failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, idpToPayload(idp))
}

func (s *Server) handleAdminDeleteIdP(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteIdentityProvider(r.Context(), id); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "identity provider deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Protocol mappers ---

type mapperPayload struct {
	ID         *uuid.UUID        `json:"id,omitempty"`
	Scope      string            `json:"scope"`
	Name       string            `json:"name"`
	MapperType string            `json:"mapper_type"`
	Config     map[string]string `json:"config"`
}

func (s *Server) handleAdminListMappers(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	mappers, err := s.admin.ListMappers(r.Context(), realm.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list mappers")
		return
	}
	out := make([]mapperPayload, 0, len(mappers))
	for _, m := range mappers {
		out = append(out, mapperPayload{
			ID:         &m.ID,
			Scope:      m.Scope,
			Name:       m.Name,
			MapperType: m.MapperType,
			Config:     m.Config,
		})
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateMapper(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.adminRealm(w, r)
	if !ok {
		return
	}
	var p mapperPayload
	if err := helpers.DecodeJSON(r, &p); err != nil || p.Scope == "" || p.MapperType == "" {
		helpers.RespondError(w, http.StatusBadRequest, "scope and mapper_type are required")
		return
	}
	m := &storage.ProtocolMapper{
		RealmID:    realm.ID,
		Scope:      p.Scope,
		Name:       p.Name,
		MapperType: p.MapperType,
		Config:     p.Config,
	}
	if err := s.admin.CreateMapper(r.Context(), m); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "mapper creation failed")
		return
	}
	p.ID = &m.ID
	helpers.RespondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdminDeleteMapper(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminRealm(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteMapper(r.Context(), id); err != nil {
		helpers.RespondError(w, notFoundToStatus(err), "mapper deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
