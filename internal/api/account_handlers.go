package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/api/helpers"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/storage"
)

// accountUser authenticates the account request via its bearer access token.
func (s *Server) accountUser(w http.ResponseWriter, r *http.Request, realm *storage.Realm) (*storage.User, bool) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		helpers.RespondError(w, http.StatusUnauthorized, "bearer token required")
		return nil, false
	}
	user, oerr := s.oauth.AuthenticateBearer(r.Context(), realm, token)
	if oerr != nil {
		respondOAuthError(w, oerr)
		return nil, false
	}
	return user, true
}

func (s *Server) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	user, ok := s.accountUser(w, r, realm)
	if !ok {
		return
	}

	enrollment, err := s.mfa.EnrollTOTP(r.Context(), realm, user)
	if err != nil {
		s.logger.Error("mfa enrollment failed", "user_id", user.ID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, enrollment)
}

type mfaActivateRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleMFAActivate(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	user, ok := s.accountUser(w, r, realm)
	if !ok {
		return
	}

	var req mfaActivateRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Code == "" {
		helpers.RespondError(w, http.StatusBadRequest, "code is required")
		return
	}

	recoveryCodes, err := s.mfa.Activate(r.Context(), user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, mfa.ErrNotEnrolled):
			helpers.RespondError(w, http.StatusBadRequest, "no pending enrollment")
		case errors.Is(err, mfa.ErrInvalidCode):
			helpers.RespondError(w, http.StatusBadRequest, "invalid code")
		default:
			helpers.RespondError(w, http.StatusInternalServerError, "activation failed")
		}
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"recovery_codes": recoveryCodes,
	})
}

type sessionInfo struct {
	ID        uuid.UUID `json:"id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt string    `json:"created_at"`
	ExpiresAt string    `json:"expires_at"`
}

func sessionInfos(sessions []*storage.Session) []sessionInfo {
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo{
			ID:        sess.ID,
			IPAddress: sess.IPAddress,
			UserAgent: sess.UserAgent,
			CreatedAt: sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ExpiresAt: sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}

func (s *Server) handleAccountSessions(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	user, ok := s.accountUser(w, r, realm)
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

func (s *Server) handleAccountSessionRevoke(w http.ResponseWriter, r *http.Request) {
	realm, ok := s.realm(w, r)
	if !ok {
		return
	}
	user, ok := s.accountUser(w, r, realm)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.stores.Sessions.GetByID(r.Context(), sessionID)
	if err != nil || session.UserID != user.ID {
		// Foreign sessions are indistinguishable from missing ones.
		helpers.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.oauth.RevokeSession(r.Context(), realm, session); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
