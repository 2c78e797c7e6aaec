package oauth

import "net/http"

// Error is the RFC 6749 error shape returned by the token endpoint family.
// Status is chosen at construction so the HTTP layer stays a dumb mapper.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func invalidRequest(desc string) *Error {
	return &Error{Code: "invalid_request", Description: desc, Status: http.StatusBadRequest}
}

func invalidClient(desc string) *Error {
	return &Error{Code: "invalid_client", Description: desc, Status: http.StatusUnauthorized}
}

func invalidGrant(desc string) *Error {
	return &Error{Code: "invalid_grant", Description: desc, Status: http.StatusBadRequest}
}

func invalidToken(desc string) *Error {
	return &Error{Code: "invalid_token", Description: desc, Status: http.StatusUnauthorized}
}

func unauthorizedClient(desc string) *Error {
	return &Error{Code: "unauthorized_client", Description: desc, Status: http.StatusBadRequest}
}

func unsupportedGrantType() *Error {
	return &Error{Code: "unsupported_grant_type", Description: "unknown grant type", Status: http.StatusBadRequest}
}

func accessDenied(desc string) *Error {
	return &Error{Code: "access_denied", Description: desc, Status: http.StatusBadRequest}
}

func serverError(desc string) *Error {
	return &Error{Code: "server_error", Description: desc, Status: http.StatusInternalServerError}
}

// Device-flow polling signals.
var (
	errSlowDown             = &Error{Code: "slow_down", Status: http.StatusBadRequest}
	errAuthorizationPending = &Error{Code: "authorization_pending", Status: http.StatusBadRequest}
	errExpiredToken         = &Error{Code: "expired_token", Status: http.StatusBadRequest}
)
