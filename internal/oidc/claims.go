package oidc

import (
	"strings"

	"github.com/veridianlabs/veridian/internal/storage"
)

// ResolveUserClaims maps a user record onto the standard claims whose names
// appear in allowed. Missing attributes are omitted, never emitted as null.
func ResolveUserClaims(u *storage.User, allowed map[string]bool) map[string]any {
	claims := map[string]any{}

	if allowed["sub"] {
		claims["sub"] = u.ID.String()
	}
	if allowed["preferred_username"] {
		claims["preferred_username"] = u.Username
	}
	if allowed["email"] && u.Email != nil {
		claims["email"] = *u.Email
	}
	if allowed["email_verified"] {
		claims["email_verified"] = u.EmailVerified
	}
	if allowed["given_name"] && u.FirstName != nil {
		claims["given_name"] = *u.FirstName
	}
	if allowed["family_name"] && u.LastName != nil {
		claims["family_name"] = *u.LastName
	}
	if allowed["name"] {
		if name := FullName(u.FirstName, u.LastName); name != "" {
			claims["name"] = name
		}
	}
	return claims
}

// FullName joins first and last name, falling back to whichever is present.
func FullName(first, last *string) string {
	var parts []string
	if first != nil && *first != "" {
		parts = append(parts, *first)
	}
	if last != nil && *last != "" {
		parts = append(parts, *last)
	}
	return strings.Join(parts, " ")
}
