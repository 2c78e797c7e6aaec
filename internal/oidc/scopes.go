// Package oidc implements the scope table, standard-claim filtering and the
// protocol-mapper registry used when building tokens.
package oidc

import (
	"strings"

	"github.com/veridianlabs/veridian/internal/storage"
)

// scopeClaims is the static table of recognized scopes and the claim set
// each one grants. offline_access and web-origins carry behavior, not
// claims.
var scopeClaims = map[string][]string{
	"openid":         {"sub"},
	"profile":        {"preferred_username", "given_name", "family_name", "name"},
	"email":          {"email", "email_verified"},
	"roles":          {"realm_access", "resource_access"},
	"offline_access": {},
	"web-origins":    {},
}

const ScopeOfflineAccess = "offline_access"

// ParseAndValidate splits a space-separated scope string, drops unknown
// scopes and duplicates, and preserves request order.
func ParseAndValidate(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range strings.Fields(raw) {
		if _, known := scopeClaims[s]; !known || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ClaimsForScopes returns the union of claim names granted by the scopes.
func ClaimsForScopes(scopes []string) map[string]bool {
	allowed := map[string]bool{}
	for _, s := range scopes {
		for _, c := range scopeClaims[s] {
			allowed[c] = true
		}
	}
	return allowed
}

// HasOpenID reports whether the openid scope is present (ID token trigger).
func HasOpenID(scopes []string) bool {
	for _, s := range scopes {
		if s == "openid" {
			return true
		}
	}
	return false
}

// HasScope reports whether a specific scope is present.
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ToString joins scopes with single spaces.
func ToString(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ClientEffectiveScopes computes the scopes granted to a client: the union
// of its default scopes with the intersection of the requested scopes and
// its optional scopes. Default scopes come first, in configured order.
func ClientEffectiveScopes(client *storage.Client, requested []string) []string {
	optional := map[string]bool{}
	for _, s := range client.OptionalScopes {
		optional[s] = true
	}

	seen := map[string]bool{}
	var out []string
	for _, s := range client.DefaultScopes {
		if _, known := scopeClaims[s]; !known || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range requested {
		if !optional[s] || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
