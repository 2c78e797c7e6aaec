package oidc

import (
	"github.com/veridianlabs/veridian/internal/storage"
)

// RoleAccess is the wire shape of realm_access and resource_access values.
type RoleAccess struct {
	Roles []string `json:"roles"`
}

// MapperContext carries the subject state mappers may read.
type MapperContext struct {
	UserID         string
	Username       string
	Email          *string
	EmailVerified  bool
	FirstName      *string
	LastName       *string
	RealmRoles     []string
	ResourceAccess map[string]RoleAccess
}

// mapperFunc mutates payload according to one mapper's config.
type mapperFunc func(config map[string]string, mc MapperContext, payload map[string]any)

// mapperRegistry dispatches by mapper type name. Unknown types are ignored.
var mapperRegistry = map[string]mapperFunc{
	"oidc-usermodel-attribute-mapper": applyUserAttribute,
	"oidc-hardcoded-claim-mapper":     applyHardcodedClaim,
	"oidc-role-list-mapper":           applyRoleList,
	"oidc-audience-mapper":            applyAudience,
	"oidc-full-name-mapper":           applyFullName,
}

// ApplyMappers runs the configured mappers in order against the payload.
// Mappers run after standard claim filtering so they may override or extend.
func ApplyMappers(mappers []*storage.ProtocolMapper, mc MapperContext, payload map[string]any) {
	for _, m := range mappers {
		fn, ok := mapperRegistry[m.MapperType]
		if !ok {
			continue
		}
		fn(m.Config, mc, payload)
	}
}

func applyUserAttribute(config map[string]string, mc MapperContext, payload map[string]any) {
	attr := config["user.attribute"]
	claim := config["claim.name"]
	if attr == "" || claim == "" {
		return
	}

	switch attr {
	case "id":
		payload[claim] = mc.UserID
	case "username":
		payload[claim] = mc.Username
	case "email":
		if mc.Email != nil {
			payload[claim] = *mc.Email
		}
	case "emailVerified":
		payload[claim] = mc.EmailVerified
	case "firstName":
		if mc.FirstName != nil {
			payload[claim] = *mc.FirstName
		}
	case "lastName":
		if mc.LastName != nil {
			payload[claim] = *mc.LastName
		}
	}
}

func applyHardcodedClaim(config map[string]string, _ MapperContext, payload map[string]any) {
	claim, hasName := config["claim.name"]
	value, hasValue := config["claim.value"]
	// Both keys required; an empty string value is valid.
	if !hasName || !hasValue || claim == "" {
		return
	}
	payload[claim] = value
}

func applyRoleList(config map[string]string, mc MapperContext, payload map[string]any) {
	if name, ok := config["claim.name"]; ok && name != "" && name != "realm_access" {
		return
	}
	payload["realm_access"] = RoleAccess{Roles: mc.RealmRoles}
	payload["resource_access"] = mc.ResourceAccess
}

func applyAudience(config map[string]string, _ MapperContext, payload map[string]any) {
	audience := config["included.client.audience"]
	if audience == "" {
		return
	}

	switch existing := payload["aud"].(type) {
	case nil:
		payload["aud"] = audience
	case string:
		payload["aud"] = []string{existing, audience}
	case []string:
		payload["aud"] = append(existing, audience)
	case []any:
		payload["aud"] = append(existing, audience)
	}
}

func applyFullName(_ map[string]string, mc MapperContext, payload map[string]any) {
	if name := FullName(mc.FirstName, mc.LastName); name != "" {
		payload["name"] = name
	}
}
