package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veridianlabs/veridian/internal/storage"
)

func mapperOf(mtype string, config map[string]string) *storage.ProtocolMapper {
	return &storage.ProtocolMapper{MapperType: mtype, Config: config}
}

func testContext() MapperContext {
	email := "jane@example.com"
	first := "Jane"
	last := "Doe"
	return MapperContext{
		UserID:        "u-1",
		Username:      "jane",
		Email:         &email,
		EmailVerified: true,
		FirstName:     &first,
		LastName:      &last,
		RealmRoles:    []string{"admin", "user"},
		ResourceAccess: map[string]RoleAccess{
			"app": {Roles: []string{"editor"}},
		},
	}
}

func TestUserAttributeMapper(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-usermodel-attribute-mapper", map[string]string{"user.attribute": "email", "claim.name": "contact"}),
	}, testContext(), payload)

	assert.Equal(t, "jane@example.com", payload["contact"])
}

func TestUserAttributeMapper_MissingAttribute(t *testing.T) {
	mc := testContext()
	mc.Email = nil

	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-usermodel-attribute-mapper", map[string]string{"user.attribute": "email", "claim.name": "contact"}),
	}, mc, payload)

	_, ok := payload["contact"]
	assert.False(t, ok, "nil attribute must not produce a claim")
}

func TestHardcodedClaimMapper(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-hardcoded-claim-mapper", map[string]string{"claim.name": "tier", "claim.value": "gold"}),
		// Empty string is a valid value.
		mapperOf("oidc-hardcoded-claim-mapper", map[string]string{"claim.name": "empty", "claim.value": ""}),
		// Missing value key: skipped.
		mapperOf("oidc-hardcoded-claim-mapper", map[string]string{"claim.name": "orphan"}),
	}, testContext(), payload)

	assert.Equal(t, "gold", payload["tier"])
	assert.Equal(t, "", payload["empty"])
	_, ok := payload["orphan"]
	assert.False(t, ok)
}

func TestRoleListMapper(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-role-list-mapper", map[string]string{}),
	}, testContext(), payload)

	assert.Equal(t, RoleAccess{Roles: []string{"admin", "user"}}, payload["realm_access"])
	assert.Equal(t, map[string]RoleAccess{"app": {Roles: []string{"editor"}}}, payload["resource_access"])
}

func TestRoleListMapper_OtherClaimName(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-role-list-mapper", map[string]string{"claim.name": "custom_roles"}),
	}, testContext(), payload)

	assert.Empty(t, payload, "role-list mapper only handles realm_access")
}

func TestAudienceMapper_Promotion(t *testing.T) {
	mc := testContext()

	// Absent -> string.
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-audience-mapper", map[string]string{"included.client.audience": "api"}),
	}, mc, payload)
	assert.Equal(t, "api", payload["aud"])

	// String -> array with both.
	payload = map[string]any{"aud": "web"}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-audience-mapper", map[string]string{"included.client.audience": "api"}),
	}, mc, payload)
	assert.Equal(t, []string{"web", "api"}, payload["aud"])

	// Array -> appended.
	payload = map[string]any{"aud": []string{"web", "mobile"}}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-audience-mapper", map[string]string{"included.client.audience": "api"}),
	}, mc, payload)
	assert.Equal(t, []string{"web", "mobile", "api"}, payload["aud"])
}

func TestFullNameMapper(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-full-name-mapper", nil),
	}, testContext(), payload)
	assert.Equal(t, "Jane Doe", payload["name"])

	mc := testContext()
	mc.FirstName = nil
	payload = map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-full-name-mapper", nil),
	}, mc, payload)
	assert.Equal(t, "Doe", payload["name"])
}

func TestUnknownMapperIgnored(t *testing.T) {
	payload := map[string]any{"keep": true}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("saml-attribute-mapper", map[string]string{"anything": "x"}),
	}, testContext(), payload)
	assert.Equal(t, map[string]any{"keep": true}, payload)
}

func TestMappersRunInOrder(t *testing.T) {
	payload := map[string]any{}
	ApplyMappers([]*storage.ProtocolMapper{
		mapperOf("oidc-hardcoded-claim-mapper", map[string]string{"claim.name": "tier", "claim.value": "silver"}),
		mapperOf("oidc-hardcoded-claim-mapper", map[string]string{"claim.name": "tier", "claim.value": "gold"}),
	}, testContext(), payload)
	assert.Equal(t, "gold", payload["tier"], "later mappers override earlier ones")
}
