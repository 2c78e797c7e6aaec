package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	h := NewArgon2Hasher()

	hash, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$"), "unexpected PHC prefix: %s", hash)

	require.NoError(t, h.Compare(hash, "correct horse battery staple"))
	assert.Error(t, h.Compare(hash, "wrong password"))
}

func TestArgon2Hasher_UniqueSalt(t *testing.T) {
	h := NewArgon2Hasher()

	h1, err := h.Hash("password")
	require.NoError(t, err)
	h2, err := h.Hash("password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "two hashes of the same password must not share a salt")
}

func TestArgon2Hasher_MalformedHash(t *testing.T) {
	h := NewArgon2Hasher()

	cases := []string{
		"",
		"not a hash",
		"$bcrypt$whatever",
		"$argon2id$v=19$m=65536,t=3,p=4$salt-only",
		"$argon2id$v=18$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA",
	}
	for _, c := range cases {
		assert.ErrorIs(t, h.Compare(c, "pw"), ErrMalformedHash, "input %q", c)
	}
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.Len(t, s, 64) // hex doubles length

	s2, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.NotEqual(t, s, s2)
}

func TestSHA256Hex(t *testing.T) {
	// Fixed vector: sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		SHA256Hex("abc"))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("token-a", "token-a"))
	assert.False(t, SecureCompare("token-a", "token-b"))
	assert.False(t, SecureCompare("token-a", "token-a-longer"))
}
