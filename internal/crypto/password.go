// Package crypto provides the password hashing and secret generation
// primitives used across the server. Passwords and confidential client
// secrets are hashed with Argon2id; opaque tokens are only ever persisted
// as SHA-256 hashes.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Fixed; changing them invalidates no stored hash
// because the parameters are encoded in the PHC string.
const (
	argonMemory      = 64 * 1024 // KiB
	argonTime        = 3
	argonParallelism = 4
	argonSaltLen     = 16
	argonKeyLen      = 32
)

var ErrMalformedHash = errors.New("malformed argon2id hash")

// PasswordHasher defines the contract for password operations.
// This interface allows us to mock hashing in tests or swap algorithms.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Argon2Hasher implements PasswordHasher using Argon2id.
type Argon2Hasher struct{}

func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{}
}

// Hash returns a PHC-format argon2id string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt-b64>$<hash-b64>
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonParallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare checks the password against a PHC-format hash in constant time.
// Returns nil on match, ErrMalformedHash when the stored string cannot be
// parsed, and a generic mismatch error otherwise.
func (h *Argon2Hasher) Compare(hash, password string) error {
	params, salt, key, err := decodeHash(hash)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(key, candidate) != 1 {
		return errors.New("password mismatch")
	}
	return nil
}

type argonParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func decodeHash(hash string) (argonParams, []byte, []byte, error) {
	var p argonParams

	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrMalformedHash
	}

	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &par); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	p.parallelism = uint8(par)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}

	return p, salt, key, nil
}
