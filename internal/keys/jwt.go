// Package keys implements RSA signing-key management and the JWT
// sign/verify primitives. Every realm owns its keys; tokens are RS256 only.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// verifyLeeway absorbs small clock skew between issuer and verifier.
const verifyLeeway = 30 * time.Second

// GenerateRSAKeyPair creates a 2048-bit keypair and returns the kid plus
// SPKI public and PKCS8 private PEM blocks.
func GenerateRSAKeyPair() (kid, publicPEM, privatePEM string, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate rsa key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return uuid.NewString(), publicPEM, privatePEM, nil
}

// ParsePrivateKey decodes a PKCS8 (or legacy PKCS1) PEM private key.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not of type *rsa.PrivateKey")
		}
		return priv, nil
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}

// ParsePublicKey decodes an SPKI PEM public key.
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not of type *rsa.PublicKey")
	}
	return pub, nil
}

// SignJWT signs an arbitrary payload as a compact RS256 JWT. It stamps iat,
// exp (iat + ttl) and a random jti, and sets the kid header for JWKS lookup.
func SignJWT(payload map[string]any, privatePEM, kid string, ttl time.Duration) (string, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	claims["jti"] = uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	token.Header["typ"] = "JWT"

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyJWT validates signature, exp, nbf and iat (with leeway) and returns
// the payload.
func VerifyJWT(compact, publicPEM string) (map[string]any, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(compact, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	}, jwt.WithLeeway(verifyLeeway), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ComputeAtHash implements the OIDC at_hash: SHA-256 over the ASCII access
// token, left half, base64url without padding.
func ComputeAtHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:sha256.Size/2])
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicKeyToJWK converts an SPKI PEM public key into a JWK for the JWKS
// endpoint.
func PublicKeyToJWK(publicPEM, kid string) (JWK, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return JWK{}, err
	}

	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())

	return JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		N:   n,
		E:   e,
		Alg: "RS256",
	}, nil
}
