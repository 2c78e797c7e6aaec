package keys

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

var ErrNoActiveSigningKey = errors.New("no active signing key for realm")

// cacheTTL bounds how long a stale active key can be served after rotation.
const cacheTTL = time.Minute

// Service resolves a realm's active signing key and exports its JWKS.
// Keys are read-only after creation, so a short per-realm cache is safe.
type Service struct {
	store storage.KeyStore

	mu    sync.Mutex
	cache map[uuid.UUID]cachedKey
}

type cachedKey struct {
	key       *storage.SigningKey
	fetchedAt time.Time
}

func NewService(store storage.KeyStore) *Service {
	return &Service{
		store: store,
		cache: make(map[uuid.UUID]cachedKey),
	}
}

// ActiveKey returns the most recently created active key for the realm.
func (s *Service) ActiveKey(ctx context.Context, realmID uuid.UUID) (*storage.SigningKey, error) {
	s.mu.Lock()
	if c, ok := s.cache[realmID]; ok && time.Since(c.fetchedAt) < cacheTTL {
		s.mu.Unlock()
		return c.key, nil
	}
	s.mu.Unlock()

	key, err := s.store.ActiveKey(ctx, realmID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveSigningKey
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[realmID] = cachedKey{key: key, fetchedAt: time.Now()}
	s.mu.Unlock()
	return key, nil
}

// Rotate generates a fresh keypair, persists it active and demotes the
// previous active key. Old keys stay available for verification.
func (s *Service) Rotate(ctx context.Context, realmID uuid.UUID) (*storage.SigningKey, error) {
	prev, err := s.store.ActiveKey(ctx, realmID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	kid, pubPEM, privPEM, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}
	key := &storage.SigningKey{
		RealmID:       realmID,
		Kid:           kid,
		Algorithm:     "RS256",
		PublicKeyPEM:  pubPEM,
		PrivateKeyPEM: privPEM,
		Active:        true,
	}
	if err := s.store.Create(ctx, key); err != nil {
		return nil, err
	}
	if prev != nil {
		if err := s.store.Deactivate(ctx, prev.ID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	delete(s.cache, realmID)
	s.mu.Unlock()
	return key, nil
}

// VerifyForRealm checks a compact JWT against the realm's keys, active key
// first so rotation never invalidates tokens signed by a demoted key.
func (s *Service) VerifyForRealm(ctx context.Context, realmID uuid.UUID, token string) (map[string]any, error) {
	active, err := s.ActiveKey(ctx, realmID)
	if err == nil {
		if payload, err := VerifyJWT(token, active.PublicKeyPEM); err == nil {
			return payload, nil
		}
	}

	all, err := s.store.ListByRealm(ctx, realmID)
	if err != nil {
		return nil, err
	}
	for _, k := range all {
		if active != nil && k.ID == active.ID {
			continue
		}
		if payload, err := VerifyJWT(token, k.PublicKeyPEM); err == nil {
			return payload, nil
		}
	}
	return nil, errors.New("token does not verify against any realm key")
}

// JWKS exports the active and recent inactive keys for the realm.
func (s *Service) JWKS(ctx context.Context, realmID uuid.UUID) (*JWKS, error) {
	all, err := s.store.ListByRealm(ctx, realmID)
	if err != nil {
		return nil, err
	}
	set := &JWKS{Keys: []JWK{}}
	for _, k := range all {
		jwk, err := PublicKeyToJWK(k.PublicKeyPEM, k.Kid)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}
