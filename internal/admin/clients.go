package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

// clientSecretBytes is the entropy of generated client secrets.
const clientSecretBytes = 32

// CreateClient persists the client. For confidential clients a secret is
// generated, stored argon2id-hashed and returned raw exactly once; it can
// never be read back, only regenerated.
func (s *Service) CreateClient(ctx context.Context, client *storage.Client) (secret string, err error) {
	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}

	if client.Type == storage.ClientConfidential {
		secret, err = crypto.GenerateSecret(clientSecretBytes)
		if err != nil {
			return "", err
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return "", fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.SecretHash = &hash
	} else {
		client.SecretHash = nil
	}

	if err := s.stores.Clients.Create(ctx, client); err != nil {
		return "", err
	}
	s.logger.Info("client created", "client_id", client.ClientID, "realm_id", client.RealmID)
	return secret, nil
}

// RegenerateClientSecret replaces the confidential client's secret.
func (s *Service) RegenerateClientSecret(ctx context.Context, id uuid.UUID) (string, error) {
	client, err := s.stores.Clients.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if client.Type != storage.ClientConfidential {
		return "", fmt.Errorf("client %s is public and has no secret", client.ClientID)
	}

	secret, err := crypto.GenerateSecret(clientSecretBytes)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	client.SecretHash = &hash
	if err := s.stores.Clients.Update(ctx, client); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Service) GetClient(ctx context.Context, realmID uuid.UUID, clientID string) (*storage.Client, error) {
	return s.stores.Clients.GetByClientID(ctx, realmID, clientID)
}

// UpdateClient applies configuration changes but never touches the secret
// hash; RegenerateClientSecret owns that.
func (s *Service) UpdateClient(ctx context.Context, client *storage.Client) error {
	current, err := s.stores.Clients.GetByID(ctx, client.ID)
	if err != nil {
		return err
	}
	client.SecretHash = current.SecretHash
	return s.stores.Clients.Update(ctx, client)
}

func (s *Service) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.stores.Clients.Delete(ctx, id)
}

func (s *Service) ListClients(ctx context.Context, realmID uuid.UUID) ([]*storage.Client, error) {
	return s.stores.Clients.ListByRealm(ctx, realmID)
}
