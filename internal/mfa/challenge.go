package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	challengeType     = "mfa_challenge"
	challengeTTL      = 5 * time.Minute
	challengeAttempts = 5
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found or expired")
	ErrChallengeLocked   = errors.New("mfa challenge attempt limit exceeded")
)

// Challenge is the decoded state of a pending MFA login. OAuthParams carries
// the original token-request parameters so issuance can resume after the
// second factor succeeds.
type Challenge struct {
	recordID    uuid.UUID
	UserID      uuid.UUID         `json:"userId"`
	RealmID     uuid.UUID         `json:"realmId"`
	OAuthParams map[string]string `json:"oauthParams"`
	Attempts    int               `json:"attempts"`
}

// CreateChallenge mints an opaque challenge token. Only its SHA-256 hash is
// stored; the plaintext goes back to the client as mfa_token.
func (s *Service) CreateChallenge(ctx context.Context, userID, realmID uuid.UUID, oauthParams map[string]string) (string, error) {
	token, err := crypto.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(Challenge{
		UserID:      userID,
		RealmID:     realmID,
		OAuthParams: oauthParams,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := s.pending.Create(ctx, &storage.PendingAction{
		ID:        uuid.New(),
		TokenHash: crypto.SHA256Hex(token),
		Type:      challengeType,
		Data:      data,
		ExpiresAt: s.now().Add(challengeTTL),
	}); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}
	return token, nil
}

// ValidateChallenge resolves the token and charges one attempt against it.
// The record stays alive across failed OTP retries so the client can try
// again with the same mfa_token, up to the attempt limit; it is removed only
// by ConsumeChallenge or expiry.
func (s *Service) ValidateChallenge(ctx context.Context, token string) (*Challenge, error) {
	rec, err := s.pending.GetByHash(ctx, crypto.SHA256Hex(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if rec.Type != challengeType {
		return nil, ErrChallengeNotFound
	}
	if !rec.ExpiresAt.After(s.now()) {
		_ = s.pending.Delete(ctx, rec.ID)
		return nil, ErrChallengeNotFound
	}

	var ch Challenge
	if err := json.Unmarshal(rec.Data, &ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	ch.recordID = rec.ID
	ch.Attempts++

	data, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}
	rec.Data = data
	if err := s.pending.Update(ctx, rec); err != nil {
		return nil, err
	}

	if ch.Attempts > challengeAttempts {
		return nil, ErrChallengeLocked
	}
	return &ch, nil
}

// ConsumeChallenge deletes the record after a successful second factor.
func (s *Service) ConsumeChallenge(ctx context.Context, ch *Challenge) error {
	return s.pending.Delete(ctx, ch.recordID)
}
