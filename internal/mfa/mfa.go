// Package mfa implements TOTP enrollment and verification, recovery codes,
// and the challenge-token lifecycle used by the mfa_otp grant.
package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	credentialTypeTOTP = "totp"
	totpSecretSize     = 20
	totpDigits         = 6
	totpPeriod         = 30
	recoveryCodeCount  = 10
)

var (
	ErrNotEnrolled = errors.New("mfa not enrolled for user")
	ErrInvalidCode = errors.New("invalid mfa code")
)

// Service owns TOTP credentials and recovery codes.
type Service struct {
	appName  string
	creds    storage.CredentialStore
	recovery storage.RecoveryCodeStore
	pending  storage.PendingActionStore
	now      func() time.Time
}

func NewService(appName string, creds storage.CredentialStore, recovery storage.RecoveryCodeStore, pending storage.PendingActionStore) *Service {
	return &Service{
		appName:  appName,
		creds:    creds,
		recovery: recovery,
		pending:  pending,
		now:      time.Now,
	}
}

// Enrollment is returned from EnrollTOTP. The secret and QR code are shown
// to the user once; only the credential row survives.
type Enrollment struct {
	Secret     string `json:"secret"`
	QRDataURL  string `json:"qrDataUrl"`
	OtpauthURL string `json:"otpauthUrl"`
}

// EnrollTOTP starts enrollment for the user. Any prior unverified
// credential is discarded so re-enrolling is always safe.
func (s *Service) EnrollTOTP(ctx context.Context, realm *storage.Realm, user *storage.User) (*Enrollment, error) {
	if err := s.creds.DeleteUnverified(ctx, user.ID, credentialTypeTOTP); err != nil {
		return nil, fmt.Errorf("failed to clear pending credentials: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      fmt.Sprintf("%s (%s)", s.appName, realm.Name),
		AccountName: user.Username,
		SecretSize:  totpSecretSize,
		Algorithm:   otp.AlgorithmSHA1,
		Digits:      otp.DigitsSix,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}

	cred := &storage.UserCredential{
		ID:        uuid.New(),
		UserID:    user.ID,
		Type:      credentialTypeTOTP,
		SecretKey: key.Secret(),
		Algorithm: "SHA1",
		Digits:    totpDigits,
		Period:    totpPeriod,
		Verified:  false,
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	return &Enrollment{
		Secret:     key.Secret(),
		QRDataURL:  qr,
		OtpauthURL: key.URL(),
	}, nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(200, 200)
	if err != nil {
		return "", fmt.Errorf("failed to create qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Activate verifies the first OTP against the pending credential, marks it
// verified, and regenerates the user's recovery codes. The plaintext codes
// are returned exactly once.
func (s *Service) Activate(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	cred, err := s.creds.GetByUserAndType(ctx, userID, credentialTypeTOTP)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if cred.Verified {
		return nil, ErrNotEnrolled
	}
	if !s.validateCode(code, cred) {
		return nil, ErrInvalidCode
	}

	cred.Verified = true
	if err := s.creds.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to activate credential: %w", err)
	}

	codes, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = crypto.SHA256Hex(normalizeRecoveryCode(c))
	}
	if err := s.recovery.ReplaceForUser(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}
	return codes, nil
}

// IsEnabled reports whether the user has a verified TOTP credential.
func (s *Service) IsEnabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	cred, err := s.creds.GetByUserAndType(ctx, userID, credentialTypeTOTP)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return cred.Verified, nil
}

// VerifyTOTP checks the code against the user's verified credential.
func (s *Service) VerifyTOTP(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	cred, err := s.creds.GetByUserAndType(ctx, userID, credentialTypeTOTP)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !cred.Verified {
		return false, nil
	}
	return s.validateCode(code, cred), nil
}

// validateCode allows one period of clock skew in either direction.
func (s *Service) validateCode(code string, cred *storage.UserCredential) bool {
	ok, err := totp.ValidateCustom(code, cred.SecretKey, s.now(), totp.ValidateOpts{
		Period:    uint(cred.Period),
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyRecoveryCode matches the code against the user's unused recovery
// codes and consumes the match. A code races to be consumed at most once.
func (s *Service) VerifyRecoveryCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	hash := crypto.SHA256Hex(normalizeRecoveryCode(code))
	unused, err := s.recovery.ListUnused(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, rc := range unused {
		if crypto.SecureCompare(rc.CodeHash, hash) {
			return s.recovery.MarkUsed(ctx, rc.ID)
		}
	}
	return false, nil
}

// normalizeRecoveryCode lowercases and strips whitespace so user input
// survives copy/paste mangling. Hashes are computed over the normal form.
func normalizeRecoveryCode(code string) string {
	return strings.ToLower(strings.Join(strings.Fields(code), ""))
}

// generateRecoveryCodes produces XXXX-XXXX codes from a charset that avoids
// the visually ambiguous I, O, 0, and 1.
func generateRecoveryCodes(count int) ([]string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := range code {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			if err != nil {
				return nil, fmt.Errorf("crypto/rand failed: %w", err)
			}
			code[j] = chars[num.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}
