// Package policy implements the realm password policy and the brute-force
// lockout gate. Both read their knobs from the realm record, so a disabled
// rule imposes no constraint.
package policy

import (
	"context"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

// Unicode-aware character class predicates.
var (
	reUpper   = regexp.MustCompile(`\p{Lu}`)
	reLower   = regexp.MustCompile(`\p{Ll}`)
	reDigit   = regexp.MustCompile(`\p{Nd}`)
	reSpecial = regexp.MustCompile(`[^\p{L}\p{N}]`)
)

// ValidationResult aggregates every violated rule; validation never
// short-circuits so the caller can report all problems at once.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks the password against the realm's policy.
func Validate(realm *storage.Realm, password string) ValidationResult {
	var errs []string

	if realm.PasswordMinLength > 0 && utf8.RuneCountInString(password) < realm.PasswordMinLength {
		errs = append(errs, "password is too short")
	}
	if realm.RequireUppercase && !reUpper.MatchString(password) {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if realm.RequireLowercase && !reLower.MatchString(password) {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if realm.RequireDigits && !reDigit.MatchString(password) {
		errs = append(errs, "password must contain a digit")
	}
	if realm.RequireSpecial && !reSpecial.MatchString(password) {
		errs = append(errs, "password must contain a special character")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// IsExpired reports whether the user's password exceeded the realm's max
// age. A user who never set a password change date counts as expired.
func IsExpired(user *storage.User, realm *storage.Realm) bool {
	if realm.PasswordMaxAgeDays <= 0 {
		return false
	}
	if user.PasswordChangedAt == nil {
		return true
	}
	maxAge := time.Duration(realm.PasswordMaxAgeDays) * 24 * time.Hour
	return time.Since(*user.PasswordChangedAt) > maxAge
}

// HistoryService checks and records password history.
type HistoryService struct {
	store  storage.PasswordHistoryStore
	hasher crypto.PasswordHasher
}

func NewHistoryService(store storage.PasswordHistoryStore, hasher crypto.PasswordHasher) *HistoryService {
	return &HistoryService{store: store, hasher: hasher}
}

// CheckHistory reports whether the candidate password matches any of the
// newest n history hashes. Returns false when n <= 0.
func (s *HistoryService) CheckHistory(ctx context.Context, userID, realmID uuid.UUID, password string, n int) (bool, error) {
	if n <= 0 {
		return false, nil
	}
	entries, err := s.store.ListRecent(ctx, userID, n)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if s.hasher.Compare(e.PasswordHash, password) == nil {
			return true, nil
		}
	}
	return false, nil
}

// RecordHistory inserts a hash and trims the history to the newest n
// entries. No-op when n <= 0.
func (s *HistoryService) RecordHistory(ctx context.Context, userID, realmID uuid.UUID, hash string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.store.Insert(ctx, &storage.PasswordHistory{
		UserID:       userID,
		RealmID:      realmID,
		PasswordHash: hash,
	}); err != nil {
		return err
	}
	return s.store.TrimTo(ctx, userID, n)
}
