package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- Password history ---

type passwordHistoryStore struct {
	pool *pgxpool.Pool
}

func (s *passwordHistoryStore) Insert(ctx context.Context, h *storage.PasswordHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO password_history (id, user_id, realm_id, password_hash)
		VALUES ($1,$2,$3,$4)`,
		h.ID, h.UserID, h.RealmID, h.PasswordHash,
	)
	return wrapErr(err)
}

func (s *passwordHistoryStore) ListRecent(ctx context.Context, userID uuid.UUID, n int) ([]*storage.PasswordHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, realm_id, password_hash, created_at
		FROM password_history
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.PasswordHistory
	for rows.Next() {
		var h storage.PasswordHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.RealmID, &h.PasswordHash, &h.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *passwordHistoryStore) TrimTo(ctx context.Context, userID uuid.UUID, n int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		)`, userID, n)
	return wrapErr(err)
}

// --- Pending actions ---

type pendingActionStore struct {
	pool *pgxpool.Pool
}

func (s *pendingActionStore) Create(ctx context.Context, a *storage.PendingAction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_actions (id, token_hash, type, data, expires_at)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.TokenHash, a.Type, a.Data, a.ExpiresAt,
	)
	return wrapErr(err)
}

func (s *pendingActionStore) GetByHash(ctx context.Context, hash string) (*storage.PendingAction, error) {
	var a storage.PendingAction
	err := s.pool.QueryRow(ctx, `
		SELECT id, token_hash, type, data, expires_at, created_at
		FROM pending_actions WHERE token_hash = $1`, hash).Scan(
		&a.ID, &a.TokenHash, &a.Type, &a.Data, &a.ExpiresAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

func (s *pendingActionStore) Update(ctx context.Context, a *storage.PendingAction) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pending_actions SET data = $2 WHERE id = $1`, a.ID, a.Data)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *pendingActionStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_actions WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *pendingActionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_actions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// --- User credentials ---

type credentialStore struct {
	pool *pgxpool.Pool
}

const credentialColumns = `id, user_id, type, secret_key, algorithm, digits, period, verified, created_at`

func (s *credentialStore) Create(ctx context.Context, c *storage.UserCredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_credentials (id, user_id, type, secret_key, algorithm, digits, period, verified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.UserID, c.Type, c.SecretKey, c.Algorithm, c.Digits, c.Period, c.Verified,
	)
	return wrapErr(err)
}

func (s *credentialStore) GetByUserAndType(ctx context.Context, userID uuid.UUID, credType string) (*storage.UserCredential, error) {
	var c storage.UserCredential
	err := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM user_credentials
		WHERE user_id = $1 AND type = $2`, userID, credType).Scan(
		&c.ID, &c.UserID, &c.Type, &c.SecretKey, &c.Algorithm, &c.Digits, &c.Period, &c.Verified, &c.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &c, nil
}

func (s *credentialStore) Update(ctx context.Context, c *storage.UserCredential) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_credentials SET secret_key = $2, algorithm = $3, digits = $4,
			period = $5, verified = $6
		WHERE id = $1`,
		c.ID, c.SecretKey, c.Algorithm, c.Digits, c.Period, c.Verified,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *credentialStore) DeleteUnverified(ctx context.Context, userID uuid.UUID, credType string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_credentials
		WHERE user_id = $1 AND type = $2 AND NOT verified`, userID, credType)
	return wrapErr(err)
}

func (s *credentialStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_credentials WHERE id = $1`, id)
	return wrapErr(err)
}

// --- Recovery codes ---

type recoveryCodeStore struct {
	pool *pgxpool.Pool
}

func (s *recoveryCodeStore) ReplaceForUser(ctx context.Context, userID uuid.UUID, codeHashes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return wrapErr(err)
	}
	for _, hash := range codeHashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO recovery_codes (id, user_id, code_hash) VALUES ($1,$2,$3)`,
			uuid.New(), userID, hash,
		); err != nil {
			return wrapErr(err)
		}
	}
	return wrapErr(tx.Commit(ctx))
}

func (s *recoveryCodeStore) ListUnused(ctx context.Context, userID uuid.UUID) ([]*storage.RecoveryCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, code_hash, used FROM recovery_codes
		WHERE user_id = $1 AND NOT used`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.RecoveryCode
	for rows.Next() {
		var c storage.RecoveryCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.Used); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *recoveryCodeStore) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	// The conditional UPDATE admits exactly one consumer per code.
	tag, err := s.pool.Exec(ctx, `
		UPDATE recovery_codes SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
