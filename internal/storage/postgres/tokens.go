package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- Sessions ---

type sessionStore struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, realm_id, user_id, ip_address, user_agent, created_at, expires_at`

func scanSession(row pgx.Row) (*storage.Session, error) {
	var sess storage.Session
	err := row.Scan(&sess.ID, &sess.RealmID, &sess.UserID, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &sess, nil
}

func (s *sessionStore) Create(ctx context.Context, sess *storage.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, realm_id, user_id, ip_address, user_agent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sess.ID, sess.RealmID, sess.UserID, sess.IPAddress, sess.UserAgent, sess.ExpiresAt,
	)
	return wrapErr(err)
}

func (s *sessionStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (s *sessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return wrapErr(err)
}

func (s *sessionStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*storage.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), wrapErr(err)
}

// --- Refresh tokens ---

type refreshTokenStore struct {
	pool *pgxpool.Pool
}

const refreshColumns = `id, session_id, token_hash, scope, expires_at, revoked, is_offline, created_at`

func (s *refreshTokenStore) Create(ctx context.Context, t *storage.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, session_id, token_hash, scope, expires_at, revoked, is_offline)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.SessionID, t.TokenHash, t.Scope, t.ExpiresAt, t.Revoked, t.IsOffline,
	)
	return wrapErr(err)
}

func (s *refreshTokenStore) GetByHash(ctx context.Context, hash string) (*storage.RefreshToken, error) {
	var t storage.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash).Scan(
		&t.ID, &t.SessionID, &t.TokenHash, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.IsOffline, &t.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &t, nil
}

// Revoke is the rotation CAS: the conditional UPDATE admits exactly one
// winner per token even across server instances.
func (s *refreshTokenStore) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true
		WHERE id = $1 AND revoked = false`, id)
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *refreshTokenStore) RevokeBySession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE session_id = $1`, sessionID)
	return wrapErr(err)
}

func (s *refreshTokenStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*storage.RefreshToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+refreshColumns+` FROM refresh_tokens
		WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.RefreshToken
	for rows.Next() {
		var t storage.RefreshToken
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TokenHash, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.IsOffline, &t.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), wrapErr(err)
}

// --- Authorization codes ---

type authCodeStore struct {
	pool *pgxpool.Pool
}

func (s *authCodeStore) Create(ctx context.Context, c *storage.AuthorizationCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authorization_codes (id, realm_id, code, client_id, user_id,
			redirect_uri, scope, nonce, code_challenge, code_challenge_method,
			used, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.RealmID, c.Code, c.ClientID, c.UserID,
		c.RedirectURI, c.Scope, c.Nonce, c.CodeChallenge, c.CodeChallengeMethod,
		c.Used, c.ExpiresAt,
	)
	return wrapErr(err)
}

func (s *authCodeStore) GetByCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var c storage.AuthorizationCode
	err := s.pool.QueryRow(ctx, `
		SELECT id, realm_id, code, client_id, user_id, redirect_uri, scope, nonce,
			code_challenge, code_challenge_method, used, expires_at, created_at
		FROM authorization_codes WHERE code = $1`, code).Scan(
		&c.ID, &c.RealmID, &c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.Nonce,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.Used, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &c, nil
}

// MarkUsed burns the code; a concurrent consumer losing the race gets false.
func (s *authCodeStore) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE authorization_codes SET used = true
		WHERE id = $1 AND used = false`, id)
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *authCodeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), wrapErr(err)
}

// --- Device codes ---

type deviceCodeStore struct {
	pool *pgxpool.Pool
}

const deviceColumns = `id, realm_id, client_id, device_code, user_code, scope,
	poll_interval, expires_at, approved, denied, user_id, last_polled_at, created_at`

func scanDeviceCode(row pgx.Row) (*storage.DeviceCode, error) {
	var d storage.DeviceCode
	err := row.Scan(
		&d.ID, &d.RealmID, &d.ClientID, &d.DeviceCode, &d.UserCode, &d.Scope,
		&d.Interval, &d.ExpiresAt, &d.Approved, &d.Denied, &d.UserID, &d.LastPolledAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &d, nil
}

func (s *deviceCodeStore) Create(ctx context.Context, d *storage.DeviceCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_codes (id, realm_id, client_id, device_code, user_code,
			scope, poll_interval, expires_at, approved, denied, user_id, last_polled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.RealmID, d.ClientID, d.DeviceCode, d.UserCode,
		d.Scope, d.Interval, d.ExpiresAt, d.Approved, d.Denied, d.UserID, d.LastPolledAt,
	)
	return wrapErr(err)
}

func (s *deviceCodeStore) GetByDeviceCode(ctx context.Context, realmID uuid.UUID, deviceCode string) (*storage.DeviceCode, error) {
	return scanDeviceCode(s.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM device_codes
		WHERE realm_id = $1 AND device_code = $2`, realmID, deviceCode))
}

func (s *deviceCodeStore) GetByUserCode(ctx context.Context, realmID uuid.UUID, userCode string) (*storage.DeviceCode, error) {
	return scanDeviceCode(s.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM device_codes
		WHERE realm_id = $1 AND user_code = $2`, realmID, userCode))
}

func (s *deviceCodeStore) Update(ctx context.Context, d *storage.DeviceCode) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_codes SET approved = $2, denied = $3, user_id = $4, last_polled_at = $5
		WHERE id = $1`,
		d.ID, d.Approved, d.Denied, d.UserID, d.LastPolledAt,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *deviceCodeStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM device_codes WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *deviceCodeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM device_codes WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), wrapErr(err)
}

// --- Login sessions ---

type loginSessionStore struct {
	pool *pgxpool.Pool
}

func (s *loginSessionStore) Create(ctx context.Context, ls *storage.LoginSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_sessions (id, realm_id, user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ls.ID, ls.RealmID, ls.UserID, ls.TokenHash, ls.IPAddress, ls.UserAgent, ls.ExpiresAt,
	)
	return wrapErr(err)
}

func (s *loginSessionStore) GetByHash(ctx context.Context, hash string) (*storage.LoginSession, error) {
	var ls storage.LoginSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, realm_id, user_id, token_hash, ip_address, user_agent, expires_at, created_at
		FROM login_sessions WHERE token_hash = $1`, hash).Scan(
		&ls.ID, &ls.RealmID, &ls.UserID, &ls.TokenHash, &ls.IPAddress, &ls.UserAgent, &ls.ExpiresAt, &ls.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ls, nil
}

func (s *loginSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM login_sessions WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *loginSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM login_sessions WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), wrapErr(err)
}
