// Package postgres implements every repository interface on pgx/v5. The CAS
// guards (refresh rotation, code burning, recovery-code consumption) are
// conditional UPDATEs checked via RowsAffected, so correctness holds across
// concurrent server instances.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/veridian/internal/storage"
)

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewStores wires every repository onto the pool.
func NewStores(pool *pgxpool.Pool) *storage.Stores {
	return &storage.Stores{
		Realms:            &realmStore{pool},
		Keys:              &keyStore{pool},
		Clients:           &clientStore{pool},
		Users:             &userStore{pool},
		LoginFailures:     &loginFailureStore{pool},
		Roles:             &roleStore{pool},
		Groups:            &groupStore{pool},
		Sessions:          &sessionStore{pool},
		RefreshTokens:     &refreshTokenStore{pool},
		AuthCodes:         &authCodeStore{pool},
		DeviceCodes:       &deviceCodeStore{pool},
		LoginSessions:     &loginSessionStore{pool},
		PasswordHistory:   &passwordHistoryStore{pool},
		PendingActions:    &pendingActionStore{pool},
		Credentials:       &credentialStore{pool},
		RecoveryCodes:     &recoveryCodeStore{pool},
		FederatedIDs:      &federatedIdentityStore{pool},
		IdentityProviders: &identityProviderStore{pool},
		Mappers:           &mapperStore{pool},
	}
}

// wrapErr maps driver errors onto the storage sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}

// --- Realms ---

type realmStore struct {
	pool *pgxpool.Pool
}

const realmColumns = `id, name, display_name, enabled,
	access_token_lifespan, refresh_token_lifespan, offline_token_lifespan,
	password_min_length, require_uppercase, require_lowercase, require_digits,
	require_special, password_history_count, password_max_age_days,
	brute_force_enabled, max_login_failures, lockout_duration,
	failure_reset_time, permanent_lockout_after, mfa_required, theme,
	created_at, updated_at`

func scanRealm(row pgx.Row) (*storage.Realm, error) {
	var r storage.Realm
	err := row.Scan(
		&r.ID, &r.Name, &r.DisplayName, &r.Enabled,
		&r.AccessTokenLifespan, &r.RefreshTokenLifespan, &r.OfflineTokenLifespan,
		&r.PasswordMinLength, &r.RequireUppercase, &r.RequireLowercase, &r.RequireDigits,
		&r.RequireSpecial, &r.PasswordHistoryCount, &r.PasswordMaxAgeDays,
		&r.BruteForceEnabled, &r.MaxLoginFailures, &r.LockoutDuration,
		&r.FailureResetTime, &r.PermanentLockoutAfter, &r.MFARequired, &r.Theme,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &r, nil
}

func (s *realmStore) Create(ctx context.Context, r *storage.Realm) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO realms (id, name, display_name, enabled,
			access_token_lifespan, refresh_token_lifespan, offline_token_lifespan,
			password_min_length, require_uppercase, require_lowercase, require_digits,
			require_special, password_history_count, password_max_age_days,
			brute_force_enabled, max_login_failures, lockout_duration,
			failure_reset_time, permanent_lockout_after, mfa_required, theme)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		r.ID, r.Name, r.DisplayName, r.Enabled,
		r.AccessTokenLifespan, r.RefreshTokenLifespan, r.OfflineTokenLifespan,
		r.PasswordMinLength, r.RequireUppercase, r.RequireLowercase, r.RequireDigits,
		r.RequireSpecial, r.PasswordHistoryCount, r.PasswordMaxAgeDays,
		r.BruteForceEnabled, r.MaxLoginFailures, r.LockoutDuration,
		r.FailureResetTime, r.PermanentLockoutAfter, r.MFARequired, r.Theme,
	)
	return wrapErr(err)
}

func (s *realmStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Realm, error) {
	return scanRealm(s.pool.QueryRow(ctx, `SELECT `+realmColumns+` FROM realms WHERE id = $1`, id))
}

func (s *realmStore) GetByName(ctx context.Context, name string) (*storage.Realm, error) {
	return scanRealm(s.pool.QueryRow(ctx, `SELECT `+realmColumns+` FROM realms WHERE name = $1`, name))
}

func (s *realmStore) Update(ctx context.Context, r *storage.Realm) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE realms SET display_name = $2, enabled = $3,
			access_token_lifespan = $4, refresh_token_lifespan = $5,
			offline_token_lifespan = $6, password_min_length = $7,
			require_uppercase = $8, require_lowercase = $9, require_digits = $10,
			require_special = $11, password_history_count = $12,
			password_max_age_days = $13, brute_force_enabled = $14,
			max_login_failures = $15, lockout_duration = $16,
			failure_reset_time = $17, permanent_lockout_after = $18,
			mfa_required = $19, theme = $20, updated_at = now()
		WHERE id = $1`,
		r.ID, r.DisplayName, r.Enabled,
		r.AccessTokenLifespan, r.RefreshTokenLifespan,
		r.OfflineTokenLifespan, r.PasswordMinLength,
		r.RequireUppercase, r.RequireLowercase, r.RequireDigits,
		r.RequireSpecial, r.PasswordHistoryCount,
		r.PasswordMaxAgeDays, r.BruteForceEnabled,
		r.MaxLoginFailures, r.LockoutDuration,
		r.FailureResetTime, r.PermanentLockoutAfter,
		r.MFARequired, r.Theme,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *realmStore) Delete(ctx context.Context, id uuid.UUID) error {
	// Realm-owned aggregates cascade via foreign keys.
	tag, err := s.pool.Exec(ctx, `DELETE FROM realms WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *realmStore) List(ctx context.Context) ([]*storage.Realm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+realmColumns+` FROM realms ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.Realm
	for rows.Next() {
		r, err := scanRealm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Signing keys ---

type keyStore struct {
	pool *pgxpool.Pool
}

const keyColumns = `id, realm_id, kid, algorithm, public_key_pem, private_key_pem, active, created_at`

func scanKey(row pgx.Row) (*storage.SigningKey, error) {
	var k storage.SigningKey
	err := row.Scan(&k.ID, &k.RealmID, &k.Kid, &k.Algorithm, &k.PublicKeyPEM, &k.PrivateKeyPEM, &k.Active, &k.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &k, nil
}

func (s *keyStore) Create(ctx context.Context, k *storage.SigningKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signing_keys (id, realm_id, kid, algorithm, public_key_pem, private_key_pem, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		k.ID, k.RealmID, k.Kid, k.Algorithm, k.PublicKeyPEM, k.PrivateKeyPEM, k.Active,
	)
	return wrapErr(err)
}

func (s *keyStore) ActiveKey(ctx context.Context, realmID uuid.UUID) (*storage.SigningKey, error) {
	return scanKey(s.pool.QueryRow(ctx, `
		SELECT `+keyColumns+` FROM signing_keys
		WHERE realm_id = $1 AND active
		ORDER BY created_at DESC LIMIT 1`, realmID))
}

func (s *keyStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.SigningKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyColumns+` FROM signing_keys
		WHERE realm_id = $1 ORDER BY created_at DESC`, realmID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *keyStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE signing_keys SET active = false WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *keyStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM signing_keys WHERE id = $1`, id)
	return wrapErr(err)
}
