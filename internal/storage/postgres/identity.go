package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- Clients ---

type clientStore struct {
	pool *pgxpool.Pool
}

const clientColumns = `id, realm_id, client_id, type, secret_hash, enabled,
	grant_types, redirect_uris, web_origins, default_scopes, optional_scopes,
	service_account_user_id, backchannel_logout_uri,
	backchannel_logout_session_required, created_at`

func scanClient(row pgx.Row) (*storage.Client, error) {
	var c storage.Client
	err := row.Scan(
		&c.ID, &c.RealmID, &c.ClientID, &c.Type, &c.SecretHash, &c.Enabled,
		&c.GrantTypes, &c.RedirectURIs, &c.WebOrigins, &c.DefaultScopes, &c.OptionalScopes,
		&c.ServiceAccountUserID, &c.BackchannelLogoutURI,
		&c.BackchannelLogoutSessionRequired, &c.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &c, nil
}

func (s *clientStore) Create(ctx context.Context, c *storage.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, realm_id, client_id, type, secret_hash, enabled,
			grant_types, redirect_uris, web_origins, default_scopes, optional_scopes,
			service_account_user_id, backchannel_logout_uri,
			backchannel_logout_session_required)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.RealmID, c.ClientID, c.Type, c.SecretHash, c.Enabled,
		c.GrantTypes, c.RedirectURIs, c.WebOrigins, c.DefaultScopes, c.OptionalScopes,
		c.ServiceAccountUserID, c.BackchannelLogoutURI,
		c.BackchannelLogoutSessionRequired,
	)
	return wrapErr(err)
}

func (s *clientStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Client, error) {
	return scanClient(s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

func (s *clientStore) GetByClientID(ctx context.Context, realmID uuid.UUID, clientID string) (*storage.Client, error) {
	return scanClient(s.pool.QueryRow(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE realm_id = $1 AND client_id = $2`, realmID, clientID))
}

func (s *clientStore) Update(ctx context.Context, c *storage.Client) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients SET client_id = $2, type = $3, secret_hash = $4, enabled = $5,
			grant_types = $6, redirect_uris = $7, web_origins = $8,
			default_scopes = $9, optional_scopes = $10,
			service_account_user_id = $11, backchannel_logout_uri = $12,
			backchannel_logout_session_required = $13
		WHERE id = $1`,
		c.ID, c.ClientID, c.Type, c.SecretHash, c.Enabled,
		c.GrantTypes, c.RedirectURIs, c.WebOrigins,
		c.DefaultScopes, c.OptionalScopes,
		c.ServiceAccountUserID, c.BackchannelLogoutURI,
		c.BackchannelLogoutSessionRequired,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *clientStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *clientStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.Client, error) {
	return s.list(ctx, `SELECT `+clientColumns+` FROM clients WHERE realm_id = $1 ORDER BY client_id`, realmID)
}

func (s *clientStore) ListBackchannel(ctx context.Context, realmID uuid.UUID) ([]*storage.Client, error) {
	return s.list(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE realm_id = $1 AND backchannel_logout_uri IS NOT NULL AND enabled
		ORDER BY client_id`, realmID)
}

func (s *clientStore) list(ctx context.Context, query string, args ...any) ([]*storage.Client, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Users ---

type userStore struct {
	pool *pgxpool.Pool
}

const userColumns = `id, realm_id, username, email, email_verified, first_name,
	last_name, enabled, password_hash, password_changed_at, federation_link,
	created_at, updated_at`

func scanUser(row pgx.Row) (*storage.User, error) {
	var u storage.User
	err := row.Scan(
		&u.ID, &u.RealmID, &u.Username, &u.Email, &u.EmailVerified, &u.FirstName,
		&u.LastName, &u.Enabled, &u.PasswordHash, &u.PasswordChangedAt, &u.FederationLink,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *storage.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, realm_id, username, email, email_verified, first_name,
			last_name, enabled, password_hash, password_changed_at, federation_link)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.RealmID, u.Username, u.Email, u.EmailVerified, u.FirstName,
		u.LastName, u.Enabled, u.PasswordHash, u.PasswordChangedAt, u.FederationLink,
	)
	return wrapErr(err)
}

func (s *userStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *userStore) GetByUsername(ctx context.Context, realmID uuid.UUID, username string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE realm_id = $1 AND username = $2`, realmID, username))
}

func (s *userStore) GetByEmail(ctx context.Context, realmID uuid.UUID, email string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE realm_id = $1 AND email = $2`, realmID, email))
}

func (s *userStore) Update(ctx context.Context, u *storage.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $2, email = $3, email_verified = $4,
			first_name = $5, last_name = $6, enabled = $7, password_hash = $8,
			password_changed_at = $9, federation_link = $10, updated_at = now()
		WHERE id = $1`,
		u.ID, u.Username, u.Email, u.EmailVerified,
		u.FirstName, u.LastName, u.Enabled, u.PasswordHash,
		u.PasswordChangedAt, u.FederationLink,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *userStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE realm_id = $1 ORDER BY username`, realmID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Login failures ---

type loginFailureStore struct {
	pool *pgxpool.Pool
}

func (s *loginFailureStore) Get(ctx context.Context, userID uuid.UUID) (*storage.LoginFailure, error) {
	var f storage.LoginFailure
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, realm_id, failure_count, total_failures, last_failure_at,
			locked_until, permanent_lockout
		FROM login_failures WHERE user_id = $1`, userID).Scan(
		&f.UserID, &f.RealmID, &f.FailureCount, &f.TotalFailures, &f.LastFailureAt,
		&f.LockedUntil, &f.PermanentLockout,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &f, nil
}

func (s *loginFailureStore) Upsert(ctx context.Context, f *storage.LoginFailure) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_failures (user_id, realm_id, failure_count, total_failures,
			last_failure_at, locked_until, permanent_lockout)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			failure_count = EXCLUDED.failure_count,
			total_failures = EXCLUDED.total_failures,
			last_failure_at = EXCLUDED.last_failure_at,
			locked_until = EXCLUDED.locked_until,
			permanent_lockout = EXCLUDED.permanent_lockout`,
		f.UserID, f.RealmID, f.FailureCount, f.TotalFailures,
		f.LastFailureAt, f.LockedUntil, f.PermanentLockout,
	)
	return wrapErr(err)
}

func (s *loginFailureStore) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM login_failures WHERE user_id = $1`, userID)
	return wrapErr(err)
}
