package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- Roles ---

type roleStore struct {
	pool *pgxpool.Pool
}

const roleColumns = `id, realm_id, client_id, name, description`

func scanRole(row pgx.Row) (*storage.Role, error) {
	var r storage.Role
	err := row.Scan(&r.ID, &r.RealmID, &r.ClientID, &r.Name, &r.Description)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, r *storage.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, realm_id, client_id, name, description)
		VALUES ($1,$2,$3,$4,$5)`,
		r.ID, r.RealmID, r.ClientID, r.Name, r.Description,
	)
	return wrapErr(err)
}

func (s *roleStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (s *roleStore) GetByName(ctx context.Context, realmID uuid.UUID, clientID *uuid.UUID, name string) (*storage.Role, error) {
	if clientID == nil {
		return scanRole(s.pool.QueryRow(ctx, `
			SELECT `+roleColumns+` FROM roles
			WHERE realm_id = $1 AND client_id IS NULL AND name = $2`, realmID, name))
	}
	return scanRole(s.pool.QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE realm_id = $1 AND client_id = $2 AND name = $3`, realmID, *clientID, name))
}

func (s *roleStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *roleStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.Role, error) {
	return s.list(ctx, `SELECT `+roleColumns+` FROM roles WHERE realm_id = $1 ORDER BY name`, realmID)
}

func (s *roleStore) AssignToUser(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, userID, roleID)
	return wrapErr(err)
}

func (s *roleStore) RemoveFromUser(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return wrapErr(err)
}

func (s *roleStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*storage.Role, error) {
	return s.list(ctx, `
		SELECT r.id, r.realm_id, r.client_id, r.name, r.description
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.name`, userID)
}

func (s *roleStore) AssignToGroup(ctx context.Context, groupID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_roles (group_id, role_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, groupID, roleID)
	return wrapErr(err)
}

func (s *roleStore) RemoveFromGroup(ctx context.Context, groupID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM group_roles WHERE group_id = $1 AND role_id = $2`, groupID, roleID)
	return wrapErr(err)
}

func (s *roleStore) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*storage.Role, error) {
	return s.list(ctx, `
		SELECT r.id, r.realm_id, r.client_id, r.name, r.description
		FROM roles r JOIN group_roles gr ON gr.role_id = r.id
		WHERE gr.group_id = $1 ORDER BY r.name`, groupID)
}

func (s *roleStore) list(ctx context.Context, query string, args ...any) ([]*storage.Role, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Groups ---

type groupStore struct {
	pool *pgxpool.Pool
}

func scanGroup(row pgx.Row) (*storage.Group, error) {
	var g storage.Group
	err := row.Scan(&g.ID, &g.RealmID, &g.ParentID, &g.Name)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &g, nil
}

func (s *groupStore) Create(ctx context.Context, g *storage.Group) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, realm_id, parent_id, name) VALUES ($1,$2,$3,$4)`,
		g.ID, g.RealmID, g.ParentID, g.Name,
	)
	return wrapErr(err)
}

func (s *groupStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Group, error) {
	return scanGroup(s.pool.QueryRow(ctx, `
		SELECT id, realm_id, parent_id, name FROM groups WHERE id = $1`, id))
}

func (s *groupStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *groupStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.Group, error) {
	return s.list(ctx, `
		SELECT id, realm_id, parent_id, name FROM groups
		WHERE realm_id = $1 ORDER BY name`, realmID)
}

func (s *groupStore) AddUser(ctx context.Context, userID, groupID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_groups (user_id, group_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, userID, groupID)
	return wrapErr(err)
}

func (s *groupStore) RemoveUser(ctx context.Context, userID, groupID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	return wrapErr(err)
}

func (s *groupStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*storage.Group, error) {
	return s.list(ctx, `
		SELECT g.id, g.realm_id, g.parent_id, g.name
		FROM groups g JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = $1 ORDER BY g.name`, userID)
}

func (s *groupStore) list(ctx context.Context, query string, args ...any) ([]*storage.Group, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- Identity providers ---

type identityProviderStore struct {
	pool *pgxpool.Pool
}

const idpColumns = `id, realm_id, alias, enabled, client_id, client_secret,
	authorization_url, token_url, userinfo_url, default_scopes, trust_email,
	link_only, sync_user_profile`

func scanIdP(row pgx.Row) (*storage.IdentityProvider, error) {
	var p storage.IdentityProvider
	err := row.Scan(
		&p.ID, &p.RealmID, &p.Alias, &p.Enabled, &p.ClientID, &p.ClientSecret,
		&p.AuthorizationURL, &p.TokenURL, &p.UserinfoURL, &p.DefaultScopes, &p.TrustEmail,
		&p.LinkOnly, &p.SyncUserProfile,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &p, nil
}

func (s *identityProviderStore) Create(ctx context.Context, p *storage.IdentityProvider) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_providers (id, realm_id, alias, enabled, client_id,
			client_secret, authorization_url, token_url, userinfo_url,
			default_scopes, trust_email, link_only, sync_user_profile)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.RealmID, p.Alias, p.Enabled, p.ClientID,
		p.ClientSecret, p.AuthorizationURL, p.TokenURL, p.UserinfoURL,
		p.DefaultScopes, p.TrustEmail, p.LinkOnly, p.SyncUserProfile,
	)
	return wrapErr(err)
}

func (s *identityProviderStore) GetByAlias(ctx context.Context, realmID uuid.UUID, alias string) (*storage.IdentityProvider, error) {
	return scanIdP(s.pool.QueryRow(ctx, `
		SELECT `+idpColumns+` FROM identity_providers
		WHERE realm_id = $1 AND alias = $2`, realmID, alias))
}

func (s *identityProviderStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.IdentityProvider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+idpColumns+` FROM identity_providers
		WHERE realm_id = $1 ORDER BY alias`, realmID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.IdentityProvider
	for rows.Next() {
		p, err := scanIdP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *identityProviderStore) Update(ctx context.Context, p *storage.IdentityProvider) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identity_providers SET alias = $2, enabled = $3, client_id = $4,
			client_secret = $5, authorization_url = $6, token_url = $7,
			userinfo_url = $8, default_scopes = $9, trust_email = $10,
			link_only = $11, sync_user_profile = $12
		WHERE id = $1`,
		p.ID, p.Alias, p.Enabled, p.ClientID,
		p.ClientSecret, p.AuthorizationURL, p.TokenURL,
		p.UserinfoURL, p.DefaultScopes, p.TrustEmail,
		p.LinkOnly, p.SyncUserProfile,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *identityProviderStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM identity_providers WHERE id = $1`, id)
	return wrapErr(err)
}

// --- Federated identities ---

type federatedIdentityStore struct {
	pool *pgxpool.Pool
}

func (s *federatedIdentityStore) Create(ctx context.Context, f *storage.FederatedIdentity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO federated_identities (id, user_id, identity_provider_id, external_user_id)
		VALUES ($1,$2,$3,$4)`,
		f.ID, f.UserID, f.IdentityProviderID, f.ExternalUserID,
	)
	return wrapErr(err)
}

func (s *federatedIdentityStore) GetByExternalID(ctx context.Context, providerID uuid.UUID, externalUserID string) (*storage.FederatedIdentity, error) {
	var f storage.FederatedIdentity
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, identity_provider_id, external_user_id, created_at
		FROM federated_identities
		WHERE identity_provider_id = $1 AND external_user_id = $2`,
		providerID, externalUserID).Scan(
		&f.ID, &f.UserID, &f.IdentityProviderID, &f.ExternalUserID, &f.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &f, nil
}

func (s *federatedIdentityStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*storage.FederatedIdentity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, identity_provider_id, external_user_id, created_at
		FROM federated_identities WHERE user_id = $1`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.FederatedIdentity
	for rows.Next() {
		var f storage.FederatedIdentity
		if err := rows.Scan(&f.ID, &f.UserID, &f.IdentityProviderID, &f.ExternalUserID, &f.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- Protocol mappers ---

type mapperStore struct {
	pool *pgxpool.Pool
}

func (s *mapperStore) Create(ctx context.Context, m *storage.ProtocolMapper) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("failed to encode mapper config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO protocol_mappers (id, realm_id, scope, name, mapper_type, config)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.RealmID, m.Scope, m.Name, m.MapperType, cfg,
	)
	return wrapErr(err)
}

func (s *mapperStore) ListByScopes(ctx context.Context, realmID uuid.UUID, scopes []string) ([]*storage.ProtocolMapper, error) {
	return s.list(ctx, `
		SELECT id, realm_id, scope, name, mapper_type, config
		FROM protocol_mappers
		WHERE realm_id = $1 AND scope = ANY($2)
		ORDER BY name`, realmID, scopes)
}

func (s *mapperStore) ListByRealm(ctx context.Context, realmID uuid.UUID) ([]*storage.ProtocolMapper, error) {
	return s.list(ctx, `
		SELECT id, realm_id, scope, name, mapper_type, config
		FROM protocol_mappers WHERE realm_id = $1 ORDER BY name`, realmID)
}

func (s *mapperStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM protocol_mappers WHERE id = $1`, id)
	return wrapErr(err)
}

func (s *mapperStore) list(ctx context.Context, query string, args ...any) ([]*storage.ProtocolMapper, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*storage.ProtocolMapper
	for rows.Next() {
		var m storage.ProtocolMapper
		var cfg []byte
		if err := rows.Scan(&m.ID, &m.RealmID, &m.Scope, &m.Name, &m.MapperType, &cfg); err != nil {
			return nil, wrapErr(err)
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &m.Config); err != nil {
				return nil, fmt.Errorf("failed to decode mapper config: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
