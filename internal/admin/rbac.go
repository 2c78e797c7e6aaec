package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// Roles.

func (s *Service) CreateRole(ctx context.Context, role *storage.Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	return s.stores.Roles.Create(ctx, role)
}

func (s *Service) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return s.stores.Roles.Delete(ctx, id)
}

func (s *Service) ListRoles(ctx context.Context, realmID uuid.UUID) ([]*storage.Role, error) {
	return s.stores.Roles.ListByRealm(ctx, realmID)
}

func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID uuid.UUID) error {
	return s.stores.Roles.AssignToUser(ctx, userID, roleID)
}

func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID uuid.UUID) error {
	return s.stores.Roles.RemoveFromUser(ctx, userID, roleID)
}

func (s *Service) AssignRoleToGroup(ctx context.Context, groupID, roleID uuid.UUID) error {
	return s.stores.Roles.AssignToGroup(ctx, groupID, roleID)
}

// Groups.

func (s *Service) CreateGroup(ctx context.Context, group *storage.Group) error {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	return s.stores.Groups.Create(ctx, group)
}

func (s *Service) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.stores.Groups.Delete(ctx, id)
}

func (s *Service) ListGroups(ctx context.Context, realmID uuid.UUID) ([]*storage.Group, error) {
	return s.stores.Groups.ListByRealm(ctx, realmID)
}

func (s *Service) AddUserToGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	return s.stores.Groups.AddUser(ctx, userID, groupID)
}

func (s *Service) RemoveUserFromGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	return s.stores.Groups.RemoveUser(ctx, userID, groupID)
}

// Identity providers.

func (s *Service) CreateIdentityProvider(ctx context.Context, idp *storage.IdentityProvider) error {
	if idp.ID == uuid.Nil {
		idp.ID = uuid.New()
	}
	return s.stores.IdentityProviders.Create(ctx, idp)
}

func (s *Service) UpdateIdentityProvider(ctx context.Context, idp *storage.IdentityProvider) error {
	return s.stores.IdentityProviders.Update(ctx, idp)
}

func (s *Service) DeleteIdentityProvider(ctx context.Context, id uuid.UUID) error {
	return s.stores.IdentityProviders.Delete(ctx, id)
}

func (s *Service) ListIdentityProviders(ctx context.Context, realmID uuid.UUID) ([]*storage.IdentityProvider, error) {
	return s.stores.IdentityProviders.ListByRealm(ctx, realmID)
}

// Protocol mappers.

func (s *Service) CreateMapper(ctx context.Context, m *storage.ProtocolMapper) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return s.stores.Mappers.Create(ctx, m)
}

func (s *Service) DeleteMapper(ctx context.Context, id uuid.UUID) error {
	return s.stores.Mappers.Delete(ctx, id)
}

func (s *Service) ListMappers(ctx context.Context, realmID uuid.UUID) ([]*storage.ProtocolMapper, error) {
	return s.stores.Mappers.ListByRealm(ctx, realmID)
}
