package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- roles ---

type roleStore struct{ s *state }

func (st *roleStore) Create(_ context.Context, r *storage.Role) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.roles {
		if existing.RealmID == r.RealmID && existing.Name == r.Name && uuidPtrEq(existing.ClientID, r.ClientID) {
			return storage.ErrConflict
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	st.s.roles[r.ID] = &cp
	return nil
}

func (st *roleStore) GetByID(_ context.Context, id uuid.UUID) (*storage.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	r, ok := st.s.roles[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (st *roleStore) GetByName(_ context.Context, realmID uuid.UUID, clientID *uuid.UUID, name string) (*storage.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, r := range st.s.roles {
		if r.RealmID == realmID && r.Name == name && uuidPtrEq(r.ClientID, clientID) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *roleStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.roles, id)
	for _, set := range st.s.userRoles {
		delete(set, id)
	}
	for _, set := range st.s.groupRoles {
		delete(set, id)
	}
	return nil
}

func (st *roleStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Role
	for _, r := range st.s.roles {
		if r.RealmID == realmID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *roleStore) AssignToUser(_ context.Context, userID, roleID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[roleID]; !ok {
		return storage.ErrNotFound
	}
	if st.s.userRoles[userID] == nil {
		st.s.userRoles[userID] = map[uuid.UUID]bool{}
	}
	st.s.userRoles[userID][roleID] = true
	return nil
}

func (st *roleStore) RemoveFromUser(_ context.Context, userID, roleID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	delete(st.s.userRoles[userID], roleID)
	return nil
}

func (st *roleStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*storage.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.rolesForSet(st.s.userRoles[userID]), nil
}

func (st *roleStore) AssignToGroup(_ context.Context, groupID, roleID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.roles[roleID]; !ok {
		return storage.ErrNotFound
	}
	if st.s.groupRoles[groupID] == nil {
		st.s.groupRoles[groupID] = map[uuid.UUID]bool{}
	}
	st.s.groupRoles[groupID][roleID] = true
	return nil
}

func (st *roleStore) RemoveFromGroup(_ context.Context, groupID, roleID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	delete(st.s.groupRoles[groupID], roleID)
	return nil
}

func (st *roleStore) ListByGroup(_ context.Context, groupID uuid.UUID) ([]*storage.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.rolesForSet(st.s.groupRoles[groupID]), nil
}

// rolesForSet resolves a role-id set; caller holds the lock.
func (st *roleStore) rolesForSet(set map[uuid.UUID]bool) []*storage.Role {
	var out []*storage.Role
	for id := range set {
		if r, ok := st.s.roles[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- groups ---

type groupStore struct{ s *state }

func (st *groupStore) Create(_ context.Context, g *storage.Group) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	// Self-parent is rejected outright; deeper cycle checks belong to the
	// admin service, and the role walker tolerates bad data anyway.
	if g.ParentID != nil && *g.ParentID == g.ID {
		return storage.ErrConflict
	}
	cp := *g
	st.s.groups[g.ID] = &cp
	return nil
}

func (st *groupStore) GetByID(_ context.Context, id uuid.UUID) (*storage.Group, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	g, ok := st.s.groups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (st *groupStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.groups[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.groups, id)
	delete(st.s.groupRoles, id)
	for _, set := range st.s.userGroups {
		delete(set, id)
	}
	return nil
}

func (st *groupStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.Group, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Group
	for _, g := range st.s.groups {
		if g.RealmID == realmID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *groupStore) AddUser(_ context.Context, userID, groupID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.groups[groupID]; !ok {
		return storage.ErrNotFound
	}
	if st.s.userGroups[userID] == nil {
		st.s.userGroups[userID] = map[uuid.UUID]bool{}
	}
	st.s.userGroups[userID][groupID] = true
	return nil
}

func (st *groupStore) RemoveUser(_ context.Context, userID, groupID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	delete(st.s.userGroups[userID], groupID)
	return nil
}

func (st *groupStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*storage.Group, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Group
	for id := range st.s.userGroups[userID] {
		if g, ok := st.s.groups[id]; ok {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func uuidPtrEq(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
