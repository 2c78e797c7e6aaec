package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- password history ---

type passwordHistoryStore struct{ s *state }

func (st *passwordHistoryStore) Insert(_ context.Context, h *storage.PasswordHistory) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	cp := *h
	// Newest first.
	st.s.history[h.UserID] = append([]*storage.PasswordHistory{&cp}, st.s.history[h.UserID]...)
	return nil
}

func (st *passwordHistoryStore) ListRecent(_ context.Context, userID uuid.UUID, n int) ([]*storage.PasswordHistory, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	entries := st.s.history[userID]
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]*storage.PasswordHistory, 0, n)
	for _, e := range entries[:n] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (st *passwordHistoryStore) TrimTo(_ context.Context, userID uuid.UUID, n int) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	entries := st.s.history[userID]
	if len(entries) > n {
		st.s.history[userID] = entries[:n]
	}
	return nil
}

// --- pending actions ---

type pendingActionStore struct{ s *state }

func (st *pendingActionStore) Create(_ context.Context, a *storage.PendingAction) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.actions {
		if existing.TokenHash == a.TokenHash {
			return storage.ErrConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	st.s.actions[a.ID] = &cp
	return nil
}

func (st *pendingActionStore) GetByHash(_ context.Context, hash string) (*storage.PendingAction, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, a := range st.s.actions {
		if a.TokenHash == hash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *pendingActionStore) Update(_ context.Context, a *storage.PendingAction) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	existing, ok := st.s.actions[a.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Data = append([]byte(nil), a.Data...)
	return nil
}

func (st *pendingActionStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.actions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.actions, id)
	return nil
}

func (st *pendingActionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, a := range st.s.actions {
		if a.ExpiresAt.Before(now) {
			delete(st.s.actions, id)
			n++
		}
	}
	return n, nil
}

// --- user credentials (TOTP) ---

type credentialStore struct{ s *state }

func (st *credentialStore) Create(_ context.Context, c *storage.UserCredential) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.credentials {
		if existing.UserID == c.UserID && existing.Type == c.Type {
			return storage.ErrConflict
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	st.s.credentials[c.ID] = &cp
	return nil
}

func (st *credentialStore) GetByUserAndType(_ context.Context, userID uuid.UUID, credType string) (*storage.UserCredential, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, c := range st.s.credentials {
		if c.UserID == userID && c.Type == credType {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *credentialStore) Update(_ context.Context, c *storage.UserCredential) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.credentials[c.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *c
	st.s.credentials[c.ID] = &cp
	return nil
}

func (st *credentialStore) DeleteUnverified(_ context.Context, userID uuid.UUID, credType string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for id, c := range st.s.credentials {
		if c.UserID == userID && c.Type == credType && !c.Verified {
			delete(st.s.credentials, id)
		}
	}
	return nil
}

func (st *credentialStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.credentials[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.credentials, id)
	return nil
}

// --- recovery codes ---

type recoveryCodeStore struct{ s *state }

func (st *recoveryCodeStore) ReplaceForUser(_ context.Context, userID uuid.UUID, codeHashes []string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	codes := make([]*storage.RecoveryCode, 0, len(codeHashes))
	for _, h := range codeHashes {
		codes = append(codes, &storage.RecoveryCode{
			ID:       uuid.New(),
			UserID:   userID,
			CodeHash: h,
		})
	}
	st.s.recoveryCodes[userID] = codes
	return nil
}

func (st *recoveryCodeStore) ListUnused(_ context.Context, userID uuid.UUID) ([]*storage.RecoveryCode, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.RecoveryCode
	for _, c := range st.s.recoveryCodes[userID] {
		if !c.Used {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (st *recoveryCodeStore) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, codes := range st.s.recoveryCodes {
		for _, c := range codes {
			if c.ID == id {
				if c.Used {
					return false, nil
				}
				c.Used = true
				return true, nil
			}
		}
	}
	return false, nil
}

// --- federated identities ---

type federatedIdentityStore struct{ s *state }

func (st *federatedIdentityStore) Create(_ context.Context, f *storage.FederatedIdentity) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.federated {
		if existing.IdentityProviderID == f.IdentityProviderID && existing.ExternalUserID == f.ExternalUserID {
			return storage.ErrConflict
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	cp := *f
	st.s.federated[f.ID] = &cp
	return nil
}

func (st *federatedIdentityStore) GetByExternalID(_ context.Context, providerID uuid.UUID, externalUserID string) (*storage.FederatedIdentity, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, f := range st.s.federated {
		if f.IdentityProviderID == providerID && f.ExternalUserID == externalUserID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *federatedIdentityStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*storage.FederatedIdentity, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.FederatedIdentity
	for _, f := range st.s.federated {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- identity providers ---

type identityProviderStore struct{ s *state }

func (st *identityProviderStore) Create(_ context.Context, p *storage.IdentityProvider) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.providers {
		if existing.RealmID == p.RealmID && existing.Alias == p.Alias {
			return storage.ErrConflict
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	st.s.providers[p.ID] = &cp
	return nil
}

func (st *identityProviderStore) GetByAlias(_ context.Context, realmID uuid.UUID, alias string) (*storage.IdentityProvider, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, p := range st.s.providers {
		if p.RealmID == realmID && p.Alias == alias {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *identityProviderStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.IdentityProvider, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.IdentityProvider
	for _, p := range st.s.providers {
		if p.RealmID == realmID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (st *identityProviderStore) Update(_ context.Context, p *storage.IdentityProvider) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.providers[p.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *p
	st.s.providers[p.ID] = &cp
	return nil
}

func (st *identityProviderStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.providers[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.providers, id)
	return nil
}

// --- protocol mappers ---

type mapperStore struct{ s *state }

func (st *mapperStore) Create(_ context.Context, m *storage.ProtocolMapper) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	cp := *m
	cp.Config = map[string]string{}
	for k, v := range m.Config {
		cp.Config[k] = v
	}
	st.s.mappers[m.ID] = &cp
	return nil
}

func (st *mapperStore) ListByScopes(_ context.Context, realmID uuid.UUID, scopes []string) ([]*storage.ProtocolMapper, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, s := range scopes {
		wanted[s] = true
	}
	var out []*storage.ProtocolMapper
	for _, m := range st.s.mappers {
		if m.RealmID == realmID && wanted[m.Scope] {
			out = append(out, copyMapper(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *mapperStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.ProtocolMapper, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.ProtocolMapper
	for _, m := range st.s.mappers {
		if m.RealmID == realmID {
			out = append(out, copyMapper(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *mapperStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.mappers[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.mappers, id)
	return nil
}

func copyMapper(m *storage.ProtocolMapper) *storage.ProtocolMapper {
	cp := *m
	cp.Config = map[string]string{}
	for k, v := range m.Config {
		cp.Config[k] = v
	}
	return &cp
}
