// Package memory provides mutex-guarded in-memory implementations of every
// repository interface. They back the unit tests and the ephemeral dev mode;
// semantics (CAS guards, cascades, uniqueness) match the postgres package.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// NewStores returns a fully wired in-memory storage bundle.
func NewStores() *storage.Stores {
	s := &state{
		realms:        map[uuid.UUID]*storage.Realm{},
		keys:          map[uuid.UUID]*storage.SigningKey{},
		clients:       map[uuid.UUID]*storage.Client{},
		users:         map[uuid.UUID]*storage.User{},
		failures:      map[uuid.UUID]*storage.LoginFailure{},
		roles:         map[uuid.UUID]*storage.Role{},
		userRoles:     map[uuid.UUID]map[uuid.UUID]bool{},
		groupRoles:    map[uuid.UUID]map[uuid.UUID]bool{},
		groups:        map[uuid.UUID]*storage.Group{},
		userGroups:    map[uuid.UUID]map[uuid.UUID]bool{},
		sessions:      map[uuid.UUID]*storage.Session{},
		refreshTokens: map[uuid.UUID]*storage.RefreshToken{},
		authCodes:     map[uuid.UUID]*storage.AuthorizationCode{},
		deviceCodes:   map[uuid.UUID]*storage.DeviceCode{},
		loginSessions: map[uuid.UUID]*storage.LoginSession{},
		history:       map[uuid.UUID][]*storage.PasswordHistory{},
		actions:       map[uuid.UUID]*storage.PendingAction{},
		credentials:   map[uuid.UUID]*storage.UserCredential{},
		recoveryCodes: map[uuid.UUID][]*storage.RecoveryCode{},
		federated:     map[uuid.UUID]*storage.FederatedIdentity{},
		providers:     map[uuid.UUID]*storage.IdentityProvider{},
		mappers:       map[uuid.UUID]*storage.ProtocolMapper{},
	}
	return &storage.Stores{
		Realms:            &realmStore{s},
		Keys:              &keyStore{s},
		Clients:           &clientStore{s},
		Users:             &userStore{s},
		LoginFailures:     &loginFailureStore{s},
		Roles:             &roleStore{s},
		Groups:            &groupStore{s},
		Sessions:          &sessionStore{s},
		RefreshTokens:     &refreshTokenStore{s},
		AuthCodes:         &authCodeStore{s},
		DeviceCodes:       &deviceCodeStore{s},
		LoginSessions:     &loginSessionStore{s},
		PasswordHistory:   &passwordHistoryStore{s},
		PendingActions:    &pendingActionStore{s},
		Credentials:       &credentialStore{s},
		RecoveryCodes:     &recoveryCodeStore{s},
		FederatedIDs:      &federatedIdentityStore{s},
		IdentityProviders: &identityProviderStore{s},
		Mappers:           &mapperStore{s},
	}
}

// state holds all tables behind a single mutex. Fine-grained locking buys
// nothing for a test double.
type state struct {
	mu sync.Mutex

	realms        map[uuid.UUID]*storage.Realm
	keys          map[uuid.UUID]*storage.SigningKey
	clients       map[uuid.UUID]*storage.Client
	users         map[uuid.UUID]*storage.User
	failures      map[uuid.UUID]*storage.LoginFailure
	roles         map[uuid.UUID]*storage.Role
	userRoles     map[uuid.UUID]map[uuid.UUID]bool // userID -> roleID set
	groupRoles    map[uuid.UUID]map[uuid.UUID]bool // groupID -> roleID set
	groups        map[uuid.UUID]*storage.Group
	userGroups    map[uuid.UUID]map[uuid.UUID]bool // userID -> groupID set
	sessions      map[uuid.UUID]*storage.Session
	refreshTokens map[uuid.UUID]*storage.RefreshToken
	authCodes     map[uuid.UUID]*storage.AuthorizationCode
	deviceCodes   map[uuid.UUID]*storage.DeviceCode
	loginSessions map[uuid.UUID]*storage.LoginSession
	history       map[uuid.UUID][]*storage.PasswordHistory // userID -> newest first
	actions       map[uuid.UUID]*storage.PendingAction
	credentials   map[uuid.UUID]*storage.UserCredential
	recoveryCodes map[uuid.UUID][]*storage.RecoveryCode // userID -> insertion order
	federated     map[uuid.UUID]*storage.FederatedIdentity
	providers     map[uuid.UUID]*storage.IdentityProvider
	mappers       map[uuid.UUID]*storage.ProtocolMapper
}

// --- realms ---

type realmStore struct{ s *state }

func (st *realmStore) Create(_ context.Context, r *storage.Realm) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.realms {
		if existing.Name == r.Name {
			return storage.ErrConflict
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	st.s.realms[r.ID] = &cp
	return nil
}

func (st *realmStore) GetByID(_ context.Context, id uuid.UUID) (*storage.Realm, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	r, ok := st.s.realms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (st *realmStore) GetByName(_ context.Context, name string) (*storage.Realm, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, r := range st.s.realms {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *realmStore) Update(_ context.Context, r *storage.Realm) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.realms[r.ID]; !ok {
		return storage.ErrNotFound
	}
	r.UpdatedAt = time.Now()
	cp := *r
	st.s.realms[r.ID] = &cp
	return nil
}

func (st *realmStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.realms[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.realms, id)
	// Cascade to realm-owned aggregates.
	for kid, k := range st.s.keys {
		if k.RealmID == id {
			delete(st.s.keys, kid)
		}
	}
	for cid, c := range st.s.clients {
		if c.RealmID == id {
			delete(st.s.clients, cid)
		}
	}
	for uid, u := range st.s.users {
		if u.RealmID == id {
			delete(st.s.users, uid)
			delete(st.s.userRoles, uid)
			delete(st.s.userGroups, uid)
			delete(st.s.history, uid)
			delete(st.s.recoveryCodes, uid)
			delete(st.s.failures, uid)
		}
	}
	for rid, r := range st.s.roles {
		if r.RealmID == id {
			delete(st.s.roles, rid)
		}
	}
	for gid, g := range st.s.groups {
		if g.RealmID == id {
			delete(st.s.groups, gid)
			delete(st.s.groupRoles, gid)
		}
	}
	for sid, s := range st.s.sessions {
		if s.RealmID == id {
			delete(st.s.sessions, sid)
			for tid, t := range st.s.refreshTokens {
				if t.SessionID == sid {
					delete(st.s.refreshTokens, tid)
				}
			}
		}
	}
	for aid, a := range st.s.authCodes {
		if a.RealmID == id {
			delete(st.s.authCodes, aid)
		}
	}
	for did, d := range st.s.deviceCodes {
		if d.RealmID == id {
			delete(st.s.deviceCodes, did)
		}
	}
	for lid, l := range st.s.loginSessions {
		if l.RealmID == id {
			delete(st.s.loginSessions, lid)
		}
	}
	for pid, p := range st.s.providers {
		if p.RealmID == id {
			delete(st.s.providers, pid)
		}
	}
	for mid, m := range st.s.mappers {
		if m.RealmID == id {
			delete(st.s.mappers, mid)
		}
	}
	return nil
}

func (st *realmStore) List(_ context.Context) ([]*storage.Realm, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	out := make([]*storage.Realm, 0, len(st.s.realms))
	for _, r := range st.s.realms {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- signing keys ---

type keyStore struct{ s *state }

func (st *keyStore) Create(_ context.Context, k *storage.SigningKey) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.keys {
		if existing.RealmID == k.RealmID && existing.Kid == k.Kid {
			return storage.ErrConflict
		}
	}
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	cp := *k
	st.s.keys[k.ID] = &cp
	return nil
}

func (st *keyStore) ActiveKey(_ context.Context, realmID uuid.UUID) (*storage.SigningKey, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var newest *storage.SigningKey
	for _, k := range st.s.keys {
		if k.RealmID != realmID || !k.Active {
			continue
		}
		if newest == nil || k.CreatedAt.After(newest.CreatedAt) {
			newest = k
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (st *keyStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.SigningKey, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.SigningKey
	for _, k := range st.s.keys {
		if k.RealmID == realmID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st *keyStore) Deactivate(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	k, ok := st.s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Active = false
	return nil
}

func (st *keyStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.keys[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.keys, id)
	return nil
}

// --- clients ---

type clientStore struct{ s *state }

func (st *clientStore) Create(_ context.Context, c *storage.Client) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.clients {
		if existing.RealmID == c.RealmID && existing.ClientID == c.ClientID {
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
	st.s.clients[c.ID] = &cp
	return nil
}

func (st *clientStore) GetByID(_ context.Context, id uuid.UUID) (*storage.Client, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	c, ok := st.s.clients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (st *clientStore) GetByClientID(_ context.Context, realmID uuid.UUID, clientID string) (*storage.Client, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, c := range st.s.clients {
		if c.RealmID == realmID && c.ClientID == clientID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *clientStore) Update(_ context.Context, c *storage.Client) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.clients[c.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *c
	st.s.clients[c.ID] = &cp
	return nil
}

func (st *clientStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.clients[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.clients, id)
	return nil
}

func (st *clientStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.Client, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Client
	for _, c := range st.s.clients {
		if c.RealmID == realmID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st *clientStore) ListBackchannel(_ context.Context, realmID uuid.UUID) ([]*storage.Client, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Client
	for _, c := range st.s.clients {
		if c.RealmID == realmID && c.BackchannelLogoutURI != nil && *c.BackchannelLogoutURI != "" {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- users ---

type userStore struct{ s *state }

func (st *userStore) Create(_ context.Context, u *storage.User) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.users {
		if existing.RealmID == u.RealmID && existing.Username == u.Username {
			return storage.ErrConflict
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	st.s.users[u.ID] = &cp
	return nil
}

func (st *userStore) GetByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	u, ok := st.s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (st *userStore) GetByUsername(_ context.Context, realmID uuid.UUID, username string) (*storage.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, u := range st.s.users {
		if u.RealmID == realmID && u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *userStore) GetByEmail(_ context.Context, realmID uuid.UUID, email string) (*storage.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, u := range st.s.users {
		if u.RealmID == realmID && u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *userStore) Update(_ context.Context, u *storage.User) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	cp := *u
	st.s.users[u.ID] = &cp
	return nil
}

func (st *userStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.users, id)
	delete(st.s.userRoles, id)
	delete(st.s.userGroups, id)
	delete(st.s.history, id)
	delete(st.s.recoveryCodes, id)
	delete(st.s.failures, id)
	return nil
}

func (st *userStore) ListByRealm(_ context.Context, realmID uuid.UUID) ([]*storage.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.User
	for _, u := range st.s.users {
		if u.RealmID == realmID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- login failures ---

type loginFailureStore struct{ s *state }

func (st *loginFailureStore) Get(_ context.Context, userID uuid.UUID) (*storage.LoginFailure, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	f, ok := st.s.failures[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (st *loginFailureStore) Upsert(_ context.Context, f *storage.LoginFailure) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *f
	st.s.failures[f.UserID] = &cp
	return nil
}

func (st *loginFailureStore) Delete(_ context.Context, userID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	delete(st.s.failures, userID)
	return nil
}
