package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/storage"
)

// --- sessions ---

type sessionStore struct{ s *state }

func (st *sessionStore) Create(_ context.Context, sess *storage.Session) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	cp := *sess
	st.s.sessions[sess.ID] = &cp
	return nil
}

func (st *sessionStore) GetByID(_ context.Context, id uuid.UUID) (*storage.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sess, ok := st.s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (st *sessionStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.sessions, id)
	return nil
}

func (st *sessionStore) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for id, sess := range st.s.sessions {
		if sess.UserID == userID {
			delete(st.s.sessions, id)
		}
	}
	return nil
}

func (st *sessionStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*storage.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.Session
	for _, sess := range st.s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st *sessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, sess := range st.s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(st.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- refresh tokens ---

type refreshTokenStore struct{ s *state }

func (st *refreshTokenStore) Create(_ context.Context, t *storage.RefreshToken) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.refreshTokens {
		if existing.TokenHash == t.TokenHash {
			return storage.ErrConflict
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	st.s.refreshTokens[t.ID] = &cp
	return nil
}

func (st *refreshTokenStore) GetByHash(_ context.Context, hash string) (*storage.RefreshToken, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, t := range st.s.refreshTokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *refreshTokenStore) Revoke(_ context.Context, id uuid.UUID) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	t, ok := st.s.refreshTokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

func (st *refreshTokenStore) RevokeBySession(_ context.Context, sessionID uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, t := range st.s.refreshTokens {
		if t.SessionID == sessionID {
			t.Revoked = true
		}
	}
	return nil
}

func (st *refreshTokenStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*storage.RefreshToken, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*storage.RefreshToken
	for _, t := range st.s.refreshTokens {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st *refreshTokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, t := range st.s.refreshTokens {
		if t.ExpiresAt.Before(now) {
			delete(st.s.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

// --- authorization codes ---

type authCodeStore struct{ s *state }

func (st *authCodeStore) Create(_ context.Context, c *storage.AuthorizationCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.authCodes {
		if existing.Code == c.Code {
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
	st.s.authCodes[c.ID] = &cp
	return nil
}

func (st *authCodeStore) GetByCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, c := range st.s.authCodes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *authCodeStore) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	c, ok := st.s.authCodes[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	return true, nil
}

func (st *authCodeStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, c := range st.s.authCodes {
		if c.ExpiresAt.Before(now) {
			delete(st.s.authCodes, id)
			n++
		}
	}
	return n, nil
}

// --- device codes ---

type deviceCodeStore struct{ s *state }

func (st *deviceCodeStore) Create(_ context.Context, d *storage.DeviceCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	st.s.deviceCodes[d.ID] = &cp
	return nil
}

func (st *deviceCodeStore) GetByDeviceCode(_ context.Context, realmID uuid.UUID, deviceCode string) (*storage.DeviceCode, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, d := range st.s.deviceCodes {
		if d.RealmID == realmID && d.DeviceCode == deviceCode {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *deviceCodeStore) GetByUserCode(_ context.Context, realmID uuid.UUID, userCode string) (*storage.DeviceCode, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, d := range st.s.deviceCodes {
		if d.RealmID == realmID && d.UserCode == userCode {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *deviceCodeStore) Update(_ context.Context, d *storage.DeviceCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.deviceCodes[d.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *d
	st.s.deviceCodes[d.ID] = &cp
	return nil
}

func (st *deviceCodeStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.deviceCodes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.deviceCodes, id)
	return nil
}

func (st *deviceCodeStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, d := range st.s.deviceCodes {
		if d.ExpiresAt.Before(now) {
			delete(st.s.deviceCodes, id)
			n++
		}
	}
	return n, nil
}

// --- login sessions ---

type loginSessionStore struct{ s *state }

func (st *loginSessionStore) Create(_ context.Context, l *storage.LoginSession) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	cp := *l
	st.s.loginSessions[l.ID] = &cp
	return nil
}

func (st *loginSessionStore) GetByHash(_ context.Context, hash string) (*storage.LoginSession, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, l := range st.s.loginSessions {
		if l.TokenHash == hash {
			cp := *l
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *loginSessionStore) Delete(_ context.Context, id uuid.UUID) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.loginSessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.s.loginSessions, id)
	return nil
}

func (st *loginSessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for id, l := range st.s.loginSessions {
		if l.ExpiresAt.Before(now) {
			delete(st.s.loginSessions, id)
			n++
		}
	}
	return n, nil
}
