package admin

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *storage.Stores, *keys.Service) {
	t.Helper()
	stores := memory.NewStores()
	keySvc := keys.NewService(stores.Keys)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(stores, keySvc, crypto.NewArgon2Hasher(), logger), stores, keySvc
}

func TestCreateRealm(t *testing.T) {
	svc, _, keySvc := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme", Enabled: true}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	assert.Equal(t, 300, realm.AccessTokenLifespan)
	assert.Equal(t, 3600, realm.RefreshTokenLifespan)

	// The realm comes with a signing key ready to issue tokens.
	key, err := keySvc.ActiveKey(ctx, realm.ID)
	require.NoError(t, err)
	assert.True(t, key.Active)
}

func TestCreateRealm_InvalidName(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.CreateRealm(context.Background(), &storage.Realm{Name: "bad name/with?chars"})
	assert.ErrorIs(t, err, ErrRealmNameInvalid)
}

func TestUpdateRealm_NameImmutable(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme"}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	renamed := *realm
	renamed.Name = "acme2"
	assert.ErrorIs(t, svc.UpdateRealm(ctx, &renamed), ErrRealmNameInvalid)
}

func TestCreateClient_ConfidentialSecret(t *testing.T) {
	svc, stores, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme"}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	client := &storage.Client{
		RealmID:  realm.ID,
		ClientID: "backend",
		Type:     storage.ClientConfidential,
		Enabled:  true,
	}
	secret, err := svc.CreateClient(ctx, client)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	// The raw secret is never persisted, only its argon2id hash.
	stored, err := stores.Clients.GetByClientID(ctx, realm.ID, "backend")
	require.NoError(t, err)
	require.NotNil(t, stored.SecretHash)
	assert.NotContains(t, *stored.SecretHash, secret)
	assert.NoError(t, crypto.NewArgon2Hasher().Compare(*stored.SecretHash, secret))
}

func TestCreateClient_PublicHasNoSecret(t *testing.T) {
	svc, stores, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme"}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	client := &storage.Client{RealmID: realm.ID, ClientID: "spa", Type: storage.ClientPublic}
	secret, err := svc.CreateClient(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, secret)

	stored, err := stores.Clients.GetByClientID(ctx, realm.ID, "spa")
	require.NoError(t, err)
	assert.Nil(t, stored.SecretHash)
}

func TestRegenerateClientSecret(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme"}
	require.NoError(t, svc.CreateRealm(ctx, realm))
	client := &storage.Client{RealmID: realm.ID, ClientID: "backend", Type: storage.ClientConfidential}
	first, err := svc.CreateClient(ctx, client)
	require.NoError(t, err)

	second, err := svc.RegenerateClientSecret(ctx, client.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCreateUser_PasswordPolicy(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{
		Name:              "acme",
		PasswordMinLength: 10,
		RequireDigits:     true,
	}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	user := &storage.User{Username: "jane", Enabled: true}
	err := svc.CreateUser(ctx, realm, user, "short")
	assert.ErrorIs(t, err, ErrPasswordPolicy)

	require.NoError(t, svc.CreateUser(ctx, realm, user, "longenough99"))
	require.NotNil(t, user.PasswordHash)
	assert.NotNil(t, user.PasswordChangedAt)
}

func TestSetPassword_HistoryRejected(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme", PasswordHistoryCount: 3}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	user := &storage.User{Username: "jane", Enabled: true}
	require.NoError(t, svc.CreateUser(ctx, realm, user, "first-password"))

	assert.ErrorIs(t, svc.SetPassword(ctx, realm, user, "first-password"), ErrPasswordReused)
	assert.NoError(t, svc.SetPassword(ctx, realm, user, "second-password"))
}

func TestUnlockUser(t *testing.T) {
	svc, stores, _ := newService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, stores.LoginFailures.Upsert(ctx, &storage.LoginFailure{
		UserID:           userID,
		PermanentLockout: true,
	}))
	require.NoError(t, svc.UnlockUser(ctx, userID))

	_, err := stores.LoginFailures.Get(ctx, userID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRoleAndGroupCRUD(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	realm := &storage.Realm{Name: "acme"}
	require.NoError(t, svc.CreateRealm(ctx, realm))

	role := &storage.Role{RealmID: realm.ID, Name: "admin"}
	require.NoError(t, svc.CreateRole(ctx, role))
	group := &storage.Group{RealmID: realm.ID, Name: "ops"}
	require.NoError(t, svc.CreateGroup(ctx, group))

	user := &storage.User{Username: "jane", Enabled: true}
	require.NoError(t, svc.CreateUser(ctx, realm, user, ""))

	require.NoError(t, svc.AssignRoleToUser(ctx, user.ID, role.ID))
	require.NoError(t, svc.AddUserToGroup(ctx, user.ID, group.ID))
	require.NoError(t, svc.AssignRoleToGroup(ctx, group.ID, role.ID))

	roles, err := svc.ListRoles(ctx, realm.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}
