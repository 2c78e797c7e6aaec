package mfa

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *storage.Stores) {
	t.Helper()
	stores := memory.NewStores()
	svc := NewService("Veridian", stores.Credentials, stores.RecoveryCodes, stores.PendingActions)
	return svc, stores
}

func testUser() *storage.User {
	return &storage.User{ID: uuid.New(), Username: "jane"}
}

func testRealm() *storage.Realm {
	return &storage.Realm{ID: uuid.New(), Name: "acme"}
}

func TestEnrollTOTP(t *testing.T) {
	ctx := context.Background()
	svc, stores := newTestService(t)
	user := testUser()

	enr, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, enr.Secret)
	assert.True(t, strings.HasPrefix(enr.QRDataURL, "data:image/png;base64,"))
	assert.Contains(t, enr.OtpauthURL, "Veridian")
	assert.Contains(t, enr.OtpauthURL, "acme")

	cred, err := stores.Credentials.GetByUserAndType(ctx, user.ID, "totp")
	require.NoError(t, err)
	assert.False(t, cred.Verified)
	assert.Equal(t, enr.Secret, cred.SecretKey)
	assert.Equal(t, 30, cred.Period)

	enabled, err := svc.IsEnabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled, "unverified enrollment does not enable mfa")
}

func TestEnrollTOTP_ReplacesPendingEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, stores := newTestService(t)
	user := testUser()

	first, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	second, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	cred, err := stores.Credentials.GetByUserAndType(ctx, user.ID, "totp")
	require.NoError(t, err)
	assert.Equal(t, second.Secret, cred.SecretKey)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user := testUser()

	enr, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)

	_, err = svc.Activate(ctx, user.ID, "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)

	codes, err := svc.Activate(ctx, user.ID, code)
	require.NoError(t, err)
	require.Len(t, codes, 10)
	for _, c := range codes {
		assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, c)
	}

	enabled, err := svc.IsEnabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	// A verified credential is not a pending enrollment.
	_, err = svc.Activate(ctx, user.ID, code)
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestActivate_NotEnrolled(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Activate(context.Background(), uuid.New(), "123456")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestVerifyTOTP(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user := testUser()

	enr, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)

	// Unverified credential never validates.
	ok, err := svc.VerifyTOTP(ctx, user.ID, code)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Activate(ctx, user.ID, code)
	require.NoError(t, err)

	ok, err = svc.VerifyTOTP(ctx, user.ID, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyTOTP(ctx, user.ID, "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTOTP_ClockSkew(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user := testUser()

	enr, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	_, err = svc.Activate(ctx, user.ID, code)
	require.NoError(t, err)

	// One period of drift is accepted, two is not.
	prev, err := totp.GenerateCode(enr.Secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	ok, err := svc.VerifyTOTP(ctx, user.ID, prev)
	require.NoError(t, err)
	assert.True(t, ok)

	stale, err := totp.GenerateCode(enr.Secret, time.Now().Add(-90*time.Second))
	require.NoError(t, err)
	ok, err = svc.VerifyTOTP(ctx, user.ID, stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func activateUser(t *testing.T, svc *Service, user *storage.User) []string {
	t.Helper()
	ctx := context.Background()
	enr, err := svc.EnrollTOTP(ctx, testRealm(), user)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	codes, err := svc.Activate(ctx, user.ID, code)
	require.NoError(t, err)
	return codes
}

func TestVerifyRecoveryCode_SingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user := testUser()
	codes := activateUser(t, svc, user)

	ok, err := svc.VerifyRecoveryCode(ctx, user.ID, codes[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyRecoveryCode(ctx, user.ID, codes[0])
	require.NoError(t, err)
	assert.False(t, ok, "a recovery code is consumed on first use")

	ok, err = svc.VerifyRecoveryCode(ctx, user.ID, codes[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRecoveryCode_Normalization(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user := testUser()
	codes := activateUser(t, svc, user)

	mangled := "  " + strings.ToLower(codes[0]) + " \n"
	ok, err := svc.VerifyRecoveryCode(ctx, user.ID, mangled)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRecoveryCode_Unknown(t *testing.T) {
	svc, _ := newTestService(t)
	ok, err := svc.VerifyRecoveryCode(context.Background(), uuid.New(), "AAAA-BBBB")
	require.NoError(t, err)
	assert.False(t, ok)
}
