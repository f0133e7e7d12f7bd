package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newEnrollmentService(t *testing.T) (*EnrollmentService, store.Store) {
	t.Helper()

	st := newTestStore(t)
	return &EnrollmentService{Store: st, Issuer: "clinisec-test"}, st
}

func TestEnrollment_BeginConfirm(t *testing.T) {
	svc, st := newEnrollmentService(t)
	account := createAccount(t, st, "carol", "carol@example.com", "P@ssw0rd1")
	ctx := context.Background()

	pending, err := svc.Begin(ctx, account.ID)
	require.NoError(t, err)
	require.NotEmpty(t, pending.Secret)
	require.True(t, strings.HasPrefix(pending.URL, "otpauth://totp/"))
	require.Contains(t, pending.URL, "clinisec-test")

	// Nothing touches the store until possession is proven.
	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.TwoFactorEnabled)
	require.Nil(t, stored.TwoFactorSecret)

	secret := pending.Secret
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, pending, code))

	stored, err = st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, stored.TwoFactorEnabled)
	require.NotNil(t, stored.TwoFactorSecret)
	require.Equal(t, secret, *stored.TwoFactorSecret)

	// The candidate is discarded so stale state cannot be re-committed.
	require.Empty(t, pending.Secret)
	require.ErrorIs(t, svc.Confirm(ctx, pending, code), ErrNotEnrolled)
}

func TestEnrollment_WrongCodeKeepsCandidate(t *testing.T) {
	svc, st := newEnrollmentService(t)
	account := createAccount(t, st, "carol", "carol@example.com", "P@ssw0rd1")
	ctx := context.Background()

	pending, err := svc.Begin(ctx, account.ID)
	require.NoError(t, err)

	// A code derived from some other secret must not confirm this one.
	other, err := totp.Generate(totp.GenerateOpts{Issuer: "x", AccountName: "y"})
	require.NoError(t, err)
	wrongCode, err := totp.GenerateCode(other.Secret(), time.Now())
	require.NoError(t, err)
	if wrongCode == mustCurrentCode(t, pending.Secret) {
		t.Skip("generated codes collided")
	}

	require.ErrorIs(t, svc.Confirm(ctx, pending, wrongCode), ErrInvalidCode)

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.TwoFactorEnabled)

	// Retry with the right code still works; no re-scan needed.
	require.NoError(t, svc.Confirm(ctx, pending, mustCurrentCode(t, pending.Secret)))
}

func TestEnrollment_BeginWhenAlreadyEnrolled(t *testing.T) {
	svc, st := newEnrollmentService(t)
	account := createAccount(t, st, "carol", "carol@example.com", "P@ssw0rd1")
	ctx := context.Background()

	pending, err := svc.Begin(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, pending, mustCurrentCode(t, pending.Secret)))

	_, err = svc.Begin(ctx, account.ID)
	require.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestEnrollment_Cancel(t *testing.T) {
	svc, st := newEnrollmentService(t)
	account := createAccount(t, st, "carol", "carol@example.com", "P@ssw0rd1")
	ctx := context.Background()

	pending, err := svc.Begin(ctx, account.ID)
	require.NoError(t, err)
	code := mustCurrentCode(t, pending.Secret)

	svc.Cancel(pending)
	require.Empty(t, pending.Secret)
	require.ErrorIs(t, svc.Confirm(ctx, pending, code), ErrNotEnrolled)

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.TwoFactorEnabled)
}

func TestEnrollment_Disable(t *testing.T) {
	svc, st := newEnrollmentService(t)
	account := createAccount(t, st, "carol", "carol@example.com", "P@ssw0rd1")
	ctx := context.Background()

	pending, err := svc.Begin(ctx, account.ID)
	require.NoError(t, err)
	secret := pending.Secret
	require.NoError(t, svc.Confirm(ctx, pending, mustCurrentCode(t, secret)))

	require.ErrorIs(t, svc.Disable(ctx, account.ID, "000000"), ErrInvalidCode)

	require.NoError(t, svc.Disable(ctx, account.ID, mustCurrentCode(t, secret)))

	// Secret and flag come off together.
	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.TwoFactorEnabled)
	require.Nil(t, stored.TwoFactorSecret)

	require.ErrorIs(t, svc.Disable(ctx, account.ID, mustCurrentCode(t, secret)), ErrNotEnrolled)
}

func mustCurrentCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}
