package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newLoginService(t *testing.T, notifier *fakeNotifier) (*LoginService, store.Store) {
	t.Helper()

	st := newTestStore(t)
	return &LoginService{
		Store:    st,
		Notifier: notifier,
		Signer:   NewSessionSigner("clinisec-test", time.Hour),
		Lockout:  DefaultLockoutPolicy(),
	}, st
}

func TestAuthenticate_Success(t *testing.T) {
	svc, _ := newLoginService(t, &fakeNotifier{})
	createAccount(t, svc.Store, "bob", "bob@example.com", "P@ssw0rd1")

	res, err := svc.Authenticate(context.Background(), "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)
	require.NotEmpty(t, res.Token)

	// The session claim names the account it was issued for.
	subject, err := svc.Signer.Verify(res.Token)
	require.NoError(t, err)
	require.Equal(t, res.Account.ID, subject)
}

func TestAuthenticate_UnknownUserAndWrongPasswordIndistinguishable(t *testing.T) {
	svc, _ := newLoginService(t, &fakeNotifier{})
	createAccount(t, svc.Store, "bob", "bob@example.com", "P@ssw0rd1")

	_, errUnknown := svc.Authenticate(context.Background(), "nobody", "P@ssw0rd1")
	_, errWrong := svc.Authenticate(context.Background(), "bob", "wrong-password")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
}

func TestAuthenticate_InactiveAccount(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	require.NoError(t, st.Accounts().SetActive(context.Background(), account.ID, false))

	_, err := svc.Authenticate(context.Background(), "bob", "P@ssw0rd1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_LockoutAfterMaxAttempts(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	now := time.Now().UTC()
	svc.Now = func() time.Time { return now }

	for i := 0; i < DefaultMaxLoginAttempts; i++ {
		_, err := svc.Authenticate(ctx, "bob", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The 6th attempt fails with AccountLocked even with correct credentials.
	_, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
	require.WithinDuration(t, now.Add(DefaultLockoutDuration), locked.Until, time.Second)

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxLoginAttempts, stored.FailedLoginCount)

	// Once the lock elapses, correct credentials succeed and reset counters.
	svc.Now = func() time.Time { return now.Add(DefaultLockoutDuration + time.Second) }

	res, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)

	stored, err = st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginCount)
	require.Nil(t, stored.LockedUntil)
}

func TestAuthenticate_SuccessResetsCounter(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "bob", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginCount)
}

func TestAuthenticate_ConcurrentFailuresDoNotLoseUpdates(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	const workers = 4
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Authenticate(ctx, "bob", "wrong")
		}()
	}
	wg.Wait()

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, workers, stored.FailedLoginCount)
}

func TestAuthenticate_EmailChallengeGate(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, st := newLoginService(t, notifier)
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	require.NoError(t, st.Accounts().SetOTPRequired(ctx, account.ID, true))

	// Credential check still happens first.
	_, err := svc.Authenticate(ctx, "bob", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Zero(t, notifier.count())

	res, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusChallengeRequired, res.Status)
	require.Equal(t, domain.ChallengeEmailCode, res.Method)
	require.Empty(t, res.Token)

	code := codeFromBody(t, notifier.last(t).Body)

	res, err = svc.CompleteChallenge(ctx, "bob", code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)
	require.NotEmpty(t, res.Token)

	// The gate is one-shot: flag, challenge and counters are all cleared.
	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.OTPRequiredForLogin)
	require.Nil(t, stored.PendingOTPHash)
	require.Zero(t, stored.FailedLoginCount)
}

func TestCompleteChallenge_ExpiredEmailCode(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, st := newLoginService(t, notifier)
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	require.NoError(t, st.Accounts().SetOTPRequired(ctx, account.ID, true))

	now := time.Now().UTC()
	svc.Now = func() time.Time { return now }

	_, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	code := codeFromBody(t, notifier.last(t).Body)

	svc.Now = func() time.Time { return now.Add(DefaultRegistrationCodeTTL + time.Second) }

	_, err = svc.CompleteChallenge(ctx, "bob", code)
	require.ErrorIs(t, err, ErrCodeExpired)

	// The stale challenge is gone; resubmission cannot succeed later.
	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, stored.PendingOTPHash)

	_, err = svc.CompleteChallenge(ctx, "bob", code)
	require.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestCompleteChallenge_TOTP(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "clinisec-test", AccountName: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.Accounts().EnableTwoFactor(ctx, account.ID, key.Secret()))

	res, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusChallengeRequired, res.Status)
	require.Equal(t, domain.ChallengeTOTP, res.Method)

	_, err = svc.CompleteChallenge(ctx, "bob", "000000")
	require.ErrorIs(t, err, ErrInvalidCode)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	res, err = svc.CompleteChallenge(ctx, "bob", code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)
	require.NotEmpty(t, res.Token)
}

func TestCompleteChallenge_RequiresCredentialCheck(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "clinisec-test", AccountName: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.Accounts().EnableTwoFactor(ctx, account.ID, key.Secret()))

	// A valid authenticator code alone must not open a session; the
	// password check has to come first.
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	_, err = svc.CompleteChallenge(ctx, "bob", code)
	require.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestCompleteChallenge_TOTPWindowElapsed(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "clinisec-test", AccountName: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.Accounts().EnableTwoFactor(ctx, account.ID, key.Secret()))

	now := time.Now().UTC()
	svc.Now = func() time.Time { return now }

	_, err = svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)

	svc.Now = func() time.Time { return now.Add(DefaultRegistrationCodeTTL + time.Second) }

	code, err := totp.GenerateCode(key.Secret(), now.Add(DefaultRegistrationCodeTTL+time.Second))
	require.NoError(t, err)

	_, err = svc.CompleteChallenge(ctx, "bob", code)
	require.ErrorIs(t, err, ErrNoPendingChallenge)

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, stored.TOTPChallengeExpiry)
}

func TestCompleteChallenge_OperatorGateChainsAfterTOTP(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, st := newLoginService(t, notifier)
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "clinisec-test", AccountName: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.Accounts().EnableTwoFactor(ctx, account.ID, key.Secret()))
	require.NoError(t, st.Accounts().SetOTPRequired(ctx, account.ID, true))

	res, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeTOTP, res.Method)
	require.Zero(t, notifier.count())

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	// Passing the second factor does not swallow the operator gate: the
	// email challenge is issued next and the flag stands until it passes.
	res, err = svc.CompleteChallenge(ctx, "bob", code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusChallengeRequired, res.Status)
	require.Equal(t, domain.ChallengeEmailCode, res.Method)
	require.Empty(t, res.Token)
	require.Equal(t, 1, notifier.count())

	stored, err := st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, stored.OTPRequiredForLogin)
	require.Nil(t, stored.TOTPChallengeExpiry)
	require.NotNil(t, stored.PendingOTPHash)

	emailCode := codeFromBody(t, notifier.last(t).Body)
	res, err = svc.CompleteChallenge(ctx, "bob", emailCode)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)
	require.NotEmpty(t, res.Token)

	stored, err = st.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.OTPRequiredForLogin)
	require.Nil(t, stored.PendingOTPHash)
}

func TestAuthenticate_ResultCarriesNoSecrets(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, st := newLoginService(t, notifier)
	account := createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "clinisec-test", AccountName: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.Accounts().EnableTwoFactor(ctx, account.ID, key.Secret()))

	res, err := svc.Authenticate(ctx, "bob", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusChallengeRequired, res.Status)
	require.Empty(t, res.Account.PasswordHash)
	require.Nil(t, res.Account.TwoFactorSecret)
	require.Nil(t, res.Account.PendingOTPHash)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	res, err = svc.CompleteChallenge(ctx, "bob", code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAuthenticated, res.Status)
	require.Empty(t, res.Account.PasswordHash)
	require.Nil(t, res.Account.TwoFactorSecret)
}

func TestCompleteChallenge_NothingPending(t *testing.T) {
	svc, st := newLoginService(t, &fakeNotifier{})
	createAccount(t, st, "bob", "bob@example.com", "P@ssw0rd1")

	_, err := svc.CompleteChallenge(context.Background(), "bob", "123456")
	require.ErrorIs(t, err, ErrNoPendingChallenge)
}
