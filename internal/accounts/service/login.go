package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/meadowbrook/clinisec/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrInvalidCredentials covers unknown usernames, wrong passwords and
	// inactive accounts alike, so callers cannot enumerate usernames.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoPendingChallenge means CompleteChallenge was called with no
	// challenge outstanding; the caller is out of sync and must restart.
	ErrNoPendingChallenge = errors.New("no login challenge is pending")
)

// AccountLockedError reports a refused authentication attempt on a locked
// account, carrying the time the lock self-heals.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// LoginService authenticates credentials, applies the lockout policy and
// gates fully authenticated sessions behind whichever one-time-code
// challenge the account requires.
type LoginService struct {
	Store    store.Store
	Notifier Notifier
	Logger   *slog.Logger
	Signer   *SessionSigner

	Lockout         LockoutPolicy
	CodeTTL         time.Duration // email challenge window, defaults to DefaultRegistrationCodeTTL
	DispatchTimeout time.Duration // defaults to DefaultDispatchTimeout

	// Now is the clock; tests override it.
	Now func() time.Time
}

// Authenticate checks a username/password pair. The lock check runs before
// any hashing work; a locked account answers uniformly regardless of
// credential correctness. A credential mismatch advances the lockout
// counters inside one transaction so near-simultaneous failures cannot lose
// updates. A passing credential check either issues the session directly or
// reports which challenge still stands between the caller and a session.
func (s *LoginService) Authenticate(ctx context.Context, username, password string) (domain.AuthResult, error) {
	account, err := s.Store.Accounts().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown username and wrong password must be indistinguishable.
			return domain.AuthResult{}, ErrInvalidCredentials
		}
		return domain.AuthResult{}, fmt.Errorf("failed to load account: %w", err)
	}

	if !account.Active {
		return domain.AuthResult{}, ErrInvalidCredentials
	}

	now := s.now()
	if locked, until := s.Lockout.Locked(account, now); locked {
		return domain.AuthResult{}, &AccountLockedError{Until: until}
	}

	if err := cryptox.VerifySecret(password, account.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrSecretMismatch) {
			if rerr := s.recordFailure(ctx, account.ID, now); rerr != nil {
				s.logger().Error("failed to record login failure", "account_id", account.ID, "err", rerr)
			}
			return domain.AuthResult{}, ErrInvalidCredentials
		}
		return domain.AuthResult{}, fmt.Errorf("failed to verify credentials: %w", err)
	}

	switch {
	case account.TwoFactorEnabled:
		// The marker is what lets CompleteChallenge accept a code: without
		// it, knowing the authenticator alone opens nothing.
		if err := s.Store.Accounts().SetTOTPChallenge(ctx, account.ID, now.Add(s.codeTTL())); err != nil {
			return domain.AuthResult{}, fmt.Errorf("failed to store login challenge: %w", err)
		}
		return domain.AuthResult{
			Status:  domain.StatusChallengeRequired,
			Method:  domain.ChallengeTOTP,
			Account: account.Sanitized(),
		}, nil

	case account.OTPRequiredForLogin:
		if err := s.issueEmailChallenge(ctx, account, now); err != nil {
			return domain.AuthResult{}, err
		}
		return domain.AuthResult{
			Status:  domain.StatusChallengeRequired,
			Method:  domain.ChallengeEmailCode,
			Account: account.Sanitized(),
		}, nil
	}

	return s.finishLogin(ctx, account, now)
}

// CompleteChallenge resolves the outstanding one-time-code challenge left by
// a passing credential check. Both paths are gated on server-side state that
// only Authenticate writes: the authenticator path on the challenge marker,
// the email path on the pending code hash. With neither present the call is
// refused, so a code alone never opens a session. When the authenticator
// challenge succeeds on an account whose operator flag is set, the email
// gate is issued next instead of a session: the two mechanisms are distinct
// and the flag is consumed only by its own challenge. A wrong code counts as
// a login failure so the challenge cannot be brute forced past the lockout
// policy.
func (s *LoginService) CompleteChallenge(ctx context.Context, username, code string) (domain.AuthResult, error) {
	account, err := s.Store.Accounts().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AuthResult{}, ErrInvalidCredentials
		}
		return domain.AuthResult{}, fmt.Errorf("failed to load account: %w", err)
	}

	if !account.Active {
		return domain.AuthResult{}, ErrInvalidCredentials
	}

	now := s.now()
	if locked, until := s.Lockout.Locked(account, now); locked {
		return domain.AuthResult{}, &AccountLockedError{Until: until}
	}

	switch {
	case account.TwoFactorEnabled && account.TOTPChallengeExpiry != nil:
		if now.After(*account.TOTPChallengeExpiry) {
			// The window elapsed; only a fresh credential check reopens it.
			if cerr := s.Store.Accounts().ClearTOTPChallenge(ctx, account.ID); cerr != nil {
				s.logger().Error("failed to clear expired login challenge", "account_id", account.ID, "err", cerr)
			}
			return domain.AuthResult{}, ErrNoPendingChallenge
		}
		if account.TwoFactorSecret == nil {
			// Schema CHECKs make this unreachable; fail loudly if it happens.
			return domain.AuthResult{}, fmt.Errorf("account %s has second factor enabled without a secret", account.ID)
		}
		if !validateTOTP(code, *account.TwoFactorSecret, now) {
			if rerr := s.recordFailure(ctx, account.ID, now); rerr != nil {
				s.logger().Error("failed to record login failure", "account_id", account.ID, "err", rerr)
			}
			return domain.AuthResult{}, ErrInvalidCode
		}

		if account.OTPRequiredForLogin {
			// The operator gate is a separate mechanism; chain it instead of
			// letting the second factor swallow it.
			if err := s.Store.Accounts().ClearTOTPChallenge(ctx, account.ID); err != nil {
				return domain.AuthResult{}, fmt.Errorf("failed to clear login challenge: %w", err)
			}
			if err := s.issueEmailChallenge(ctx, account, now); err != nil {
				return domain.AuthResult{}, err
			}
			return domain.AuthResult{
				Status:  domain.StatusChallengeRequired,
				Method:  domain.ChallengeEmailCode,
				Account: account.Sanitized(),
			}, nil
		}

	case account.PendingOTPHash != nil:
		if account.PendingOTPExpiry == nil || now.After(*account.PendingOTPExpiry) {
			// The window elapsed; retry requires a fresh code, not resubmission.
			if cerr := s.Store.Accounts().ClearPendingOTP(ctx, account.ID); cerr != nil {
				s.logger().Error("failed to clear expired login challenge", "account_id", account.ID, "err", cerr)
			}
			return domain.AuthResult{}, ErrCodeExpired
		}
		if err := cryptox.VerifySecret(code, *account.PendingOTPHash); err != nil {
			if errors.Is(err, cryptox.ErrSecretMismatch) {
				if rerr := s.recordFailure(ctx, account.ID, now); rerr != nil {
					s.logger().Error("failed to record login failure", "account_id", account.ID, "err", rerr)
				}
				return domain.AuthResult{}, ErrInvalidCode
			}
			return domain.AuthResult{}, fmt.Errorf("failed to verify one-time code: %w", err)
		}

	default:
		return domain.AuthResult{}, ErrNoPendingChallenge
	}

	return s.finishLogin(ctx, account, now)
}

// finishLogin clears challenge state, resets the lockout counters and mints
// the session claim. The one-shot operator OTP flag is consumed here.
func (s *LoginService) finishLogin(ctx context.Context, account domain.Account, now time.Time) (domain.AuthResult, error) {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if account.PendingOTPHash != nil {
			if err := tx.Accounts().ClearPendingOTP(ctx, account.ID); err != nil {
				return fmt.Errorf("failed to clear login challenge: %w", err)
			}
		}
		if account.TOTPChallengeExpiry != nil {
			if err := tx.Accounts().ClearTOTPChallenge(ctx, account.ID); err != nil {
				return fmt.Errorf("failed to clear login challenge: %w", err)
			}
		}
		if account.OTPRequiredForLogin {
			if err := tx.Accounts().SetOTPRequired(ctx, account.ID, false); err != nil {
				return fmt.Errorf("failed to clear login challenge flag: %w", err)
			}
		}
		if err := tx.Accounts().ResetLoginFailures(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to reset login failures: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AuthResult{}, err
	}

	token, expiresAt, err := s.Signer.Issue(account.ID, now)
	if err != nil {
		return domain.AuthResult{}, err
	}

	account.FailedLoginCount = 0
	account.LockedUntil = nil
	account.OTPRequiredForLogin = false
	account.PendingOTPHash = nil
	account.PendingOTPExpiry = nil
	account.TOTPChallengeExpiry = nil

	s.logger().Info("login succeeded", "account_id", account.ID)
	return domain.AuthResult{
		Status:    domain.StatusAuthenticated,
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account.Sanitized(),
	}, nil
}

// recordFailure applies the lockout policy's failure branch. The re-read and
// write happen inside one transaction so two near-simultaneous failures on
// the same account cannot lose an increment.
func (s *LoginService) recordFailure(ctx context.Context, accountID string, now time.Time) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return err
		}

		count, lockedUntil := s.Lockout.OnFailure(account.FailedLoginCount, now)
		if err := tx.Accounts().RecordLoginFailure(ctx, accountID, count, lockedUntil); err != nil {
			return err
		}

		if lockedUntil != nil {
			s.logger().Warn("account locked after repeated failures",
				"account_id", accountID, "until", lockedUntil)
		}
		return nil
	})
}

// issueEmailChallenge stores a hashed one-time code on the account and
// dispatches the cleartext within the bounded timeout.
func (s *LoginService) issueEmailChallenge(ctx context.Context, account domain.Account, now time.Time) error {
	code, err := cryptox.GenerateNumericCode(cryptox.DefaultCodeDigits)
	if err != nil {
		return fmt.Errorf("failed to generate one-time code: %w", err)
	}
	codeHash, err := cryptox.HashSecret(code)
	if err != nil {
		return fmt.Errorf("failed to hash one-time code: %w", err)
	}

	if err := s.Store.Accounts().SetPendingOTP(ctx, account.ID, codeHash, now.Add(s.codeTTL())); err != nil {
		return fmt.Errorf("failed to store login challenge: %w", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout())
	defer cancel()

	subject := "Your login code"
	body := fmt.Sprintf("Your login code is %s. It expires in %s.", code, s.codeTTL())
	if err := s.Notifier.Send(dispatchCtx, account.Email, subject, body); err != nil {
		s.logger().Warn("login code dispatch failed", "account_id", account.ID, "err", err)
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return nil
}

// validateTOTP checks an authenticator code against the committed secret,
// allowing the standard one-step clock-skew window.
func validateTOTP(code, secret string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *LoginService) codeTTL() time.Duration {
	if s.CodeTTL > 0 {
		return s.CodeTTL
	}
	return DefaultRegistrationCodeTTL
}

func (s *LoginService) dispatchTimeout() time.Duration {
	if s.DispatchTimeout > 0 {
		return s.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

func (s *LoginService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *LoginService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
