package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrAlreadyEnrolled = errors.New("second factor already enrolled")
	ErrNotEnrolled     = errors.New("second factor not enrolled")
)

// EnrollmentService manages time-based second-factor enrollment. A candidate
// secret lives only in the session-scoped PendingEnrollment until the user
// proves possession by producing a valid code; only then is it committed,
// together with the enabled flag, in a single update.
type EnrollmentService struct {
	Store  store.Store
	Logger *slog.Logger
	Issuer string // issuer label embedded in provisioning URIs

	// Now is the clock; tests override it.
	Now func() time.Time
}

// Begin generates a fresh secret and provisioning URI for the account. The
// secret is not written to the store; it rides in the returned session value
// until Confirm or Cancel.
func (s *EnrollmentService) Begin(ctx context.Context, accountID string) (*domain.PendingEnrollment, error) {
	account, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if account.TwoFactorEnabled {
		return nil, ErrAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: account.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate second-factor secret: %w", err)
	}

	return &domain.PendingEnrollment{
		AccountID: account.ID,
		Secret:    key.Secret(),
		URL:       key.URL(),
	}, nil
}

// Confirm verifies a code against the candidate secret (one-step skew
// tolerance) and commits secret plus enabled flag in one update. A mismatch
// keeps the candidate intact so the user can retry without re-scanning.
func (s *EnrollmentService) Confirm(ctx context.Context, pending *domain.PendingEnrollment, code string) error {
	if pending == nil || pending.Secret == "" {
		return ErrNotEnrolled
	}

	if !validateTOTP(code, pending.Secret, s.now()) {
		return ErrInvalidCode
	}

	if err := s.Store.Accounts().EnableTwoFactor(ctx, pending.AccountID, pending.Secret); err != nil {
		return fmt.Errorf("failed to commit second factor: %w", err)
	}

	// Discard the candidate so a stale dialog cannot re-commit it.
	pending.Secret = ""
	pending.URL = ""

	s.logger().Info("second factor enrolled", "account_id", pending.AccountID)
	return nil
}

// Cancel discards the candidate secret. Account state is unchanged: the
// account is still not enrolled.
func (s *EnrollmentService) Cancel(pending *domain.PendingEnrollment) {
	if pending == nil {
		return
	}
	pending.Secret = ""
	pending.URL = ""
}

// Disable removes a committed second factor after the holder proves
// possession with a current code. Secret and flag are cleared together.
func (s *EnrollmentService) Disable(ctx context.Context, accountID string, code string) error {
	account, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	if !account.TwoFactorEnabled || account.TwoFactorSecret == nil {
		return ErrNotEnrolled
	}

	if !validateTOTP(code, *account.TwoFactorSecret, s.now()) {
		return ErrInvalidCode
	}

	if err := s.Store.Accounts().DisableTwoFactor(ctx, accountID); err != nil {
		return fmt.Errorf("failed to disable second factor: %w", err)
	}

	s.logger().Info("second factor disabled", "account_id", accountID)
	return nil
}

func (s *EnrollmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *EnrollmentService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
