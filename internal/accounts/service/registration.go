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
	"github.com/meadowbrook/clinisec/pkg/idx"
	"golang.org/x/time/rate"
)

// Registration timing defaults observed across the clinic deployment.
const (
	DefaultRegistrationCodeTTL = 5 * time.Minute
	DefaultDispatchTimeout     = 20 * time.Second
)

var (
	ErrNoPendingRegistration = errors.New("no registration is pending")
	ErrCodeExpired           = errors.New("one-time code has expired")
	ErrInvalidCode           = errors.New("one-time code is invalid")
	ErrDispatchFailed        = errors.New("failed to dispatch one-time code")
	ErrResendThrottled       = errors.New("resend requested too soon")
)

// ValidationError carries the per-field reasons a registration request was
// rejected. Nothing is mutated when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registration input invalid: %d field(s)", len(e.Fields))
}

// RegistrationInput is the candidate account plus linked profile payload
// submitted by the registration form.
type RegistrationInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	Role            string
	FullName        string
	Phone           string
	Address         string
}

// RegistrationService drives the two-phase email-verified registration flow:
// collect the candidate payload, challenge the address with a one-time code,
// and only persist once the code is verified. The pending attempt lives in
// the returned session value, never in the database, so an abandoned
// registration leaves no trace.
type RegistrationService struct {
	Store    store.Store
	Notifier Notifier
	Logger   *slog.Logger

	CodeTTL         time.Duration // defaults to DefaultRegistrationCodeTTL
	DispatchTimeout time.Duration // defaults to DefaultDispatchTimeout

	// Resends burn a notification per call, so they are throttled.
	ResendLimit *rate.Limiter

	// Now is the clock; tests override it.
	Now func() time.Time
}

// Begin validates the candidate payload, issues a hashed one-time code with
// a bounded validity window and dispatches the cleartext code to the
// candidate address. On dispatch failure or timeout the pending value is
// still returned alongside ErrDispatchFailed so the caller can offer a
// resend instead of forcing the user to re-enter the form.
func (s *RegistrationService) Begin(ctx context.Context, in RegistrationInput) (*domain.PendingRegistration, error) {
	if fieldErrs := in.Validate(); fieldErrs != nil {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	passwordHash, err := cryptox.HashSecret(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	pending := &domain.PendingRegistration{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		Role:         in.Role,
		Profile: domain.Profile{
			FullName: in.FullName,
			Phone:    in.Phone,
			Address:  in.Address,
		},
	}

	if err := s.issueCode(ctx, pending); err != nil {
		if errors.Is(err, ErrDispatchFailed) {
			// Keep the pending attempt so the caller may retry via Resend.
			return pending, err
		}
		return nil, err
	}

	s.logger().Info("registration challenge issued", "username", in.Username)
	return pending, nil
}

// Resend invalidates the previous code and dispatches a fresh one. The swap
// of hash and expiry is atomic on the pending value: there is no window
// where both codes verify.
func (s *RegistrationService) Resend(ctx context.Context, pending *domain.PendingRegistration) error {
	if pending == nil || pending.Consumed() {
		return ErrNoPendingRegistration
	}
	if s.ResendLimit != nil && !s.ResendLimit.Allow() {
		return ErrResendThrottled
	}

	if err := s.issueCode(ctx, pending); err != nil {
		return err
	}

	s.logger().Info("registration challenge resent", "username", pending.Username)
	return nil
}

// Verify checks the submitted code against the pending attempt. An expired
// code clears the attempt (a second Verify reports no pending registration);
// a wrong code keeps it so the user may retry or resend. On success the
// account, its profile and the link between them are persisted as one unit
// of work, with the email marked verified.
func (s *RegistrationService) Verify(ctx context.Context, pending *domain.PendingRegistration, code string) (domain.Account, error) {
	if pending == nil {
		return domain.Account{}, ErrNoPendingRegistration
	}

	hash, expiry, ok := pending.Challenge()
	if !ok {
		return domain.Account{}, ErrNoPendingRegistration
	}

	now := s.now()
	if now.After(expiry) {
		// Force a fresh start; the candidate payload is gone with the code.
		pending.Consume()
		return domain.Account{}, ErrCodeExpired
	}

	if err := cryptox.VerifySecret(code, hash); err != nil {
		if errors.Is(err, cryptox.ErrSecretMismatch) {
			return domain.Account{}, ErrInvalidCode
		}
		return domain.Account{}, fmt.Errorf("failed to verify one-time code: %w", err)
	}

	account := domain.Account{
		ID:            idx.New().String(),
		Username:      pending.Username,
		Email:         pending.Email,
		PasswordHash:  pending.PasswordHash,
		Role:          pending.Role,
		Active:        true,
		EmailVerified: true,
	}
	profile := pending.Profile
	profile.ID = idx.New().String()
	profile.AccountID = account.ID

	// Account, profile and link are one unit of work: a failure in any step
	// must not leave an orphaned, unlinked account behind.
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().Create(ctx, account); err != nil {
			return fmt.Errorf("failed to persist account: %w", err)
		}
		if err := tx.Profiles().Create(ctx, profile); err != nil {
			return fmt.Errorf("failed to persist profile: %w", err)
		}
		if err := tx.Accounts().LinkProfile(ctx, account.ID, profile.ID); err != nil {
			return fmt.Errorf("failed to link profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	pending.Consume()
	account.ProfileID = &profile.ID

	s.logger().Info("registration finalized", "username", account.Username, "account_id", account.ID)
	return account, nil
}

// issueCode generates, hashes and stores a fresh code on the pending value,
// then dispatches the cleartext through the notification channel with a
// bounded timeout. A dispatch failure leaves the new code in place; the
// caller decides whether to resend.
func (s *RegistrationService) issueCode(ctx context.Context, pending *domain.PendingRegistration) error {
	code, err := cryptox.GenerateNumericCode(cryptox.DefaultCodeDigits)
	if err != nil {
		return fmt.Errorf("failed to generate one-time code: %w", err)
	}

	codeHash, err := cryptox.HashSecret(code)
	if err != nil {
		return fmt.Errorf("failed to hash one-time code: %w", err)
	}

	if !pending.ReplaceChallenge(codeHash, s.now().Add(s.codeTTL())) {
		return ErrNoPendingRegistration
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout())
	defer cancel()

	subject := "Your verification code"
	body := fmt.Sprintf("Your verification code is %s. It expires in %s.", code, s.codeTTL())
	if err := s.Notifier.Send(dispatchCtx, pending.Email, subject, body); err != nil {
		s.logger().Warn("registration code dispatch failed", "username", pending.Username, "err", err)
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return nil
}

func (s *RegistrationService) codeTTL() time.Duration {
	if s.CodeTTL > 0 {
		return s.CodeTTL
	}
	return DefaultRegistrationCodeTTL
}

func (s *RegistrationService) dispatchTimeout() time.Duration {
	if s.DispatchTimeout > 0 {
		return s.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

func (s *RegistrationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *RegistrationService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
