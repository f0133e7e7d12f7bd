package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/meadowbrook/clinisec/pkg/cryptox"
	"golang.org/x/time/rate"
)

// DefaultResetTokenTTL bounds how long a recovery token stays redeemable.
const DefaultResetTokenTTL = 2 * time.Hour

var (
	ErrInvalidOrExpiredToken = errors.New("reset token is invalid or expired")
	ErrResetThrottled        = errors.New("reset requested too soon")

	// ErrWeakPassword rejects a replacement password that fails the same
	// complexity bar registration enforces.
	ErrWeakPassword = errors.New("replacement password too weak")
)

// RecoveryService issues and redeems password reset tokens. Tokens are
// stored hashed (same primitive as passwords and one-time codes) and are
// strictly single-use: any redemption attempt consumes the stored token,
// matching or not.
type RecoveryService struct {
	Store    store.Store
	Notifier Notifier
	Logger   *slog.Logger

	TokenTTL        time.Duration // defaults to DefaultResetTokenTTL
	DispatchTimeout time.Duration // defaults to DefaultDispatchTimeout

	// RequestLimit throttles how fast reset emails can be pumped out.
	RequestLimit *rate.Limiter

	// Now is the clock; tests override it.
	Now func() time.Time
}

// RequestReset acknowledges identically whether or not the identity exists,
// so the call cannot be used to enumerate accounts. For a known identity a
// fresh token is stored hashed and dispatched out-of-band; a dispatch
// failure after the durable write is logged, never surfaced, because
// surfacing it would reveal the account exists.
func (s *RecoveryService) RequestReset(ctx context.Context, usernameOrEmail string) error {
	if s.RequestLimit != nil && !s.RequestLimit.Allow() {
		return ErrResetThrottled
	}

	account, err := s.lookup(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger().Info("reset requested for unknown identity")
			return nil
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	tokenHash, err := cryptox.HashSecret(token)
	if err != nil {
		return fmt.Errorf("failed to hash reset token: %w", err)
	}

	expiry := s.now().Add(s.tokenTTL())
	if err := s.Store.Accounts().SetResetToken(ctx, account.ID, tokenHash, expiry); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout())
	defer cancel()

	subject := "Password reset"
	body := fmt.Sprintf("Your password reset token is %s. It expires in %s.", token, s.tokenTTL())
	if err := s.Notifier.Send(dispatchCtx, account.Email, subject, body); err != nil {
		// The durable state change already succeeded; the caller still gets
		// the generic acknowledgment.
		s.logger().Warn("reset token dispatch failed", "account_id", account.ID, "err", err)
	}

	return nil
}

// ResetWithToken redeems a token for a new password. The stored token is
// consumed by the attempt no matter the outcome: a second call with the same
// token always reports it invalid. Lockout counters and lock state are
// deliberately untouched.
func (s *RecoveryService) ResetWithToken(ctx context.Context, username, token, newPassword string) error {
	account, err := s.Store.Accounts().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to load account: %w", err)
	}

	if account.ResetTokenHash == nil || account.ResetTokenExpiry == nil {
		return ErrInvalidOrExpiredToken
	}

	expired := s.now().After(*account.ResetTokenExpiry)
	matches := cryptox.VerifySecret(token, *account.ResetTokenHash) == nil

	if expired || !matches {
		if err := s.Store.Accounts().ClearResetToken(ctx, account.ID); err != nil {
			s.logger().Error("failed to consume reset token", "account_id", account.ID, "err", err)
		}
		return ErrInvalidOrExpiredToken
	}

	if reason := passwordComplexityReason(newPassword); reason != "" {
		// Validation failures do not consume the token; nothing was compared
		// against it yet from the user's point of view, and forcing a fresh
		// email for a typo would be hostile.
		return fmt.Errorf("%w: %s", ErrWeakPassword, reason)
	}

	newHash, err := cryptox.HashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
			return fmt.Errorf("failed to store new password: %w", err)
		}
		if err := tx.Accounts().ClearResetToken(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to consume reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger().Info("password reset completed", "account_id", account.ID)
	return nil
}

// lookup resolves a username-or-email identity the way the recovery form
// accepts it: exact username first, then delivery address.
func (s *RecoveryService) lookup(ctx context.Context, usernameOrEmail string) (domain.Account, error) {
	identity := strings.TrimSpace(usernameOrEmail)
	if identity == "" {
		return domain.Account{}, store.ErrNotFound
	}

	account, err := s.Store.Accounts().GetByUsername(ctx, identity)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, err
	}
	return s.Store.Accounts().GetByEmail(ctx, identity)
}

func (s *RecoveryService) tokenTTL() time.Duration {
	if s.TokenTTL > 0 {
		return s.TokenTTL
	}
	return DefaultResetTokenTTL
}

func (s *RecoveryService) dispatchTimeout() time.Duration {
	if s.DispatchTimeout > 0 {
		return s.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

func (s *RecoveryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *RecoveryService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
