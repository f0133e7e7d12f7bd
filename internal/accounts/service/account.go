package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
)

// AccountService is the operator surface: record lookups and the account
// switches the records manager exposes to administrators.
type AccountService struct {
	Store    store.Store
	Notifier Notifier
	Logger   *slog.Logger
}

// GetByID fetches an account by id.
func (s *AccountService) GetByID(ctx context.Context, accountID string) (domain.Account, error) {
	return s.Store.Accounts().GetByID(ctx, accountID)
}

// GetByUsername fetches an account by its exact username.
func (s *AccountService) GetByUsername(ctx context.Context, username string) (domain.Account, error) {
	return s.Store.Accounts().GetByUsername(ctx, username)
}

// GetProfile fetches the profile linked to an account.
func (s *AccountService) GetProfile(ctx context.Context, accountID string) (domain.Profile, error) {
	return s.Store.Profiles().GetByAccountID(ctx, accountID)
}

// RequireLoginOTP forces an email one-time-code challenge on the account's
// next login, independent of any enrolled second factor. One-shot: the flag
// clears when the challenge is passed.
func (s *AccountService) RequireLoginOTP(ctx context.Context, accountID string) error {
	if err := s.Store.Accounts().SetOTPRequired(ctx, accountID, true); err != nil {
		return fmt.Errorf("failed to require login challenge: %w", err)
	}
	s.logger().Info("login challenge required", "account_id", accountID)
	return nil
}

// Deactivate marks the account unusable and best-effort notifies the
// holder. The notice is sent after the durable change; a delivery failure is
// logged and never rolls the change back, since the deactivation's
// correctness does not depend on the notice arriving.
func (s *AccountService) Deactivate(ctx context.Context, accountID string) error {
	account, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	if err := s.Store.Accounts().SetActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	s.logger().Info("account deactivated", "account_id", accountID)

	if s.Notifier != nil {
		subject := "Account deactivated"
		body := "Your clinic account has been deactivated. Contact an administrator if this is unexpected."
		if err := s.Notifier.Send(ctx, account.Email, subject, body); err != nil {
			s.logger().Warn("deactivation notice dispatch failed", "account_id", accountID, "err", err)
		}
	}
	return nil
}

// Reactivate makes the account usable again. Lockout state is untouched; a
// still-running lock window keeps refusing logins until it elapses.
func (s *AccountService) Reactivate(ctx context.Context, accountID string) error {
	if err := s.Store.Accounts().SetActive(ctx, accountID, true); err != nil {
		return fmt.Errorf("failed to reactivate account: %w", err)
	}
	s.logger().Info("account reactivated", "account_id", accountID)
	return nil
}

func (s *AccountService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
