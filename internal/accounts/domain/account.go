package domain

import "time"

// Account is the durable login identity for a clinic staff member. It is
// created only by a finalized, email-verified registration and is never
// hard-deleted by the account security subsystem (operators deactivate
// instead).
type Account struct {
	ID           string
	Username     string // unique, immutable once verified, case-sensitive
	Email        string // unique out-of-band delivery address
	PasswordHash string // argon2id encoded, never the raw value
	Role         string // operator-facing label (e.g. "doctor", "receptionist")
	Active       bool

	EmailVerified bool

	// Failed-login throttling state.
	FailedLoginCount int
	LockedUntil      *time.Time

	// OTPRequiredForLogin forces an email one-time-code challenge on the
	// next successful credential check. Operator-set, one-shot: cleared
	// when the challenge is passed.
	OTPRequiredForLogin bool

	// PendingOTPHash/PendingOTPExpiry hold the currently outstanding email
	// code challenge, if any. Cleared on success or invalidation.
	PendingOTPHash   *string
	PendingOTPExpiry *time.Time

	// Committed second factor. Invariant: TwoFactorEnabled is true exactly
	// when TwoFactorSecret is non-nil; an unconfirmed candidate secret never
	// lands here (see PendingEnrollment).
	TwoFactorEnabled bool
	TwoFactorSecret  *string

	// TOTPChallengeExpiry marks an outstanding authenticator challenge. It
	// is set only by a passing credential check; the challenge cannot be
	// completed without it.
	TOTPChallengeExpiry *time.Time

	// Outstanding password recovery request, if any. The token is stored
	// hashed and is single-use: any consumption attempt clears it.
	ResetTokenHash   *string
	ResetTokenExpiry *time.Time

	ProfileID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is currently refusing authentication.
func (a Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// Sanitized returns a copy with credential and challenge secrets zeroed,
// safe to hand to the presentation layer.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.TwoFactorSecret = nil
	a.PendingOTPHash = nil
	a.ResetTokenHash = nil
	return a
}
