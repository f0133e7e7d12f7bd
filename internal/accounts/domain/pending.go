package domain

import (
	"sync"
	"time"
)

// PendingRegistration is the in-memory holding area for one in-flight
// registration attempt. It is returned by RegistrationService.Begin and
// passed back by the caller for resend/verify, so its lifetime is exactly
// the caller's registration session. It is never written to durable storage;
// abandoning it (process restart, starting over) discards the attempt
// without a trace.
type PendingRegistration struct {
	mu sync.Mutex

	// Candidate account fields, unpersisted until the code is verified.
	Username     string
	Email        string
	PasswordHash string
	Role         string

	// Candidate linked profile payload.
	Profile Profile

	OTPHash   string
	OTPExpiry time.Time

	consumed bool
}

// Challenge returns the current code hash and expiry under the lock, so a
// concurrent resend cannot be observed half-applied.
func (p *PendingRegistration) Challenge() (hash string, expiry time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed || p.OTPHash == "" {
		return "", time.Time{}, false
	}
	return p.OTPHash, p.OTPExpiry, true
}

// ReplaceChallenge atomically swaps in a new code hash and expiry,
// invalidating the previous code. There is no window where both codes
// validate.
func (p *PendingRegistration) ReplaceChallenge(hash string, expiry time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return false
	}
	p.OTPHash = hash
	p.OTPExpiry = expiry
	return true
}

// Consume marks the pending attempt finished (verified or expired). Further
// operations on it report no pending registration.
func (p *PendingRegistration) Consume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed = true
	p.OTPHash = ""
}

// Consumed reports whether the attempt has already been finished.
func (p *PendingRegistration) Consumed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed
}

// PendingEnrollment holds a candidate TOTP secret for one enrollment dialog.
// The secret is committed to the account only after the user proves
// possession by producing a valid code; cancelling discards it with no
// account state change.
type PendingEnrollment struct {
	AccountID string
	Secret    string // base32 encoded candidate secret
	URL       string // otpauth:// provisioning URI for rendering
}
