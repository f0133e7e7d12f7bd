package service

import (
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
)

// Lockout defaults observed across the clinic deployment.
const (
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// LockoutPolicy is the pure decision function for failed-login throttling.
// It owns no state; callers feed it the account counters and the current
// time and persist whatever it hands back.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns the observed production configuration.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: DefaultMaxLoginAttempts,
		Duration:    DefaultLockoutDuration,
	}
}

// Locked reports whether authentication must be refused outright, and until
// when. The check runs before any credential hashing so a locked account
// costs nothing and always answers uniformly.
func (p LockoutPolicy) Locked(a domain.Account, now time.Time) (bool, time.Time) {
	if a.Locked(now) {
		return true, *a.LockedUntil
	}
	return false, time.Time{}
}

// OnFailure maps the current failure count to the post-failure counters:
// the incremented count and, once the threshold is reached, the lock expiry.
func (p LockoutPolicy) OnFailure(failedCount int, now time.Time) (int, *time.Time) {
	failedCount++
	if failedCount >= p.MaxAttempts {
		until := now.Add(p.Duration)
		return failedCount, &until
	}
	return failedCount, nil
}
