package store

import (
	"context"
	"errors"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Accounts() Accounts
	Profiles() Profiles

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., finalizing
	// a registration, recording a login failure). The caller MUST call
	// Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetByID returns an account by id.
	GetByID(ctx context.Context, id string) (domain.Account, error)

	// GetByUsername is used during authentication (case-sensitive exact match).
	GetByUsername(ctx context.Context, username string) (domain.Account, error)

	// GetByEmail is used during password recovery.
	GetByEmail(ctx context.Context, email string) (domain.Account, error)

	// Create inserts a new account (id is provided by the app via ULID).
	Create(ctx context.Context, a domain.Account) error

	// UpdatePasswordHash sets the password_hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	// RecordLoginFailure writes the post-failure counter and optional lock
	// time in one statement so concurrent failures cannot lose updates.
	RecordLoginFailure(ctx context.Context, accountID string, failedCount int, lockedUntil *time.Time) error

	// ResetLoginFailures zeroes the counter and clears any lock.
	ResetLoginFailures(ctx context.Context, accountID string) error

	// SetPendingOTP stores the hashed outstanding email code and its expiry,
	// replacing any previous challenge.
	SetPendingOTP(ctx context.Context, accountID string, hash string, expiry time.Time) error

	// ClearPendingOTP invalidates the outstanding email code challenge.
	ClearPendingOTP(ctx context.Context, accountID string) error

	// SetOTPRequired flips the operator-forced login challenge flag.
	SetOTPRequired(ctx context.Context, accountID string, required bool) error

	// EnableTwoFactor writes the confirmed secret and the enabled flag in a
	// single update so the two can never be observed apart.
	EnableTwoFactor(ctx context.Context, accountID string, secret string) error

	// DisableTwoFactor clears the secret and the enabled flag together.
	DisableTwoFactor(ctx context.Context, accountID string) error

	// SetTOTPChallenge records that a passing credential check left an
	// authenticator challenge outstanding, replacing any previous marker.
	SetTOTPChallenge(ctx context.Context, accountID string, expiry time.Time) error

	// ClearTOTPChallenge consumes the outstanding authenticator challenge.
	ClearTOTPChallenge(ctx context.Context, accountID string) error

	// SetResetToken stores the hashed recovery token and its expiry.
	SetResetToken(ctx context.Context, accountID string, tokenHash string, expiry time.Time) error

	// ClearResetToken consumes the outstanding recovery token.
	ClearResetToken(ctx context.Context, accountID string) error

	// SetActive flips the usable flag. Accounts are never hard-deleted here.
	SetActive(ctx context.Context, accountID string, active bool) error

	// LinkProfile records the account -> profile link at registration time.
	LinkProfile(ctx context.Context, accountID string, profileID string) error

	// ClearExpiredChallenges drops pending email codes, authenticator
	// challenge markers and reset tokens whose window has elapsed. Returns
	// the number of rows touched (housekeeping).
	ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

type Profiles interface {
	// GetByID returns a profile by id.
	GetByID(ctx context.Context, id string) (domain.Profile, error)

	// GetByAccountID returns the profile linked to an account.
	GetByAccountID(ctx context.Context, accountID string) (domain.Profile, error)

	// Create inserts a new profile (id is provided by the app via ULID).
	Create(ctx context.Context, p domain.Profile) error
}
