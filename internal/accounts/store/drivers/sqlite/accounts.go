package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, username, email, password_hash, role, active,
	email_verified, failed_login_count, locked_until, otp_required,
	pending_otp_hash, pending_otp_expires_at, two_factor_enabled,
	two_factor_secret, totp_challenge_expires_at, reset_token_hash,
	reset_token_expires_at, profile_id, created_at, updated_at`

func (r *accountsRepo) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetByUsername(ctx context.Context, username string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *accountsRepo) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *accountsRepo) Create(ctx context.Context, a domain.Account) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, role, active, email_verified,
			failed_login_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.Role,
		boolToInt(a.Active), boolToInt(a.EmailVerified), now, now,
	)
	return mapConstraint(err)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, time.Now().UTC(), accountID)
}

func (r *accountsRepo) RecordLoginFailure(ctx context.Context, accountID string, failedCount int, lockedUntil *time.Time) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET failed_login_count = ?, locked_until = ?, updated_at = ?
		WHERE id = ?`,
		failedCount, mapOptionalTime(lockedUntil), time.Now().UTC(), accountID)
}

func (r *accountsRepo) ResetLoginFailures(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetPendingOTP(ctx context.Context, accountID string, hash string, expiry time.Time) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET pending_otp_hash = ?, pending_otp_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		hash, expiry.UTC(), time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearPendingOTP(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET pending_otp_hash = NULL, pending_otp_expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetOTPRequired(ctx context.Context, accountID string, required bool) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET otp_required = ?, updated_at = ? WHERE id = ?`,
		boolToInt(required), time.Now().UTC(), accountID)
}

func (r *accountsRepo) EnableTwoFactor(ctx context.Context, accountID string, secret string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET two_factor_enabled = 1, two_factor_secret = ?, updated_at = ?
		WHERE id = ?`,
		secret, time.Now().UTC(), accountID)
}

func (r *accountsRepo) DisableTwoFactor(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET two_factor_enabled = 0, two_factor_secret = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetTOTPChallenge(ctx context.Context, accountID string, expiry time.Time) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET totp_challenge_expires_at = ?, updated_at = ? WHERE id = ?`,
		expiry.UTC(), time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearTOTPChallenge(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET totp_challenge_expires_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetResetToken(ctx context.Context, accountID string, tokenHash string, expiry time.Time) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		tokenHash, expiry.UTC(), time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearResetToken(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetActive(ctx context.Context, accountID string, active bool) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), accountID)
}

func (r *accountsRepo) LinkProfile(ctx context.Context, accountID string, profileID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET profile_id = ?, updated_at = ? WHERE id = ?`,
		profileID, time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			pending_otp_hash = CASE
				WHEN pending_otp_expires_at IS NOT NULL AND pending_otp_expires_at < ?1
				THEN NULL ELSE pending_otp_hash END,
			pending_otp_expires_at = CASE
				WHEN pending_otp_expires_at IS NOT NULL AND pending_otp_expires_at < ?1
				THEN NULL ELSE pending_otp_expires_at END,
			reset_token_hash = CASE
				WHEN reset_token_expires_at IS NOT NULL AND reset_token_expires_at < ?1
				THEN NULL ELSE reset_token_hash END,
			reset_token_expires_at = CASE
				WHEN reset_token_expires_at IS NOT NULL AND reset_token_expires_at < ?1
				THEN NULL ELSE reset_token_expires_at END,
			totp_challenge_expires_at = CASE
				WHEN totp_challenge_expires_at IS NOT NULL AND totp_challenge_expires_at < ?1
				THEN NULL ELSE totp_challenge_expires_at END
		WHERE (pending_otp_expires_at IS NOT NULL AND pending_otp_expires_at < ?1)
		   OR (reset_token_expires_at IS NOT NULL AND reset_token_expires_at < ?1)
		   OR (totp_challenge_expires_at IS NOT NULL AND totp_challenge_expires_at < ?1)`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// exec runs a single-row UPDATE and maps a zero row count to ErrNotFound so
// callers cannot silently mutate a missing account.
func (r *accountsRepo) exec(ctx context.Context, accountID string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a                                   domain.Account
		active, emailVerified               int
		otpRequired, twoFactorEnabled       int
		lockedUntil, otpExpiry, resetExpiry sql.NullTime
		totpChallengeExpiry                 sql.NullTime
		otpHash, twoFactorSecret            sql.NullString
		resetTokenHash, profileID           sql.NullString
	)

	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &active,
		&emailVerified, &a.FailedLoginCount, &lockedUntil, &otpRequired,
		&otpHash, &otpExpiry, &twoFactorEnabled, &twoFactorSecret,
		&totpChallengeExpiry, &resetTokenHash, &resetExpiry, &profileID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.Active = active != 0
	a.EmailVerified = emailVerified != 0
	a.OTPRequiredForLogin = otpRequired != 0
	a.TwoFactorEnabled = twoFactorEnabled != 0
	a.LockedUntil = mapNullTimePtr(lockedUntil)
	a.PendingOTPHash = mapNullStringPtr(otpHash)
	a.PendingOTPExpiry = mapNullTimePtr(otpExpiry)
	a.TwoFactorSecret = mapNullStringPtr(twoFactorSecret)
	a.TOTPChallengeExpiry = mapNullTimePtr(totpChallengeExpiry)
	a.ResetTokenHash = mapNullStringPtr(resetTokenHash)
	a.ResetTokenExpiry = mapNullTimePtr(resetExpiry)
	a.ProfileID = mapNullStringPtr(profileID)

	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
