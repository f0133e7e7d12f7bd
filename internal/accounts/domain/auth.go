package domain

import "time"

// AuthStatus describes how far an authentication attempt progressed.
type AuthStatus string

const (
	// StatusAuthenticated means the credential check passed and no further
	// challenge is outstanding; Token carries the session claim.
	StatusAuthenticated AuthStatus = "authenticated"

	// StatusChallengeRequired means the credential check passed but the
	// caller must complete a one-time-code challenge before the session is
	// issued.
	StatusChallengeRequired AuthStatus = "challenge_required"
)

// ChallengeMethod identifies which verification path completes a login
// challenge.
type ChallengeMethod string

const (
	// ChallengeEmailCode is the operator-forced email one-time code gate.
	ChallengeEmailCode ChallengeMethod = "email_code"

	// ChallengeTOTP is the enrolled authenticator-app second factor.
	ChallengeTOTP ChallengeMethod = "totp"
)

// AuthResult is returned by LoginService for successful credential checks.
type AuthResult struct {
	Status    AuthStatus
	Method    ChallengeMethod // set when Status is StatusChallengeRequired
	Token     string          // set when Status is StatusAuthenticated
	ExpiresAt time.Time       // session token expiry
	Account   Account         // sanitized copy, secrets zeroed
}
