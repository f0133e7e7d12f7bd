package app

import (
	"context"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/service"
	"github.com/meadowbrook/clinisec/pkg/asyncx"
)

// Credential hashing is deliberately slow, so the operations below are
// wrapped in asyncx workers. An event-loop caller starts the operation,
// keeps painting, and collects the result from the channel.

// AuthenticateAsync runs a credential check on a worker goroutine.
func (app *Application) AuthenticateAsync(ctx context.Context, username, password string) <-chan asyncx.Result[domain.AuthResult] {
	return asyncx.Go(func() (domain.AuthResult, error) {
		return app.Login.Authenticate(ctx, username, password)
	})
}

// CompleteChallengeAsync resolves a pending login challenge on a worker
// goroutine.
func (app *Application) CompleteChallengeAsync(ctx context.Context, username, code string) <-chan asyncx.Result[domain.AuthResult] {
	return asyncx.Go(func() (domain.AuthResult, error) {
		return app.Login.CompleteChallenge(ctx, username, code)
	})
}

// BeginRegistrationAsync validates, hashes and dispatches the verification
// code on a worker goroutine.
func (app *Application) BeginRegistrationAsync(ctx context.Context, input service.RegistrationInput) <-chan asyncx.Result[*domain.PendingRegistration] {
	return asyncx.Go(func() (*domain.PendingRegistration, error) {
		return app.Registration.Begin(ctx, input)
	})
}

// ResetWithTokenAsync redeems a recovery token on a worker goroutine. The
// result carries no value, only the error.
func (app *Application) ResetWithTokenAsync(ctx context.Context, username, token, newPassword string) <-chan asyncx.Result[struct{}] {
	return asyncx.Go(func() (struct{}, error) {
		return struct{}{}, app.Recovery.ResetWithToken(ctx, username, token, newPassword)
	})
}
