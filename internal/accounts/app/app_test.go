package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/service"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()

	dir := t.TempDir()
	cfg := LoadConfig()
	cfg.DatabaseFile = filepath.Join(dir, "clinisec.db")
	cfg.PepperFile = filepath.Join(dir, "pepper")
	cfg.DispatchTimeout = time.Second

	application, err := New(cfg, nil)
	require.NoError(t, err)

	// Shutdown blocks on the housekeeping worker, so it must be running.
	application.housekeeping.Start()
	t.Cleanup(func() { _ = application.Shutdown() })
	return application
}

func TestConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	require.Equal(t, "clinisec", cfg.Issuer)
	require.Equal(t, 5, cfg.MaxLoginAttempts)
	require.Equal(t, 15*time.Minute, cfg.LockoutDuration)
	require.Equal(t, 5*time.Minute, cfg.RegistrationCodeTTL)
	require.Equal(t, 2*time.Hour, cfg.ResetTokenTTL)
	require.Equal(t, 8*time.Hour, cfg.SessionTTL)
	require.Equal(t, time.Hour, cfg.HousekeepingInterval)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CLINISEC_MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("CLINISEC_LOCKOUT_DURATION", "5m")
	t.Setenv("CLINISEC_SESSION_TTL", "90")

	cfg := LoadConfig()
	require.Equal(t, 3, cfg.MaxLoginAttempts)
	require.Equal(t, 5*time.Minute, cfg.LockoutDuration)
	require.Equal(t, 90*time.Minute, cfg.SessionTTL) // bare integers mean minutes
}

func TestApplication_WiringEndToEnd(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()

	pending, err := application.Registration.Begin(ctx, service.RegistrationInput{
		Username:        "frank",
		Email:           "frank@example.com",
		Password:        "P@ssw0rd1",
		PasswordConfirm: "P@ssw0rd1",
		Role:            "nurse",
		FullName:        "Frank Ocean",
		Phone:           "+61 400 111 222",
	})
	require.NoError(t, err)
	require.NotNil(t, pending)
}

func TestApplication_AuthenticateAsync(t *testing.T) {
	application := newTestApp(t)

	// The channel answers even for a refused login; the caller's loop only
	// ever blocks on a receive it chose to wait on.
	select {
	case res := <-application.AuthenticateAsync(context.Background(), "ghost", "wrong"):
		require.ErrorIs(t, res.Err, service.ErrInvalidCredentials)
		require.Equal(t, domain.AuthResult{}, res.Value)
	case <-time.After(10 * time.Second):
		t.Fatal("authentication worker never answered")
	}
}
