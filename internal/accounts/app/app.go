package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/service"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/meadowbrook/clinisec/internal/accounts/store/drivers/sqlite"
	"github.com/meadowbrook/clinisec/pkg/cryptox"
	"github.com/meadowbrook/clinisec/pkg/qrx"
	"github.com/meadowbrook/clinisec/pkg/slogx"
	"golang.org/x/time/rate"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the account security subsystem for the clinic records
// manager. The presentation layer holds a reference to this and calls the
// exported services (via asyncx workers so its event loop never blocks).
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	// Services exposed to the presentation layer.
	Registration *service.RegistrationService
	Login        *service.LoginService
	Enrollment   *service.EnrollmentService
	Recovery     *service.RecoveryService
	Accounts     *service.AccountService
	Renderer     qrx.Renderer

	housekeeping *service.HousekeepingService
}

// New creates an Application with all dependencies initialized. The notifier
// is supplied by the host; pass nil to log deliveries instead of sending
// them (dev only).
func New(cfg Config, notifier service.Notifier) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "clinisec",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for secret hashing
	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if notifier == nil {
		notifier = service.LogNotifier{Logger: app.logger}
	}
	app.initServices(notifier)

	return app, nil
}

// Run starts background workers and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("account security subsystem started", "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops background workers and releases resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down account security subsystem...")

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("account security subsystem stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices(notifier service.Notifier) {
	lockout := service.LockoutPolicy{
		MaxAttempts: app.cfg.MaxLoginAttempts,
		Duration:    app.cfg.LockoutDuration,
	}

	app.Registration = &service.RegistrationService{
		Store:           app.db,
		Notifier:        notifier,
		Logger:          app.logger,
		CodeTTL:         app.cfg.RegistrationCodeTTL,
		DispatchTimeout: app.cfg.DispatchTimeout,
		// One resend every 30 seconds, small burst for flaky inboxes.
		ResendLimit: rate.NewLimiter(rate.Every(30*time.Second), 3),
	}

	app.Login = &service.LoginService{
		Store:           app.db,
		Notifier:        notifier,
		Logger:          app.logger,
		Signer:          service.NewSessionSigner(app.cfg.Issuer, app.cfg.SessionTTL),
		Lockout:         lockout,
		CodeTTL:         app.cfg.RegistrationCodeTTL,
		DispatchTimeout: app.cfg.DispatchTimeout,
	}

	app.Enrollment = &service.EnrollmentService{
		Store:  app.db,
		Logger: app.logger,
		Issuer: app.cfg.Issuer,
	}

	app.Recovery = &service.RecoveryService{
		Store:           app.db,
		Notifier:        notifier,
		Logger:          app.logger,
		TokenTTL:        app.cfg.ResetTokenTTL,
		DispatchTimeout: app.cfg.DispatchTimeout,
		RequestLimit:    rate.NewLimiter(rate.Every(10*time.Second), 5),
	}

	app.Accounts = &service.AccountService{
		Store:    app.db,
		Notifier: notifier,
		Logger:   app.logger,
	}

	app.Renderer = qrx.KeyRenderer{}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}
