package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Issuer label for session claims and provisioning URIs

	DatabaseFile string // Optional: path to SQLite database file (default: ./clinisec.db)
	PepperFile   string // Optional: path to file containing pepper for secret hashing (default: ./pepper)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)

	MaxLoginAttempts    int           // Failed logins before lockout (default: 5)
	LockoutDuration     time.Duration // How long a locked account refuses logins (default: 15m)
	RegistrationCodeTTL time.Duration // Email one-time code validity window (default: 5m)
	DispatchTimeout     time.Duration // Bound on outbound notification calls (default: 20s)
	ResetTokenTTL       time.Duration // Password reset token validity window (default: 2h)
	SessionTTL          time.Duration // Session claim lifetime (default: 8h)

	HousekeepingInterval time.Duration // Expired-challenge sweep interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:       getEnvOrDefault("CLINISEC_ISSUER", "clinisec"),
		DatabaseFile: getEnvOrDefault("CLINISEC_DATABASE_FILE", "clinisec.db"),
		PepperFile:   getEnvOrDefault("CLINISEC_PEPPER_FILE", "pepper"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		MaxLoginAttempts:    getEnvIntOrDefault("CLINISEC_MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:     getEnvDurationOrDefault("CLINISEC_LOCKOUT_DURATION", 15*time.Minute),
		RegistrationCodeTTL: getEnvDurationOrDefault("CLINISEC_REGISTRATION_CODE_TTL", 5*time.Minute),
		DispatchTimeout:     getEnvDurationOrDefault("CLINISEC_DISPATCH_TIMEOUT", 20*time.Second),
		ResetTokenTTL:       getEnvDurationOrDefault("CLINISEC_RESET_TOKEN_TTL", 2*time.Hour),
		SessionTTL:          getEnvDurationOrDefault("CLINISEC_SESSION_TTL", 8*time.Hour),

		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
