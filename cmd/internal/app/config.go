package app

import (
	"os"
	"path/filepath"
	"time"

	"lockgate/cmd/internal/devicelock"
	"lockgate/cmd/internal/gate"
	"lockgate/cmd/internal/lockstore"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Device lock store.
	Store     string
	StorePath string

	LockIdleTimeout  time.Duration
	PollInterval     time.Duration
	PinMaxAttempts   int
	PinAttemptWindow time.Duration

	// Remote session presence. Empty DatabaseURL selects the in-memory source.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LOCKGATE_HTTP_ADDR", "127.0.0.1:8787"),
		LogLevel:  EnvString("LOCKGATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOCKGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LOCKGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOCKGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LOCKGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LOCKGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LOCKGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		Store:     EnvString("LOCKGATE_STORE", lockstore.BackendFile),
		StorePath: EnvString("LOCKGATE_STORE_PATH", DefaultStorePath()),

		LockIdleTimeout:  EnvDuration("LOCKGATE_IDLE_TIMEOUT", devicelock.DefaultIdleTimeout),
		PollInterval:     EnvDuration("LOCKGATE_POLL_INTERVAL", gate.DefaultPollInterval),
		PinMaxAttempts:   EnvInt("LOCKGATE_PIN_MAX_ATTEMPTS", gate.DefaultMaxAttempts),
		PinAttemptWindow: EnvDuration("LOCKGATE_PIN_ATTEMPT_WINDOW", gate.DefaultAttemptWindow),

		DatabaseURL: EnvString("LOCKGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("LOCKGATE_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("LOCKGATE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LOCKGATE_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("LOCKGATE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("LOCKGATE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("LOCKGATE_CORS_MAX_AGE", 600),
	}
}

// DefaultStorePath is the per-user lock file location.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lockgate", "lock.json")
}
