package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for PostgresSource.
type Config struct {
	// Channel is the LISTEN/NOTIFY channel carrying changed session IDs.
	Channel string

	// RecheckInterval bounds how long an expired (but not revoked) session can go unnoticed:
	// expiry produces no notification, so presence is re-read at least this often.
	RecheckInterval time.Duration

	// ReconnectMin and ReconnectMax bound the listener's reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// DefaultConfig returns the default session observer configuration.
func DefaultConfig() Config {
	return Config{
		Channel:         "lockgate_session_changed",
		RecheckInterval: time.Minute,
		ReconnectMin:    time.Second,
		ReconnectMax:    30 * time.Second,
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// Optional:
//   - LOCKGATE_SESSION_CHANNEL (lowercase identifier, at most 63 bytes)
//   - LOCKGATE_SESSION_RECHECK
//   - LOCKGATE_SESSION_RECONNECT_MIN
//   - LOCKGATE_SESSION_RECONNECT_MAX
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("LOCKGATE_SESSION_CHANNEL"); v != "" {
		if !validChannel(v) {
			return Config{}, ErrConfig
		}
		cfg.Channel = v
	}

	var err error
	if cfg.RecheckInterval, err = envPositiveDuration("LOCKGATE_SESSION_RECHECK", cfg.RecheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMin, err = envPositiveDuration("LOCKGATE_SESSION_RECONNECT_MIN", cfg.ReconnectMin); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMax, err = envPositiveDuration("LOCKGATE_SESSION_RECONNECT_MAX", cfg.ReconnectMax); err != nil {
		return Config{}, err
	}

	if cfg.ReconnectMax < cfg.ReconnectMin {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

func envPositiveDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}

func validChannel(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
