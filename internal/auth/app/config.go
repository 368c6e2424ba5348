package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

// Store drivers and throttle backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ThrottleMemory = "memory"
	ThrottleRedis  = "redis"
)

type Config struct {
	AccessSecret  string        // Required: HMAC secret for access credentials (>= 32 bytes)
	RenewalSecret string        // Required: HMAC secret for renewal credentials (>= 32 bytes, differs from AccessSecret)
	AccessTTL     time.Duration // Access credential lifetime (default: 15m)
	RenewalTTL    time.Duration // Renewal credential lifetime (default: 168h)
	Issuer        string        // iss claim (default: sessionguard)
	Audience      []string      // aud claim, comma separated (optional)

	StoreDriver    string        // sqlite or postgres (default: sqlite)
	DatabaseFile   string        // SQLite database file (default: ./auth.db)
	DatabaseURL    string        // Postgres connection URL, required for the postgres driver
	StoreTimeout   time.Duration // Per-call store deadline (default: 2s)
	ReuseRevokeAll bool          // Reuse revokes every session of the subject (default: false)

	ThrottleBackend string // memory or redis (default: memory)
	RedisAddr       string // Required for the redis backend
	RedisPassword   string // Optional
	RedisPrefix     string // Key prefix (default: sessionguard:throttle:)
	Policies        throttle.Policies

	// TrustedProxies may report the client address in X-Forwarded-For or
	// X-Real-IP, comma separated CIDRs or addresses (default: none)
	TrustedProxies httpx.TrustedProxies

	AuditBuffer int // Audit queue depth (default: 1024)
	PepperFile  string

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

// LoadConfig reads the environment. Every malformed value is reported; none
// is silently replaced by its default.
func LoadConfig() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		AccessSecret:  os.Getenv("AUTH_ACCESS_SECRET"),
		RenewalSecret: os.Getenv("AUTH_RENEWAL_SECRET"),
		Issuer:        getEnvOrDefault("AUTH_ISSUER", "sessionguard"),
		Audience:      splitList(os.Getenv("AUTH_AUDIENCE")),

		StoreDriver:  getEnvOrDefault("AUTH_STORE_DRIVER", DriverSQLite),
		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		DatabaseURL:  os.Getenv("AUTH_DATABASE_URL"),

		ThrottleBackend: getEnvOrDefault("AUTH_THROTTLE_BACKEND", ThrottleMemory),
		RedisAddr:       os.Getenv("AUTH_REDIS_ADDR"),
		RedisPassword:   os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisPrefix:     getEnvOrDefault("AUTH_REDIS_PREFIX", "sessionguard:throttle:"),

		PepperFile: getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		Env:        getEnvOrDefault("ENV", "dev"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:  getEnvOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	cfg.AccessTTL, err = getEnvDuration("AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL)
	collect(err)
	cfg.RenewalTTL, err = getEnvDuration("AUTH_RENEWAL_TTL", jwtx.DefaultRenewalTokenTTL)
	collect(err)
	cfg.StoreTimeout, err = getEnvDuration("AUTH_STORE_TIMEOUT", service.DefaultStoreTimeout)
	collect(err)
	cfg.ReuseRevokeAll, err = getEnvBool("AUTH_REUSE_REVOKE_ALL", false)
	collect(err)
	cfg.AuditBuffer, err = getEnvInt("AUTH_AUDIT_BUFFER", service.DefaultAuditBuffer)
	collect(err)
	cfg.Port, err = getEnvInt("PORT", 8080)
	collect(err)
	cfg.ShutdownGracePeriod, err = getEnvDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second)
	collect(err)
	cfg.HousekeepingInterval, err = getEnvDuration("HOUSEKEEPING_INTERVAL", 1*time.Hour)
	collect(err)
	cfg.Policies, err = throttle.PoliciesFromEnv()
	collect(err)
	cfg.TrustedProxies, err = httpx.ParseTrustedProxies(splitList(os.Getenv("AUTH_TRUSTED_PROXIES")))
	if err != nil {
		collect(fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error

	switch {
	case len(c.AccessSecret) < jwtx.MinSecretLength:
		errs = append(errs, fmt.Errorf("AUTH_ACCESS_SECRET must be at least %d bytes", jwtx.MinSecretLength))
	case len(c.RenewalSecret) < jwtx.MinSecretLength:
		errs = append(errs, fmt.Errorf("AUTH_RENEWAL_SECRET must be at least %d bytes", jwtx.MinSecretLength))
	case c.AccessSecret == c.RenewalSecret:
		errs = append(errs, errors.New("AUTH_ACCESS_SECRET and AUTH_RENEWAL_SECRET must differ"))
	}

	if c.AccessTTL <= 0 || c.RenewalTTL <= 0 {
		errs = append(errs, errors.New("AUTH_ACCESS_TTL and AUTH_RENEWAL_TTL must be positive"))
	} else if c.AccessTTL >= c.RenewalTTL {
		errs = append(errs, errors.New("AUTH_ACCESS_TTL must be shorter than AUTH_RENEWAL_TTL"))
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_FILE is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}

	switch c.ThrottleBackend {
	case ThrottleMemory:
	case ThrottleRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("AUTH_REDIS_ADDR is required for the redis throttle backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_THROTTLE_BACKEND: unknown backend %q", c.ThrottleBackend))
	}

	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_STORE_TIMEOUT must be positive"))
	}
	if c.AuditBuffer <= 0 {
		errs = append(errs, errors.New("AUTH_AUDIT_BUFFER must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: out of range %d", c.Port))
	}
	if _, err := slogx.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if !slogx.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}

	// Integer minutes, for backwards compatibility
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}

	return 0, fmt.Errorf("%s: invalid duration %q", key, value)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
