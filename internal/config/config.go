// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	AccessSecret  string        // must be set
	RefreshSecret string        // must be set
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 720h (30 days)
}

// ResolutionConfig holds settings for the Resolution & Payout Engine.
type ResolutionConfig struct {
	HouseFeeFraction      float64       // default 0.05
	MaxCreatorFeeFraction float64       // default 0.05
	InitialBalanceGrant   int64         // tokens granted on first ledger touch, default 1000
	TxRetryLimit          int           // bounded serializable-conflict retry count, default 5
	OperationDeadline     time.Duration // default 30s
	MinEvidenceDescLen    int           // hard-coded minimum description length, 10
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	JWT        JWTConfig
	Resolution ResolutionConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns every validation error found, combined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	// JWT secrets are mandatory
	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be set"))
	}

	// In production, DB DSN must be explicit
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	// Resolution engine fee bounds (spec: house default 0.05, creator fee
	// capped at 0.05, and the two combined must never exceed 1).
	if c.Resolution.HouseFeeFraction < 0 || c.Resolution.HouseFeeFraction > 1 {
		errs = append(errs, fmt.Errorf(
			"HOUSE_FEE_FRACTION must be between 0 and 1, got %.4f", c.Resolution.HouseFeeFraction,
		))
	}
	if c.Resolution.MaxCreatorFeeFraction < 0 || c.Resolution.MaxCreatorFeeFraction > 1 {
		errs = append(errs, fmt.Errorf(
			"MAX_CREATOR_FEE_FRACTION must be between 0 and 1, got %.4f", c.Resolution.MaxCreatorFeeFraction,
		))
	}
	if c.Resolution.HouseFeeFraction+c.Resolution.MaxCreatorFeeFraction > 1 {
		errs = append(errs, errors.New("HOUSE_FEE_FRACTION + MAX_CREATOR_FEE_FRACTION must not exceed 1"))
	}
	if c.Resolution.TxRetryLimit < 1 {
		errs = append(errs, errors.New("TX_RETRY_LIMIT must be at least 1"))
	}
	if c.Resolution.InitialBalanceGrant < 0 {
		errs = append(errs, errors.New("INITIAL_BALANCE_GRANT must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "evetabi_prediction"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTTL:     getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    getDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
	}

	// ── Resolution & Payout Engine ───────────────────────────────────────────
	houseFee, err := getFloat("HOUSE_FEE_FRACTION", 0.05)
	if err != nil {
		return nil, fmt.Errorf("HOUSE_FEE_FRACTION: %w", err)
	}
	maxCreatorFee, err := getFloat("MAX_CREATOR_FEE_FRACTION", 0.05)
	if err != nil {
		return nil, fmt.Errorf("MAX_CREATOR_FEE_FRACTION: %w", err)
	}
	initialGrant, err := getInt("INITIAL_BALANCE_GRANT", 1000)
	if err != nil {
		return nil, fmt.Errorf("INITIAL_BALANCE_GRANT: %w", err)
	}
	txRetryLimit, err := getInt("TX_RETRY_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("TX_RETRY_LIMIT: %w", err)
	}
	deadlineMS, err := getInt("OPERATION_DEADLINE_MS", 30000)
	if err != nil {
		return nil, fmt.Errorf("OPERATION_DEADLINE_MS: %w", err)
	}

	cfg.Resolution = ResolutionConfig{
		HouseFeeFraction:      houseFee,
		MaxCreatorFeeFraction: maxCreatorFee,
		InitialBalanceGrant:   int64(initialGrant),
		TxRetryLimit:          txRetryLimit,
		OperationDeadline:     time.Duration(deadlineMS) * time.Millisecond,
		MinEvidenceDescLen:    10, // fixed policy, deliberately not configurable
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to default silently; do not crash on parse error
		return defaultVal
	}
	return d
}
