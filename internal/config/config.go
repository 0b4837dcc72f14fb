// Package config provides configuration loading for the gateway.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, then filled out with defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// lookupEnv reads a raw environment variable. Factored out so Load's
// helpers have a single seam, matching the env-driven style LoadWithFile
// uses via koanf.
func lookupEnv(key string) string { return os.Getenv(key) }

// Config holds the complete gateway configuration.
type Config struct {
	Production ProductionConfig
	Server     ServerConfig
	VectorDB   VectorDBConfig
	Qdrant     QdrantConfig
	Redis      RedisConfig
	Jobs       JobsConfig
	Security   SecurityConfig
	Splade     SpladeConfig
	BM25       BM25Config
	Admin      AdminConfig
	Auth       AuthConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Mode            string        `koanf:"mode"` // APP_MODE: "development" or "production"
}

// VectorDBConfig holds the gateway's own identity/connection settings, as
// distinct from the Qdrant backend it fronts.
type VectorDBConfig struct {
	Env    string `koanf:"env"`     // VECTORDB_ENV
	Host   string `koanf:"host"`    // VECTORDB_HOST
	Port   int    `koanf:"port"`    // VECTORDB_PORT
	APIKey Secret `koanf:"api_key"` // VECTORDB_API_KEY
	Engine string `koanf:"engine"`  // VECTORDB_ENGINE, e.g. "qdrant"
}

// QdrantConfig holds the Qdrant backend connection.
type QdrantConfig struct {
	URL    string `koanf:"url"`     // QDRANT_URL
	APIKey Secret `koanf:"api_key"` // QDRANT_API_KEY
}

// RedisConfig holds the Redis connection used for rate limiting and quotas.
type RedisConfig struct {
	URL string `koanf:"url"` // REDIS_URL
}

// JobsConfig holds the durable job engine's SQLite path and snapshot dir.
type JobsConfig struct {
	DBPath      string `koanf:"db_path"`      // JOBS_DB_PATH
	SnapshotDir string `koanf:"snapshot_dir"` // SNAPSHOT_DIR
}

// SecurityConfig holds the audit/RBAC SQLite database path.
type SecurityConfig struct {
	DBPath string `koanf:"db_path"` // VORTEX_SECURITY_DB
}

// SpladeConfig holds the SPLADE sparse-expansion encoder settings.
type SpladeConfig struct {
	Enabled   bool    `koanf:"enabled"`    // ENABLE_SPLADE
	ModelName string  `koanf:"model_name"` // SPLADE_MODEL_NAME
	MaxLength int     `koanf:"max_length"` // SPLADE_MAX_LENGTH
	Threshold float64 `koanf:"threshold"`  // SPLADE_THRESHOLD
	Device    string  `koanf:"device"`     // SPLADE_DEVICE
}

// BM25Config holds the BM25 sparse encoder's persisted fit and retrain
// policy.
type BM25Config struct {
	Path          string        `koanf:"path"`           // BM25_PATH
	AllowBatch    bool          `koanf:"allow_batch"`    // ALLOW_BM25_BATCH
	CooldownMin   int           `koanf:"cooldown_min"`   // BM25_COOLDOWN_MIN
	CooldownDur   time.Duration `koanf:"-"`
}

// AdminConfig holds the shared secret gating administrative operations.
type AdminConfig struct {
	Secret Secret `koanf:"secret"` // ADMIN_SECRET
}

// AuthConfig holds the JWT signing secret for /auth/login tokens.
type AuthConfig struct {
	JWTSecret Secret `koanf:"jwt_secret"` // JWT_SECRET
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level string `koanf:"level"` // LOG_LEVEL
	Key   Secret `koanf:"key"`   // LOG_KEY, optional field-encryption key for sensitive log fields
}

// ProductionConfig holds production deployment safety checks.
type ProductionConfig struct {
	Enabled               bool `koanf:"enabled"`
	RequireAuthentication bool `koanf:"require_authentication"`
	RequireTLS            bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool { return c.Enabled }

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate(cfg *Config) error {
	if !c.Enabled {
		return nil
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("SECURITY: JWT_SECRET must be set in production")
	}
	if cfg.Admin.Secret == "" {
		return errors.New("SECURITY: ADMIN_SECRET must be set in production")
	}
	return nil
}

// Load loads configuration from environment variables with defaults, with
// no YAML file layered underneath. Prefer LoadWithFile in cmd/vortexd.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			Mode:            getEnvString("APP_MODE", "development"),
		},
		VectorDB: VectorDBConfig{
			Env:    getEnvString("VECTORDB_ENV", "development"),
			Host:   getEnvString("VECTORDB_HOST", "0.0.0.0"),
			Port:   getEnvInt("VECTORDB_PORT", 8080),
			APIKey: Secret(getEnvString("VECTORDB_API_KEY", "")),
			Engine: getEnvString("VECTORDB_ENGINE", "qdrant"),
		},
		Qdrant: QdrantConfig{
			URL:    getEnvString("QDRANT_URL", "http://localhost:6334"),
			APIKey: Secret(getEnvString("QDRANT_API_KEY", "")),
		},
		Redis: RedisConfig{
			URL: getEnvString("REDIS_URL", "redis://localhost:6379/0"),
		},
		Jobs: JobsConfig{
			DBPath:      getEnvString("JOBS_DB_PATH", "/data/jobs.db"),
			SnapshotDir: getEnvString("SNAPSHOT_DIR", "/data/snapshots"),
		},
		Security: SecurityConfig{
			DBPath: getEnvString("VORTEX_SECURITY_DB", "/data/security.db"),
		},
		Splade: SpladeConfig{
			Enabled:   getEnvBool("ENABLE_SPLADE", false),
			ModelName: getEnvString("SPLADE_MODEL_NAME", "naver/splade-cocondenser-ensembledistil"),
			MaxLength: getEnvInt("SPLADE_MAX_LENGTH", 256),
			Threshold: getEnvFloat("SPLADE_THRESHOLD", 0.01),
			Device:    getEnvString("SPLADE_DEVICE", "cpu"),
		},
		BM25: BM25Config{
			Path:        getEnvString("BM25_PATH", "/data/bm25.json"),
			AllowBatch:  getEnvBool("ALLOW_BM25_BATCH", true),
			CooldownMin: getEnvInt("BM25_COOLDOWN_MIN", 10),
		},
		Admin: AdminConfig{
			Secret: Secret(getEnvString("ADMIN_SECRET", "")),
		},
		Auth: AuthConfig{
			JWTSecret: Secret(getEnvString("JWT_SECRET", "")),
		},
		Logging: LoggingConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			Key:   Secret(getEnvString("LOG_KEY", "")),
		},
	}
	cfg.BM25.CooldownDur = time.Duration(cfg.BM25.CooldownMin) * time.Minute
	cfg.Production = loadProductionConfig()
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := validateURL(c.Qdrant.URL); err != nil {
		return fmt.Errorf("invalid QDRANT_URL: %w", err)
	}
	if err := validateHostname(c.VectorDB.Host); err != nil {
		return fmt.Errorf("invalid VECTORDB_HOST: %w", err)
	}
	if err := validatePath(c.Jobs.DBPath); err != nil {
		return fmt.Errorf("invalid JOBS_DB_PATH: %w", err)
	}
	if err := validatePath(c.Jobs.SnapshotDir); err != nil {
		return fmt.Errorf("invalid SNAPSHOT_DIR: %w", err)
	}
	if err := validatePath(c.Security.DBPath); err != nil {
		return fmt.Errorf("invalid VORTEX_SECURITY_DB: %w", err)
	}
	if err := validatePath(c.BM25.Path); err != nil {
		return fmt.Errorf("invalid BM25_PATH: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if err := c.Production.Validate(c); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := lookupEnv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := lookupEnv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := lookupEnv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := lookupEnv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := lookupEnv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadProductionConfig derives production safety flags from APP_MODE.
func loadProductionConfig() ProductionConfig {
	prod := strings.EqualFold(lookupEnv("APP_MODE"), "production")
	return ProductionConfig{
		Enabled:               prod,
		RequireAuthentication: prod,
		RequireTLS:            prod,
	}
}

// validateHostname checks if a hostname is safe (no command injection attempts).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validatePath checks if a path is safe (no path traversal).
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes.
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") &&
		!strings.HasPrefix(urlStr, "grpc://") {
		return fmt.Errorf("URL must use http://, https://, or grpc:// scheme, got: %s", urlStr)
	}
	return nil
}
