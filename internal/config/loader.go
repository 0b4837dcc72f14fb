package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables, then fills remaining fields with defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VECTORDB_HOST, QDRANT_URL, JWT_SECRET, ...)
//  2. YAML config file (~/.config/vortexdb/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path: ~/.config/vortexdb/config.yaml.
//
// # Security considerations
//
// File permissions: the config file MUST have 0600 or 0400 permissions.
// Files with weaker permissions (e.g. world-readable 0644) are rejected,
// since the file may carry QDRANT_API_KEY / JWT_SECRET / ADMIN_SECRET
// values.
//
// Path validation: only configuration files in allowed directories can be
// loaded (~/.config/vortexdb/ or /etc/vortexdb/), to prevent path
// traversal attacks via a crafted --config flag.
//
// File size limit: files over 1MB are rejected.
//
// # Environment variable mapping
//
// VortexDB's env vars are flat, top-level names (VECTORDB_HOST,
// QDRANT_URL, JOBS_DB_PATH, ...), unlike a nested section.field layout.
// The transformer looks each variable name up in envVarKoanfPath to find
// the koanf key expected by the matching Config field's `koanf` tag.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "vortexdb", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKoanfKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envVarKoanfPath maps VortexDB's flat environment variable names to the
// dotted koanf path of the Config field they populate. Unlike the
// section_field convention a nested Config would use, these names don't
// decompose predictably, so the mapping is explicit.
var envVarKoanfPath = map[string]string{
	"APP_MODE":           "server.mode",
	"SERVER_PORT":        "server.http_port",
	"VECTORDB_ENV":       "vectordb.env",
	"VECTORDB_HOST":      "vectordb.host",
	"VECTORDB_PORT":      "vectordb.port",
	"VECTORDB_API_KEY":   "vectordb.api_key",
	"VECTORDB_ENGINE":    "vectordb.engine",
	"QDRANT_URL":         "qdrant.url",
	"QDRANT_API_KEY":     "qdrant.api_key",
	"REDIS_URL":          "redis.url",
	"JOBS_DB_PATH":       "jobs.db_path",
	"SNAPSHOT_DIR":       "jobs.snapshot_dir",
	"VORTEX_SECURITY_DB": "security.db_path",
	"BM25_PATH":          "bm25.path",
	"ALLOW_BM25_BATCH":   "bm25.allow_batch",
	"BM25_COOLDOWN_MIN":  "bm25.cooldown_min",
	"ENABLE_SPLADE":      "splade.enabled",
	"SPLADE_MODEL_NAME":  "splade.model_name",
	"SPLADE_MAX_LENGTH":  "splade.max_length",
	"SPLADE_THRESHOLD":   "splade.threshold",
	"SPLADE_DEVICE":      "splade.device",
	"ADMIN_SECRET":       "admin.secret",
	"JWT_SECRET":         "auth.jwt_secret",
	"LOG_LEVEL":          "logging.level",
	"LOG_KEY":            "logging.key",
}

// envKoanfKey is koanf's env.Provider transformer. It maps a raw
// environment variable name to the dotted key used to unmarshal into
// Config. Names outside envVarKoanfPath are only lowercased, a harmless
// no-op since no Config field would claim that key.
func envKoanfKey(name string) string {
	if path, ok := envVarKoanfPath[name]; ok {
		return path
	}
	return strings.ToLower(name)
}

// applyEnvOverrides re-reads APP_MODE directly (via loadProductionConfig)
// rather than through koanf's env.Provider. koanf's env loader only sees
// variables that are actually set in the process environment; APP_MODE
// gates production safety checks and is read this way so its
// absence is unambiguous rather than silently matching the YAML value.
func applyEnvOverrides(cfg *Config) {
	cfg.Production = loadProductionConfig()
}

// EnsureConfigDir creates the VortexDB config directory if it doesn't
// exist, with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "vortexdb")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories. This
// validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Symlink evaluation fails for paths that don't exist yet; fall
		// back to the absolute path so new config files can still be
		// validated.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "vortexdb"),
		"/etc/vortexdb",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/vortexdb/ or /etc/vortexdb/")
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened file descriptor to avoid a TOCTOU race
// between stat and read.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for fields left unset by the YAML
// file and environment.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "development"
	}

	if cfg.VectorDB.Env == "" {
		cfg.VectorDB.Env = "development"
	}
	if cfg.VectorDB.Host == "" {
		cfg.VectorDB.Host = "0.0.0.0"
	}
	if cfg.VectorDB.Port == 0 {
		cfg.VectorDB.Port = 8080
	}
	if cfg.VectorDB.Engine == "" {
		cfg.VectorDB.Engine = "qdrant"
	}

	if cfg.Qdrant.URL == "" {
		cfg.Qdrant.URL = "http://localhost:6334"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Jobs.DBPath == "" {
		cfg.Jobs.DBPath = "/data/jobs.db"
	}
	if cfg.Jobs.SnapshotDir == "" {
		cfg.Jobs.SnapshotDir = "/data/snapshots"
	}
	if cfg.Security.DBPath == "" {
		cfg.Security.DBPath = "/data/security.db"
	}

	if cfg.BM25.Path == "" {
		cfg.BM25.Path = "/data/bm25.json"
	}
	if cfg.BM25.CooldownMin == 0 {
		cfg.BM25.CooldownMin = 10
	}
	cfg.BM25.CooldownDur = time.Duration(cfg.BM25.CooldownMin) * time.Minute

	if cfg.Splade.ModelName == "" {
		cfg.Splade.ModelName = "naver/splade-cocondenser-ensembledistil"
	}
	if cfg.Splade.MaxLength == 0 {
		cfg.Splade.MaxLength = 256
	}
	if cfg.Splade.Threshold == 0 {
		cfg.Splade.Threshold = 0.01
	}
	if cfg.Splade.Device == "" {
		cfg.Splade.Device = "cpu"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
