package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	originalEnv := saveEnv()
	defer restoreEnv(originalEnv)
	os.Clearenv()

	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.VectorDB.Engine != "qdrant" {
		t.Errorf("VectorDB.Engine = %q, want qdrant", cfg.VectorDB.Engine)
	}
	if cfg.Qdrant.URL != "http://localhost:6334" {
		t.Errorf("Qdrant.URL = %q, want http://localhost:6334", cfg.Qdrant.URL)
	}
	if cfg.Splade.Enabled {
		t.Error("Splade.Enabled = true, want false by default")
	}
	if cfg.BM25.CooldownMin != 10 {
		t.Errorf("BM25.CooldownMin = %d, want 10", cfg.BM25.CooldownMin)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Production.Enabled {
		t.Error("Production.Enabled = true, want false when APP_MODE is unset")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	originalEnv := saveEnv()
	defer restoreEnv(originalEnv)

	tests := []struct {
		name     string
		env      map[string]string
		validate func(*testing.T, *Config)
	}{
		{
			name: "vectordb and qdrant connection overrides",
			env: map[string]string{
				"VECTORDB_HOST":  "vortex.internal",
				"VECTORDB_PORT":  "9443",
				"QDRANT_URL":     "https://qdrant.internal:6334",
				"QDRANT_API_KEY": "qk-test",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.VectorDB.Host != "vortex.internal" {
					t.Errorf("VectorDB.Host = %q, want vortex.internal", cfg.VectorDB.Host)
				}
				if cfg.VectorDB.Port != 9443 {
					t.Errorf("VectorDB.Port = %d, want 9443", cfg.VectorDB.Port)
				}
				if cfg.Qdrant.URL != "https://qdrant.internal:6334" {
					t.Errorf("Qdrant.URL = %q, want https://qdrant.internal:6334", cfg.Qdrant.URL)
				}
				if cfg.Qdrant.APIKey.Value() != "qk-test" {
					t.Errorf("Qdrant.APIKey = %q, want qk-test", cfg.Qdrant.APIKey.Value())
				}
			},
		},
		{
			name: "splade overrides",
			env: map[string]string{
				"ENABLE_SPLADE":     "true",
				"SPLADE_MAX_LENGTH": "128",
				"SPLADE_THRESHOLD":  "0.05",
				"SPLADE_DEVICE":     "cuda",
			},
			validate: func(t *testing.T, cfg *Config) {
				if !cfg.Splade.Enabled {
					t.Error("Splade.Enabled = false, want true")
				}
				if cfg.Splade.MaxLength != 128 {
					t.Errorf("Splade.MaxLength = %d, want 128", cfg.Splade.MaxLength)
				}
				if cfg.Splade.Threshold != 0.05 {
					t.Errorf("Splade.Threshold = %v, want 0.05", cfg.Splade.Threshold)
				}
				if cfg.Splade.Device != "cuda" {
					t.Errorf("Splade.Device = %q, want cuda", cfg.Splade.Device)
				}
			},
		},
		{
			name: "app mode production",
			env: map[string]string{
				"APP_MODE":     "production",
				"JWT_SECRET":   "s3cr3t",
				"ADMIN_SECRET": "adminsecret",
			},
			validate: func(t *testing.T, cfg *Config) {
				if !cfg.Production.Enabled {
					t.Error("Production.Enabled = false, want true")
				}
				if !cfg.Production.RequireAuthentication {
					t.Error("Production.RequireAuthentication = false, want true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			cfg := Load()
			if cfg == nil {
				t.Fatal("Load() returned nil")
			}
			tt.validate(t, cfg)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Server: ServerConfig{Port: 8080, ShutdownTimeout: 10 * time.Second, Mode: "development"},
			Qdrant: QdrantConfig{URL: "http://localhost:6334"},
			VectorDB: VectorDBConfig{
				Host: "localhost",
			},
			Jobs:     JobsConfig{DBPath: "/data/jobs.db", SnapshotDir: "/data/snapshots"},
			Security: SecurityConfig{DBPath: "/data/security.db"},
			BM25:     BM25Config{Path: "/data/bm25.json"},
			Logging:  LoggingConfig{Level: "info"},
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "invalid port too low", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "invalid port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantErr: true},
		{name: "bad qdrant scheme", mutate: func(c *Config) { c.Qdrant.URL = "ftp://qdrant" }, wantErr: true},
		{name: "bad hostname", mutate: func(c *Config) { c.VectorDB.Host = "host;rm -rf /" }, wantErr: true},
		{name: "path traversal in jobs db path", mutate: func(c *Config) { c.Jobs.DBPath = "/data/../etc/passwd" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{
			name: "production without jwt secret",
			mutate: func(c *Config) {
				c.Production.Enabled = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func saveEnv() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		env[e] = os.Getenv(e)
	}
	return env
}

func restoreEnv(env map[string]string) {
	os.Clearenv()
	for k, v := range env {
		os.Setenv(k, v)
	}
}
