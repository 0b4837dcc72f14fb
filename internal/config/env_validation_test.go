package config

import (
	"os"
	"testing"
)

func TestLoadValidatesVectorDBHost(t *testing.T) {
	defer os.Unsetenv("VECTORDB_HOST")

	invalidHosts := []string{
		"localhost; rm -rf /",
		"localhost\nmalicious",
		"localhost$(whoami)",
	}

	for _, host := range invalidHosts {
		t.Run(host, func(t *testing.T) {
			os.Setenv("VECTORDB_HOST", host)
			cfg := Load()
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for malicious host: %s", host)
			}
		})
	}
}

func TestLoadValidatesJobsDBPath(t *testing.T) {
	defer os.Unsetenv("JOBS_DB_PATH")

	invalidPaths := []string{
		"../../../etc/passwd",
		"/data/../../../etc/passwd",
	}

	for _, path := range invalidPaths {
		t.Run(path, func(t *testing.T) {
			os.Setenv("JOBS_DB_PATH", path)
			cfg := Load()
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for path traversal: %s", path)
			}
		})
	}
}

func TestLoadValidatesQdrantURL(t *testing.T) {
	defer os.Unsetenv("QDRANT_URL")

	invalidURLs := []string{
		"javascript:alert(1)",
		"file:///etc/passwd",
		"ftp://malicious.com",
	}

	for _, url := range invalidURLs {
		t.Run(url, func(t *testing.T) {
			os.Setenv("QDRANT_URL", url)
			cfg := Load()
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for invalid URL: %s", url)
			}
		})
	}
}

func TestLoadAllowsValidConfig(t *testing.T) {
	defer os.Unsetenv("VECTORDB_HOST")
	defer os.Unsetenv("JOBS_DB_PATH")
	defer os.Unsetenv("QDRANT_URL")

	os.Setenv("VECTORDB_HOST", "localhost")
	os.Setenv("JOBS_DB_PATH", "/data/jobs.db")
	os.Setenv("QDRANT_URL", "http://localhost:6334")

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}
}
