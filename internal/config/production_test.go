package config

import (
	"os"
	"testing"
)

func TestProductionConfigDefaults(t *testing.T) {
	defer os.Unsetenv("APP_MODE")
	os.Unsetenv("APP_MODE")

	cfg := Load()
	if cfg.Production.Enabled {
		t.Error("Production.Enabled = true, want false (disabled by default)")
	}
}

func TestProductionConfigEnabledViaEnv(t *testing.T) {
	defer os.Unsetenv("APP_MODE")
	os.Setenv("APP_MODE", "production")

	cfg := Load()
	if !cfg.Production.Enabled {
		t.Error("Production.Enabled = false, want true when APP_MODE=production")
	}
	if !cfg.Production.RequireAuthentication {
		t.Error("Production.RequireAuthentication = false, want true in production mode")
	}
}
