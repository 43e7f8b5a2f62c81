package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadParsesClosingSettings(t *testing.T) {
	t.Setenv("STRICT_FEE_CONFIG", "true")
	t.Setenv("CACHE_TTL_SECONDS", "-4")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("SALES_DATABASE_URL", "postgres://sales")

	cfg := Load()
	if !cfg.StrictFeeConfig {
		t.Fatalf("expected strict fee config to be enabled")
	}
	if cfg.CacheTTLSeconds != 60 {
		t.Fatalf("expected invalid ttl to fall back to 60, got %d", cfg.CacheTTLSeconds)
	}
	if !cfg.Production() {
		t.Fatalf("expected production environment, got %q", cfg.AppEnv)
	}
	if cfg.SalesDatabaseURL != "postgres://sales" {
		t.Fatalf("unexpected sales database url %q", cfg.SalesDatabaseURL)
	}
}
