package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKETD_JWT_SECRET", "super-secret")
	t.Setenv("MARKETD_DB_DRIVER", "sqlite")
	t.Setenv("MARKETD_DB_DSN", "file:test?mode=memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("listen = %q, want :8080", cfg.Server.Listen)
	}
	if cfg.Auth.TokenTTL() != 24*time.Hour {
		t.Fatalf("ttl = %s, want 24h", cfg.Auth.TokenTTL())
	}
	if string(cfg.Auth.Secret) != "super-secret" {
		t.Fatal("secret not loaded from environment")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("MARKETD_JWT_SECRET", "super-secret")

	path := filepath.Join(t.TempDir(), "marketd.toml")
	body := `
[server]
listen = ":9090"
environment = "staging"
rate_per_second = 5.0
rate_burst = 10

[database]
driver = "sqlite"
dsn = "file:marketd?mode=memory"

[auth]
issuer = "custom-issuer"
audience = "custom-audience"
token_ttl_hours = 2

[telemetry]
enabled = true
endpoint = "collector:4318"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Fatalf("listen = %q, want :9090", cfg.Server.Listen)
	}
	if cfg.Server.Environment != "staging" {
		t.Fatalf("environment = %q, want staging", cfg.Server.Environment)
	}
	if cfg.Auth.Issuer != "custom-issuer" {
		t.Fatalf("issuer = %q, want custom-issuer", cfg.Auth.Issuer)
	}
	if cfg.Auth.TokenTTL() != 2*time.Hour {
		t.Fatalf("ttl = %s, want 2h", cfg.Auth.TokenTTL())
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatal("telemetry section not applied")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("MARKETD_JWT_SECRET", "super-secret")
	t.Setenv("MARKETD_LISTEN", ":7070")
	t.Setenv("MARKETD_DB_DRIVER", "sqlite")
	t.Setenv("MARKETD_DB_DSN", "file:env?mode=memory")

	path := filepath.Join(t.TempDir(), "marketd.toml")
	body := `
[server]
listen = ":9090"

[database]
driver = "postgres"
dsn = "postgres://file-dsn"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":7070" {
		t.Fatalf("listen = %q, want :7070", cfg.Server.Listen)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "file:env?mode=memory" {
		t.Fatal("environment did not override database settings")
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("MARKETD_JWT_SECRET", "")
	t.Setenv("MARKETD_DB_DRIVER", "sqlite")
	t.Setenv("MARKETD_DB_DSN", "file:test?mode=memory")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing JWT secret")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("MARKETD_JWT_SECRET", "super-secret")
	t.Setenv("MARKETD_DB_DRIVER", "oracle")
	t.Setenv("MARKETD_DB_DSN", "whatever")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}

	t.Setenv("MARKETD_DB_DRIVER", "sqlite")
	t.Setenv("MARKETD_DB_DSN", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing DSN")
	}
}
