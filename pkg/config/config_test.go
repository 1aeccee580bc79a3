package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PGHOST", "BASE_URL", "PORT", "ENVIRONMENT", "LLM_PROVIDER", "LLM_PERFORMANCE_TIER",
		"REDIS_HOST", "AUTH_ENABLE_VERIFICATION", "AUTH_JWT_SECRET", "QUEUE_CONCURRENCY",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
redis:
  host: "redis.example.com"
  port: 6379
llm:
  provider: "anthropic"
  performance_tier: "high"
`)

	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadFrom(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL=http://localhost:4443, got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Addr() != "redis.example.com:6379" {
		t.Errorf("expected redis at redis.example.com:6379, got %q", cfg.Redis.Addr())
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.PerformanceTier != "high" {
		t.Errorf("expected anthropic/high, got %s/%s", cfg.LLM.Provider, cfg.LLM.PerformanceTier)
	}
}

func TestLoadFrom_MissingFileUsesEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Queue.Concurrency != 20 {
		t.Errorf("expected default concurrency 20, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Queue.BatchSize != 5 {
		t.Errorf("expected default batch size 5, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Queue.Attempts != 3 {
		t.Errorf("expected default attempts 3, got %d", cfg.Queue.Attempts)
	}
	if cfg.Queue.Backoff() != 2*time.Second {
		t.Errorf("expected default backoff 2s, got %s", cfg.Queue.Backoff())
	}
	if cfg.Queue.Lease() != 30*time.Second {
		t.Errorf("expected default lease 30s, got %s", cfg.Queue.Lease())
	}
	if cfg.Queue.RetainCompleted != 100 || cfg.Queue.RetainFailed != 500 {
		t.Errorf("unexpected retention %d/%d", cfg.Queue.RetainCompleted, cfg.Queue.RetainFailed)
	}
	if cfg.Redis.Enabled() {
		t.Error("expected redis to be disabled without REDIS_HOST")
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.PerformanceTier != "medium" {
		t.Errorf("expected openai/medium defaults, got %s/%s", cfg.LLM.Provider, cfg.LLM.PerformanceTier)
	}
}

func TestLoadFrom_RejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "mistral")

	if _, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"), "dev"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestLoadFrom_AuthRequiresSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ENABLE_VERIFICATION", "true")

	if _, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"), "dev"); err == nil {
		t.Fatal("expected error when verification is enabled without a secret")
	}

	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.JWTSecret)
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := &DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", Database: "ci", SSLMode: "disable"}
	want := "postgres://u:p%40ss@db:5433/ci?sslmode=disable"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
