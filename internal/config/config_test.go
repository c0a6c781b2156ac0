package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if val, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { os.Setenv(key, val) })
	}
	os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	t.Run("returns config with defaults when no env vars set", func(t *testing.T) {
		unsetEnv(t, "DB_HOST")
		unsetEnv(t, "ENCRYPTION_KEY")
		unsetEnv(t, "REDIS_ADDR")
		unsetEnv(t, "GROUP_DEFAULT_MAX_SIZE")

		cfg := Load()
		if cfg == nil {
			t.Fatal("expected non-nil config")
		}
		if cfg.DB.Host != "localhost" {
			t.Errorf("expected DB.Host 'localhost', got %s", cfg.DB.Host)
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("expected Server.Port '8080', got %s", cfg.Server.Port)
		}
		if cfg.Enrichment.MaxAttempts != 3 {
			t.Errorf("expected Enrichment.MaxAttempts 3, got %d", cfg.Enrichment.MaxAttempts)
		}
		if cfg.Enrichment.StaleAfter != 10*time.Minute {
			t.Errorf("expected Enrichment.StaleAfter 10m, got %v", cfg.Enrichment.StaleAfter)
		}
		if cfg.Groups.DefaultMaxSize != 2000000 {
			t.Errorf("expected Groups.DefaultMaxSize 2000000, got %d", cfg.Groups.DefaultMaxSize)
		}
		if cfg.Redis.Enabled() {
			t.Error("expected redis to be disabled without REDIS_ADDR")
		}
		if cfg.Encryption.Key != "" {
			t.Errorf("expected empty encryption key, got %q", cfg.Encryption.Key)
		}
	})

	t.Run("reads environment variables", func(t *testing.T) {
		t.Setenv("DB_HOST", "custom-host")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("ENCRYPTION_KEY", "k")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_MEMBERSHIP_TTL", "1m")
		t.Setenv("ENRICHMENT_QUEUE_BUFFER_SIZE", "50")
		t.Setenv("GROUP_DEFAULT_MAX_SIZE", "42")

		cfg := Load()

		if cfg.DB.Host != "custom-host" {
			t.Errorf("expected DB.Host 'custom-host', got %s", cfg.DB.Host)
		}
		if cfg.DB.Port != "5433" {
			t.Errorf("expected DB.Port '5433', got %s", cfg.DB.Port)
		}
		if cfg.Server.Port != "9090" {
			t.Errorf("expected Server.Port '9090', got %s", cfg.Server.Port)
		}
		if cfg.Encryption.Key != "k" {
			t.Errorf("expected Encryption.Key 'k', got %s", cfg.Encryption.Key)
		}
		if !cfg.Redis.Enabled() || cfg.Redis.Addr != "redis:6379" {
			t.Errorf("expected redis enabled at redis:6379, got %q", cfg.Redis.Addr)
		}
		if cfg.Redis.MembershipTTL != time.Minute {
			t.Errorf("expected Redis.MembershipTTL 1m, got %v", cfg.Redis.MembershipTTL)
		}
		if cfg.Enrichment.QueueBufferSize != 50 {
			t.Errorf("expected Enrichment.QueueBufferSize 50, got %d", cfg.Enrichment.QueueBufferSize)
		}
		if cfg.Groups.DefaultMaxSize != 42 {
			t.Errorf("expected Groups.DefaultMaxSize 42, got %d", cfg.Groups.DefaultMaxSize)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("missing encryption key is fatal", func(t *testing.T) {
		cfg := &Config{}
		if err := cfg.Validate(); !errors.Is(err, ErrMissingEncryptionKey) {
			t.Fatalf("expected ErrMissingEncryptionKey, got %v", err)
		}
	})

	t.Run("encryption key present", func(t *testing.T) {
		cfg := &Config{Encryption: EncryptionConfig{Key: "secret"}}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestGetEnvAsInt(t *testing.T) {
	t.Run("returns parsed int", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")
		if got := getEnvAsInt("TEST_INT", 0); got != 42 {
			t.Errorf("expected 42, got %d", got)
		}
	})

	t.Run("returns fallback for invalid int", func(t *testing.T) {
		t.Setenv("TEST_INT_BAD", "not-a-number")
		if got := getEnvAsInt("TEST_INT_BAD", 10); got != 10 {
			t.Errorf("expected 10, got %d", got)
		}
	})
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if got := getEnvAsBool("TEST_BOOL_BAD", true); !got {
		t.Error("expected true (fallback)")
	}
	t.Setenv("TEST_BOOL", "true")
	if got := getEnvAsBool("TEST_BOOL", false); !got {
		t.Error("expected true")
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5m")
	if got := getEnvAsDuration("TEST_DUR", time.Hour); got != 5*time.Minute {
		t.Errorf("expected 5m, got %v", got)
	}
	t.Setenv("TEST_DUR_BAD", "invalid")
	if got := getEnvAsDuration("TEST_DUR_BAD", time.Hour); got != time.Hour {
		t.Errorf("expected 1h (fallback), got %v", got)
	}
}
