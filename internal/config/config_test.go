package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.Settings.Storage != "memory" || cfg.Logging.StorageType != "memory" {
		t.Fatalf("expected memory storage by default, got %q / %q", cfg.Settings.Storage, cfg.Logging.StorageType)
	}
	if got := cfg.SettingsRedisKey(); got != "settings:settings" {
		t.Fatalf("unexpected settings redis key: %s", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("SETTINGS_PREFIX", "api")
	t.Setenv("SETTINGS_ALLOW_EXTRA", "true")
	t.Setenv("LOGGING_STORAGE_TYPE", "File")
	t.Setenv("LOGGING_CONFIG_FILE", "/tmp/loggers.json")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	if cfg.RateLimit.RPS != 5 {
		t.Fatalf("expected rps 5, got %v", cfg.RateLimit.RPS)
	}
	if cfg.Settings.Prefix != "api" || !cfg.Settings.AllowExtra {
		t.Fatalf("unexpected settings config: %+v", cfg.Settings)
	}
	if cfg.Logging.StorageType != "file" || cfg.Logging.ConfigFile != "/tmp/loggers.json" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Fatalf("unexpected redis url: %s", cfg.Redis.URL)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: "7000"
log_level: debug
shutdown_grace_period: 3s
enable_request_logging: false
rate_limit:
  rps: 2
  burst: 4
settings:
  name: app
  storage: file
  file: /data/app.json
`)
	t.Setenv("RATE_LIMIT_BURST", "8")

	cfg, err := Load(&CLIOverrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "7000" || cfg.LogLevel != "debug" {
		t.Fatalf("expected YAML values, got port=%s level=%s", cfg.Port, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 3*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.EnableRequestLogging {
		t.Fatalf("expected request logging disabled by YAML")
	}
	if cfg.RateLimit.RPS != 2 || cfg.RateLimit.Burst != 8 {
		t.Fatalf("expected rps from YAML and burst from env, got %+v", cfg.RateLimit)
	}
	if cfg.WriteTimeout != 15*time.Second {
		t.Fatalf("keys absent from YAML must keep defaults, got %s", cfg.WriteTimeout)
	}
	if cfg.Settings.File != "/data/app.json" || cfg.SettingsRedisKey() != "settings:app" {
		t.Fatalf("unexpected settings config: %+v", cfg.Settings)
	}
}

func TestLoadCLIOverridesWin(t *testing.T) {
	t.Setenv("PORT", "9000")

	cfg, err := Load(&CLIOverrides{
		Values: Config{
			Port:     "9100",
			Settings: SettingsConfig{Storage: "redis"},
		},
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9100" {
		t.Fatalf("expected CLI port, got %s", cfg.Port)
	}
	if cfg.Settings.Storage != "redis" {
		t.Fatalf("expected CLI storage, got %s", cfg.Settings.Storage)
	}
	if cfg.Settings.Name != defaultSettingsName {
		t.Fatalf("zero CLI values must not clear defaults, got %q", cfg.Settings.Name)
	}
}

func TestLoadEnvFile(t *testing.T) {
	// t.Setenv restores the original state; unset so the file can provide it.
	t.Setenv("SETTINGS_PREFIX", "")
	os.Unsetenv("SETTINGS_PREFIX")
	t.Setenv("PORT", "9000")

	path := writeFile(t, ".env", "SETTINGS_PREFIX=billing\nPORT=1234\n")

	cfg, err := Load(&CLIOverrides{EnvFile: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Settings.Prefix != "billing" {
		t.Fatalf("expected prefix from env file, got %q", cfg.Settings.Prefix)
	}
	if cfg.Port != "9000" {
		t.Fatalf("process environment must win over the env file, got %s", cfg.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing YAML file", func(t *testing.T) {
		if _, err := Load(&CLIOverrides{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")}); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("missing env file", func(t *testing.T) {
		if _, err := Load(&CLIOverrides{EnvFile: filepath.Join(t.TempDir(), ".env")}); err == nil {
			t.Fatalf("expected error for missing env file")
		}
	})

	t.Run("malformed env value", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_BURST", "many")
		if _, err := Load(nil); err == nil {
			t.Fatalf("expected error for malformed integer")
		}
	})

	t.Run("unknown storage", func(t *testing.T) {
		t.Setenv("LOGGING_STORAGE_TYPE", "etcd")
		_, err := Load(nil)
		if err == nil || !strings.Contains(err.Error(), "LOGGING_STORAGE_TYPE") {
			t.Fatalf("expected LOGGING_STORAGE_TYPE error, got %v", err)
		}
	})

	t.Run("negative rate limit", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_RPS", "-1")
		if _, err := Load(nil); err == nil {
			t.Fatalf("expected error for negative rps")
		}
	})

	t.Run("unknown log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "chatty")
		if _, err := Load(nil); err == nil {
			t.Fatalf("expected error for unknown log level")
		}
	})
}

func TestValidateStorage(t *testing.T) {
	if err := validateStorage("X", "file", "", ""); err == nil {
		t.Fatalf("expected error for file storage without a path")
	}
	if err := validateStorage("X", "redis", "", ""); err == nil {
		t.Fatalf("expected error for redis storage without a url")
	}
	if err := validateStorage("X", "", "", ""); err != nil {
		t.Fatalf("empty kind means memory, got %v", err)
	}
}
