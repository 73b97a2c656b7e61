package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServerAddr != "127.0.0.1:7474" {
		t.Errorf("Expected ServerAddr '127.0.0.1:7474', got '%s'", cfg.ServerAddr)
	}
	if cfg.MaxWorkers != 4 {
		t.Errorf("Expected MaxWorkers 4, got %d", cfg.MaxWorkers)
	}
	if cfg.JobTimeoutMinutes != 15 {
		t.Errorf("Expected JobTimeoutMinutes 15, got %d", cfg.JobTimeoutMinutes)
	}
	if cfg.RateLimitPerMin != 60 {
		t.Errorf("Expected RateLimitPerMin 60, got %d", cfg.RateLimitPerMin)
	}
}

func TestDataDir(t *testing.T) {
	t.Run("default uses home directory", func(t *testing.T) {
		origEnv := os.Getenv("REVIEWAGENT_DATA_DIR")
		os.Unsetenv("REVIEWAGENT_DATA_DIR")
		defer func() {
			if origEnv != "" {
				os.Setenv("REVIEWAGENT_DATA_DIR", origEnv)
			}
		}()

		dir := DataDir()
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".reviewagent")
		if dir != expected {
			t.Errorf("Expected %s, got %s", expected, dir)
		}
	})

	t.Run("env var overrides default", func(t *testing.T) {
		origEnv := os.Getenv("REVIEWAGENT_DATA_DIR")
		os.Setenv("REVIEWAGENT_DATA_DIR", "/custom/data/dir")
		defer func() {
			if origEnv != "" {
				os.Setenv("REVIEWAGENT_DATA_DIR", origEnv)
			} else {
				os.Unsetenv("REVIEWAGENT_DATA_DIR")
			}
		}()

		dir := DataDir()
		if dir != "/custom/data/dir" {
			t.Errorf("Expected /custom/data/dir, got %s", dir)
		}
	})
}

func TestLoadGlobalFrom(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadGlobalFrom(filepath.Join(t.TempDir(), "missing.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ServerAddr != "127.0.0.1:7474" {
			t.Errorf("expected default server addr, got %s", cfg.ServerAddr)
		}
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := `
server_addr = "0.0.0.0:9000"
max_workers = 8

[github]
app_id = 12345
private_key_path = "/etc/reviewagent/app.pem"
webhook_secret = "hunter2"

[archive]
conn_string = "postgres://u:p@localhost/reviews"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadGlobalFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ServerAddr != "0.0.0.0:9000" {
			t.Errorf("expected server_addr override, got %s", cfg.ServerAddr)
		}
		if cfg.MaxWorkers != 8 {
			t.Errorf("expected max_workers 8, got %d", cfg.MaxWorkers)
		}
		if !cfg.GitHub.AppConfigured() {
			t.Error("expected GitHub App to be configured")
		}
		if cfg.GitHub.WebhookSecret != "hunter2" {
			t.Errorf("expected webhook secret, got %q", cfg.GitHub.WebhookSecret)
		}
		if !cfg.Archive.Enabled() {
			t.Error("expected archive to be enabled")
		}
		// Unset values keep defaults
		if cfg.JobTimeoutMinutes != 15 {
			t.Errorf("expected default job timeout, got %d", cfg.JobTimeoutMinutes)
		}
	})

	t.Run("malformed file returns error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("not [valid toml"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadGlobalFrom(path); err == nil {
			t.Error("expected error for malformed TOML")
		}
	})
}

func TestSaveGlobalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.ServerAddr = "127.0.0.1:8080"
	cfg.GitHub.Token = "ghp_test"

	if err := SaveGlobalTo(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadGlobalFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ServerAddr != "127.0.0.1:8080" {
		t.Errorf("expected saved server addr, got %s", loaded.ServerAddr)
	}
	if loaded.GitHub.Token != "ghp_test" {
		t.Errorf("expected saved token, got %q", loaded.GitHub.Token)
	}
}

func TestResolveJobTimeout(t *testing.T) {
	globalCfg := &Config{JobTimeoutMinutes: 20}

	t.Run("repo config wins", func(t *testing.T) {
		dir := t.TempDir()
		content := "job_timeout_minutes = 5\n"
		if err := os.WriteFile(filepath.Join(dir, ".reviewagent.toml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if got := ResolveJobTimeout(dir, globalCfg); got != 5 {
			t.Errorf("expected 5, got %d", got)
		}
	})

	t.Run("global config when no repo config", func(t *testing.T) {
		if got := ResolveJobTimeout(t.TempDir(), globalCfg); got != 20 {
			t.Errorf("expected 20, got %d", got)
		}
	})

	t.Run("default when nothing set", func(t *testing.T) {
		if got := ResolveJobTimeout("", &Config{}); got != 15 {
			t.Errorf("expected 15, got %d", got)
		}
	})
}

func TestLoadRepoConfig(t *testing.T) {
	t.Run("missing file returns nil", func(t *testing.T) {
		cfg, err := LoadRepoConfig(t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config for missing file")
		}
	})

	t.Run("loads overrides", func(t *testing.T) {
		dir := t.TempDir()
		content := `
max_line_length = 100
exclude_paths = ["vendor/*", "*.pb.go"]
disabled_rules = ["style/todo-reference"]
`
		if err := os.WriteFile(filepath.Join(dir, ".reviewagent.toml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadRepoConfig(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MaxLineLength != 100 {
			t.Errorf("expected max_line_length 100, got %d", cfg.MaxLineLength)
		}
		if len(cfg.ExcludePaths) != 2 {
			t.Errorf("expected 2 exclude paths, got %d", len(cfg.ExcludePaths))
		}
	})
}
