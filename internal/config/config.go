package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration
type Config struct {
	ServerAddr        string `toml:"server_addr"`
	MaxWorkers        int    `toml:"max_workers"`
	JobTimeoutMinutes int    `toml:"job_timeout_minutes"`
	APIToken          string `toml:"api_token" sensitive:"true"`
	CloneDir          string `toml:"clone_dir"`
	RateLimitPerMin   int    `toml:"rate_limit_per_min"`

	GitHub  GitHubConfig  `toml:"github"`
	Archive ArchiveConfig `toml:"archive"`
}

// GitHubConfig holds GitHub authentication settings. Either a personal
// access token or a GitHub App (app_id + private key) can be configured;
// the App takes precedence when both are set.
type GitHubConfig struct {
	Token          string `toml:"token" sensitive:"true"`
	AppID          int64  `toml:"app_id"`
	InstallationID int64  `toml:"installation_id"`
	PrivateKeyPath string `toml:"private_key_path"`
	WebhookSecret  string `toml:"webhook_secret" sensitive:"true"`
	BaseURL        string `toml:"base_url"` // override for GitHub Enterprise or tests
}

// AppConfigured returns true if GitHub App authentication is configured
func (g GitHubConfig) AppConfigured() bool {
	return g.AppID != 0 && g.PrivateKeyPath != ""
}

// PrivateKeyResolved reads the configured private key PEM from disk
func (g GitHubConfig) PrivateKeyResolved() (string, error) {
	if g.PrivateKeyPath == "" {
		return "", fmt.Errorf("github.private_key_path not set")
	}
	data, err := os.ReadFile(g.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	return string(data), nil
}

// ArchiveConfig holds the optional Postgres archive settings
type ArchiveConfig struct {
	ConnString      string `toml:"conn_string" sensitive:"true"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

// Enabled returns true if the Postgres archive is configured
func (a ArchiveConfig) Enabled() bool {
	return a.ConnString != ""
}

// RepoConfig holds per-repo overrides from .reviewagent.toml in a checkout
type RepoConfig struct {
	MaxLineLength     int      `toml:"max_line_length"`
	ExcludePaths      []string `toml:"exclude_paths"`
	DisabledRules     []string `toml:"disabled_rules"`
	JobTimeoutMinutes int      `toml:"job_timeout_minutes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:        "127.0.0.1:7474",
		MaxWorkers:        4,
		JobTimeoutMinutes: 15,
		CloneDir:          filepath.Join(DataDir(), "repos"),
		RateLimitPerMin:   60,
		Archive: ArchiveConfig{
			IntervalMinutes: 10,
		},
	}
}

// DataDir returns the reviewagent data directory.
// Uses REVIEWAGENT_DATA_DIR env var if set, otherwise ~/.reviewagent
func DataDir() string {
	if dir := os.Getenv("REVIEWAGENT_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reviewagent")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// LoadGlobal loads the global configuration from the default path
func LoadGlobal() (*Config, error) {
	return LoadGlobalFrom(GlobalConfigPath())
}

// LoadGlobalFrom loads the global configuration from a specific path.
// Missing file is not an error; defaults are returned.
func LoadGlobalFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveGlobal saves the global configuration
func SaveGlobal(cfg *Config) error {
	return SaveGlobalTo(cfg, GlobalConfigPath())
}

// SaveGlobalTo saves the configuration to a specific path
func SaveGlobalTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// LoadRepoConfig loads per-repo config from .reviewagent.toml in a checkout
func LoadRepoConfig(repoPath string) (*RepoConfig, error) {
	path := filepath.Join(repoPath, ".reviewagent.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil // No repo config
	}

	var cfg RepoConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveJobTimeout determines job timeout based on config priority:
// 1. Per-repo config (if set and > 0)
// 2. Global config (if set and > 0)
// 3. Default (15 minutes)
func ResolveJobTimeout(repoPath string, globalCfg *Config) int {
	if repoPath != "" {
		if repoCfg, err := LoadRepoConfig(repoPath); err == nil && repoCfg != nil && repoCfg.JobTimeoutMinutes > 0 {
			return repoCfg.JobTimeoutMinutes
		}
	}

	if globalCfg != nil && globalCfg.JobTimeoutMinutes > 0 {
		return globalCfg.JobTimeoutMinutes
	}

	return 15
}
