// Package config handles loading and managing gmailkit configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the gmailkit configuration.
type Config struct {
	OAuth OAuthConfig `toml:"oauth"`
	API   APIConfig   `toml:"api"`
	Auth  AuthConfig  `toml:"auth"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// OAuthConfig holds OAuth client configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"` // Path to Google client secrets JSON
}

// APIConfig holds API call tuning.
type APIConfig struct {
	RateLimitUnits float64 `toml:"rate_limit_units"` // Quota units per second
	PageSize       int64   `toml:"page_size"`        // Message references per search page
	Concurrency    int     `toml:"concurrency"`      // Parallel message fetches
}

// AuthConfig holds interactive authorization tuning.
type AuthConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"` // Consent callback wait, seconds
	CallbackPort   int `toml:"callback_port"`   // 0 picks an ephemeral port
}

// DefaultHome returns the default gmailkit home directory.
// Respects the GMAILKIT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("GMAILKIT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gmailkit"
	}
	return filepath.Join(home, ".gmailkit")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.gmailkit/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		OAuth: OAuthConfig{
			ClientSecrets: filepath.Join(homeDir, "client_secrets.json"),
		},
		API: APIConfig{
			RateLimitUnits: 50,
			PageSize:       100,
			Concurrency:    4,
		},
		Auth: AuthConfig{
			TimeoutSeconds: 300,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.HomeDir, "tokens")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
