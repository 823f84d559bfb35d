// Package userconfig keeps per-user CLI state outside the project: the
// selected server and the last login used on each server.
package userconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	configDirName  = "authsession"
	configFileName = "config.json"
)

// UserConfig is stored in ~/.config/authsession/config.json
type UserConfig struct {
	SelectedServerURL string `json:"selected_server_url"`

	// LastLogins maps a server URL to the username or email last used to
	// log in there. Passwords are never stored.
	LastLogins map[string]string `json:"last_logins,omitempty"`
}

// GetConfigPath returns the path to the user config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", configDirName, configFileName), nil
}

// Load reads the user configuration. A missing file yields an empty config.
func Load() (*UserConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return &UserConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the user configuration, readable by the owner only
func Save(cfg *UserConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}

	return nil
}

func update(fn func(cfg *UserConfig)) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	fn(cfg)
	return Save(cfg)
}

// SetSelectedServer records serverURL as the default server. An empty URL
// clears the selection.
func SetSelectedServer(serverURL string) error {
	return update(func(cfg *UserConfig) {
		cfg.SelectedServerURL = serverURL
	})
}

// GetSelectedServer returns the selected server URL, or empty string if not set
func GetSelectedServer() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.SelectedServerURL, nil
}

// SetLastLogin remembers the login used on serverURL
func SetLastLogin(serverURL, login string) error {
	return update(func(cfg *UserConfig) {
		if cfg.LastLogins == nil {
			cfg.LastLogins = make(map[string]string)
		}
		cfg.LastLogins[normalizeURL(serverURL)] = login
	})
}

// GetLastLogin returns the login last used on serverURL, or empty string
func GetLastLogin(serverURL string) (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.LastLogins[normalizeURL(serverURL)], nil
}

func normalizeURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/")
}
