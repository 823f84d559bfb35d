package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = "authsession.json"

// configFileNames lists the accepted project config names in lookup order
var configFileNames = []string{ConfigFileName, "authsession.yaml", "authsession.yml"}

// Token store backends
const (
	TokenStoreKeyring = "keyring"
	TokenStoreRedis   = "redis"
	TokenStoreMemory  = "memory"
)

// ErrConfigNotFound is returned when no project config exists up the tree
var ErrConfigNotFound = errors.New("authsession config not found")

// Server represents an authentication API the CLI can talk to
type Server struct {
	URL   string `json:"url" yaml:"url" validate:"required,url"`
	Alias string `json:"alias" yaml:"alias" validate:"required"`
}

// Config represents the CLI configuration file
type Config struct {
	Servers []Server `json:"servers" yaml:"servers" validate:"dive"`

	// Locale selects the fallback error messages ("en" or "fr")
	Locale string `json:"locale,omitempty" yaml:"locale,omitempty" validate:"omitempty,oneof=en fr"`

	// FallbackToken overrides the token recorded when the server answers a
	// successful login without one. An explicit empty string disables it.
	FallbackToken *string `json:"fallback_token,omitempty" yaml:"fallback_token,omitempty"`

	TokenStore   string `json:"token_store,omitempty" yaml:"token_store,omitempty" validate:"omitempty,oneof=keyring redis memory"`
	RedisAddress string `json:"redis_address,omitempty" yaml:"redis_address,omitempty" validate:"required_if=TokenStore redis"`

	// InsecureTLS accepts self-signed server certificates
	InsecureTLS bool `json:"insecure_tls,omitempty" yaml:"insecure_tls,omitempty"`
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TokenStoreKind returns the configured backend, defaulting to the keyring
func (c *Config) TokenStoreKind() string {
	if c.TokenStore == "" {
		return TokenStoreKeyring
	}
	return c.TokenStore
}

// FindConfigFile searches for a project config in the current directory and
// parent directories
func FindConfigFile() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return FindConfigFileFrom(currentDir)
}

// FindConfigFileFrom searches upwards from startDir
func FindConfigFileFrom(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configFileNames {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%w in %s or any parent directory", ErrConfigNotFound, startDir)
}

// Load reads the configuration file. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromCurrentDir loads config from current directory or parent directories
func LoadFromCurrentDir() (*Config, error) {
	configPath, err := FindConfigFile()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Save writes the configuration to a file in the format its extension names
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetServerByAlias returns a server by its alias
func (c *Config) GetServerByAlias(alias string) (*Server, error) {
	for i := range c.Servers {
		if c.Servers[i].Alias == alias {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server with alias '%s' not found", alias)
}

// GetServerByURL returns a server by its URL, ignoring a trailing slash
func (c *Config) GetServerByURL(url string) (*Server, error) {
	want := strings.TrimSuffix(url, "/")
	for i := range c.Servers {
		if strings.TrimSuffix(c.Servers[i].URL, "/") == want {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server with URL '%s' not found", url)
}

// GetDefaultServer returns the first server in the list
func (c *Config) GetDefaultServer() (*Server, error) {
	if len(c.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured in %s", ConfigFileName)
	}
	return &c.Servers[0], nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
