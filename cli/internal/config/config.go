package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Storage backends for the local event store.
const (
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
)

// Config holds the CLI configuration
type Config struct {
	Server   string `yaml:"server,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	DataDir  string `yaml:"data_dir,omitempty"`
	Backend  string `yaml:"backend,omitempty"`
}

// configPath returns the path to the config file
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tokentrail.yaml"), nil
}

// Load loads the configuration from disk
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Backend != "" && cfg.Backend != BackendSQLite && cfg.Backend != BackendJSONL {
		return nil, fmt.Errorf("invalid backend %q (want %q or %q)", cfg.Backend, BackendSQLite, BackendJSONL)
	}

	return &cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	// Generate client ID if not set
	if cfg.ClientID == "" {
		id, err := generateClientID()
		if err != nil {
			return err
		}
		cfg.ClientID = id
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DataDirOrDefault resolves the directory holding the local event
// store, defaulting to ~/.tokentrail.
func (c *Config) DataDirOrDefault() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tokentrail"), nil
}

// StorePath resolves the local event store file for the configured
// backend.
func (c *Config) StorePath() (string, error) {
	dir, err := c.DataDirOrDefault()
	if err != nil {
		return "", err
	}
	if c.Backend == BackendJSONL {
		return filepath.Join(dir, "events.jsonl"), nil
	}
	return filepath.Join(dir, "events.db"), nil
}

func generateClientID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
