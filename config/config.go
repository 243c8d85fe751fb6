package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to the upper-cased setting names for environment overrides
const envPrefix = "SECUREMSG_"

// Config holds the configuration for the key agent. Argon2id cost parameters
// are not part of it: every derived key depends on them, so they are fixed at
// keyderivation.DefaultParams.
type Config struct {
	WebAddr          string   `json:"web_addr" toml:"web_addr" yaml:"web_addr"`
	WebPort          int      `json:"web_port" toml:"web_port" yaml:"web_port"`
	DatabasePath     string   `json:"database_path" toml:"database_path" yaml:"database_path"`
	LegacyKeyDir     string   `json:"legacy_key_dir" toml:"legacy_key_dir" yaml:"legacy_key_dir"`
	SessionKeyPath   string   `json:"session_key_path" toml:"session_key_path" yaml:"session_key_path"`
	AgentTokenPath   string   `json:"agent_token_path" toml:"agent_token_path" yaml:"agent_token_path"`
	LogPath          string   `json:"log_path" toml:"log_path" yaml:"log_path"`
	LogLevel         string   `json:"log_level" toml:"log_level" yaml:"log_level"`
	ReencryptWorkers int      `json:"reencrypt_workers" toml:"reencrypt_workers" yaml:"reencrypt_workers"`
	// SecureCookies marks the agent's session cookie Secure; enable it when a TLS proxy fronts the agent
	SecureCookies    bool     `json:"secure_cookies" toml:"secure_cookies" yaml:"secure_cookies"`
	TrustedProxies   []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	dataDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dataDir = filepath.Join(homeDir, ".securemsg")

		if err := os.MkdirAll(dataDir, 0700); err != nil {
			dataDir = "."
		}
	}

	return &Config{
		WebAddr:          "127.0.0.1",
		WebPort:          8787,
		DatabasePath:     filepath.Join(dataDir, "securemsg.db"),
		LegacyKeyDir:     filepath.Join(dataDir, "legacy-keys"),
		SessionKeyPath:   filepath.Join(dataDir, "session.key"),
		AgentTokenPath:   filepath.Join(dataDir, "agent.token"),
		LogPath:          filepath.Join(dataDir, "logs"),
		LogLevel:         "info",
		ReencryptWorkers: 4,
	}
}

// DefaultPath returns the config file location used when none is given
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "securemsg.toml"
	}
	return filepath.Join(homeDir, ".securemsg", "securemsg.toml")
}

// LoadConfig loads the configuration from a TOML, YAML or JSON file chosen by extension.
// A missing file yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}

	return config, nil
}

// ApplyEnvOverrides overrides settings from SECUREMSG_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	if v, ok := os.LookupEnv(envPrefix + "WEB_ADDR"); ok {
		c.WebAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "WEB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sWEB_PORT: %w", envPrefix, err)
		}
		c.WebPort = port
	}
	if v, ok := os.LookupEnv(envPrefix + "DATABASE_PATH"); ok {
		c.DatabasePath = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LEGACY_KEY_DIR"); ok {
		c.LegacyKeyDir = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(envPrefix + "REENCRYPT_WORKERS"); ok {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREENCRYPT_WORKERS: %w", envPrefix, err)
		}
		c.ReencryptWorkers = workers
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("invalid web port: %d", c.WebPort)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.LegacyKeyDir == "" {
		return fmt.Errorf("legacy key directory must not be empty")
	}
	if c.ReencryptWorkers < 1 || c.ReencryptWorkers > 64 {
		return fmt.Errorf("invalid reencrypt workers: %d (must be between 1 and 64)", c.ReencryptWorkers)
	}
	return nil
}

// SaveConfig saves the configuration to a TOML file
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}
