package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is consulted in the working directory when
// BTCTL_CONFIG does not name a config file.
const DefaultConfigFile = "config.yaml"

// Load resolves the daemon configuration: compiled defaults, then the
// YAML file when present, then BTCTL_* environment overrides, validated
// as a whole. A missing default file is not an error; a missing file
// named by BTCTL_CONFIG is.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := GetEnvVar("BTCTL_CONFIG", "")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFromFile(cfg, path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile unmarshals the YAML file over cfg. Fields absent from the
// file keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies the non-timing BTCTL_* environment variables.
// Timing overrides apply during ResolveTiming.
func applyEnvOverrides(cfg *Config) {
	cfg.Log.File = GetEnvVar("BTCTL_LOG_FILE", cfg.Log.File)
	cfg.API.Addr = GetEnvVar("BTCTL_API_ADDR", cfg.API.Addr)
	cfg.Auth.Enabled = GetEnvBool("BTCTL_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.Secret = GetEnvVar("BTCTL_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TokenTTLMin = GetEnvInt("BTCTL_AUTH_TOKEN_TTL_MIN", cfg.Auth.TokenTTLMin)
	cfg.Adapter.Driver = GetEnvVar("BTCTL_ADAPTER_DRIVER", cfg.Adapter.Driver)
	cfg.Adapter.Name = GetEnvVar("BTCTL_ADAPTER_NAME", cfg.Adapter.Name)
	cfg.Store.Dir = GetEnvVar("BTCTL_STORE_DIR", cfg.Store.Dir)
}

// GetEnvVar returns the environment value for key, or fallback when unset.
func GetEnvVar(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvDuration parses the environment value for key as a Go duration,
// or returns fallback when unset or unparseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvInt parses the environment value for key as an integer, or
// returns fallback when unset or unparseable.
func GetEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool parses the environment value for key as a boolean, or
// returns fallback when unset or unparseable.
func GetEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
