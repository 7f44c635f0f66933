package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/rhuss/turnstile/pkg/debug"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TURNSTILE_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, TURNSTILE_CONFIG env, ./config.yaml, /etc/turnstile/config.yaml)
//  3. Environment variable overrides (TURNSTILE_SERVER_PORT, TURNSTILE_SESSION_STORE, ...)
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "config file loaded", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. TURNSTILE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/turnstile/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("TURNSTILE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/turnstile/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected so that typos do not go unnoticed.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides sets the scalar settings tagged with env from
// TURNSTILE_* variables. Unset variables keep the current value.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg, env.Options{Prefix: EnvPrefix})
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// session.postgres.dsn_file -> session.postgres.dsn
	if cfg.Session.Postgres.DSNFile != "" && cfg.Session.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Session.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("session.postgres.dsn_file: %w", err)
		}
		cfg.Session.Postgres.DSN = val
	}

	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]

		// strategies[*].api_keys[*].key_file -> key
		for j := range s.APIKeys {
			if s.APIKeys[j].KeyFile != "" && s.APIKeys[j].Key == "" {
				val, err := readSecretFile(s.APIKeys[j].KeyFile)
				if err != nil {
					return fmt.Errorf("strategies[%d].api_keys[%d].key_file: %w", i, j, err)
				}
				s.APIKeys[j].Key = val
			}
		}

		// strategies[*].users[*].password_file -> password
		for j := range s.Users {
			if s.Users[j].PasswordFile != "" && s.Users[j].Password == "" {
				val, err := readSecretFile(s.Users[j].PasswordFile)
				if err != nil {
					return fmt.Errorf("strategies[%d].users[%d].password_file: %w", i, j, err)
				}
				s.Users[j].Password = val
			}
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
