package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const appDirName = "proxyjudge"

// DefaultConfigPath is the path used when no flag is given and no user config
// exists.
const DefaultConfigPath = "config/default.yaml"

// GetUserConfigPath returns the path to the user's config file
// following the XDG base directory layout
func GetUserConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appDirName, "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigPath
	}

	return filepath.Join(homeDir, ".config", appDirName, "config.yaml")
}

// GetUserConfigDir returns the user's config directory
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

const userConfigHeader = `# ProxyJudge configuration
# Auto-generated default configuration.
#
# Precedence:
#   1. Command-line flags
#   2. Environment variables (PROXYJUDGE_*, also read from .env)
#   3. This file
#   4. Built-in defaults

`

// InitializeUserConfig creates the user config directory and file if they
// don't exist and returns the path to the config file.
func InitializeUserConfig() (string, error) {
	configPath := GetUserConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return "", fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(configPath, append([]byte(userConfigHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// GetConfigPath determines the config file path to use.
// Priority: CLI flag, then user config, then DefaultConfigPath. The bool
// reports whether a user config could be initialized.
func GetConfigPath(cliPath string) (string, bool) {
	if cliPath != "" && cliPath != DefaultConfigPath {
		return cliPath, false
	}

	userConfig := GetUserConfigPath()
	if _, err := os.Stat(userConfig); err == nil {
		return userConfig, false
	}

	return DefaultConfigPath, true
}
