package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "escalctl"
	defaultConfigFile    = "config.yaml"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "ESCALCTL_CONFIG"

func DefaultConfigPath() string {
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".escalctl", defaultConfigFile)
}
