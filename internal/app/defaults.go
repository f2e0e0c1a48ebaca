package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CR_CONFIG_PATH: config file location (default: ~/.config/cr.toml)
//   - CR_HOME: base directory for repository data (default: ~/.local/share/cr)
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome("CR_CONFIG_PATH", ".config", "cr.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome("CR_HOME", ".local", "share", "cr")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
