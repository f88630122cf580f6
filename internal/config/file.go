package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "solminer"
	configFile = "config.yaml"
)

// fileMutex serializes writes within the process.
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/solminer or $HOME/.config/solminer
//   - macOS: $HOME/.config/solminer
//   - Windows: %LOCALAPPDATA%\solminer
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Save writes the configuration as YAML to path, or to the default config
// path when path is empty. The write goes through a temporary file and a
// rename so a crash never leaves a truncated file behind.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	// Credentials may be stored here, keep the directory user-only
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# solminer configuration
#
# Every key can be overridden with a SOLMINER_ environment variable,
# e.g. SOLMINER_CONTROL_POLL_INTERVAL_SECONDS=15.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	c.Path = path
	return nil
}

// WriteDefault writes a starter configuration with one example device.
// An existing file is left alone unless overwrite is set.
func WriteDefault(path string, overwrite bool) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("config file %s already exists", path)
		}
	}

	cfg := Default()
	cfg.Devices = []DeviceConfig{{
		ID:          "miner-1",
		Host:        "192.168.1.40",
		SocketPort:  4028,
		RatedPowerW: 3500,
		Boards:      3,
		Credentials: []CredentialConfig{{Username: "root", Password: "root"}},
	}}
	cfg.applyDefaults()

	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
