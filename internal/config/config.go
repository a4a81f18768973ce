// Package config loads the BotNexa CLI configuration from a JSON5 file
// and applies environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Config holds everything the CLI needs to reach the backend.
type Config struct {
	APIURL    string `json:"apiUrl"`
	SocketURL string `json:"socketUrl"`
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	LogLevel  string `json:"logLevel"`
	// PairTimeout bounds a pairing attempt locally, e.g. "90s". Empty means
	// the session default.
	PairTimeout string `json:"pairTimeout,omitempty"`
}

// Default returns the baseline config for a local backend.
func Default() *Config {
	return &Config{
		APIURL:    "http://localhost:3000/api",
		SocketURL: "http://localhost:3000",
		LogLevel:  "info",
	}
}

// DefaultPath is the conventional config location, ~/.botnexa/config.json5.
func DefaultPath() string {
	return ExpandHome("~/.botnexa/config.json5")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Load reads the config file at path. A missing file is not an error:
// defaults plus environment overrides still apply, so a fully
// env-configured run needs no file at all.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides lets the environment win over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BOTNEXA_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("BOTNEXA_SOCKET_URL"); v != "" {
		c.SocketURL = v
	}
	if v := os.Getenv("BOTNEXA_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("BOTNEXA_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("BOTNEXA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate reports the settings that commands cannot run without.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("apiUrl is not set")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("socketUrl is not set")
	}
	if c.Token == "" {
		return fmt.Errorf("token is not set (set BOTNEXA_TOKEN or add it to the config file)")
	}
	if c.UserID == "" {
		return fmt.Errorf("userId is not set (set BOTNEXA_USER_ID or add it to the config file)")
	}
	return nil
}
