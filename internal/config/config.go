// Package config provides configuration management for the console
// client. It handles loading and parsing the YAML configuration file
// and applies defaults for every omitted field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the client configuration, loaded from a YAML file.
type Config struct {
	// APIEndpoint is the HTTP API root of the backend.
	APIEndpoint string `yaml:"api-endpoint"`

	// SocketEndpoint is the websocket root; namespaces are appended,
	// e.g. {SocketEndpoint}/user.
	SocketEndpoint string `yaml:"socket-endpoint"`

	// RequestTimeoutMs bounds each HTTP round trip, in milliseconds.
	RequestTimeoutMs int `yaml:"request-timeout-ms"`

	// SocketConnectTimeoutMs bounds the dial-plus-handshake race, in
	// milliseconds.
	SocketConnectTimeoutMs int `yaml:"socket-connect-timeout-ms"`

	// SocketDisconnectTimeoutMs bounds the graceful close confirmation.
	// Defaults to SocketConnectTimeoutMs.
	SocketDisconnectTimeoutMs int `yaml:"socket-disconnect-timeout-ms"`

	// HealthCheckIntervalSeconds is the login-status poll interval.
	HealthCheckIntervalSeconds int `yaml:"health-check-interval-seconds"`

	// SettingsFile is where persisted client state (token, locale,
	// theme) lives.
	SettingsFile string `yaml:"settings-file"`

	// LoggingToFile enables rotated file logging in addition to stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogFile is the rotated log file path when LoggingToFile is set.
	LogFile string `yaml:"log-file"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug"`
}

// RequestTimeout returns the HTTP timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// SocketConnectTimeout returns the connect timeout as a duration.
func (c *Config) SocketConnectTimeout() time.Duration {
	return time.Duration(c.SocketConnectTimeoutMs) * time.Millisecond
}

// SocketDisconnectTimeout returns the disconnect timeout as a duration.
func (c *Config) SocketDisconnectTimeout() time.Duration {
	return time.Duration(c.SocketDisconnectTimeoutMs) * time.Millisecond
}

// HealthCheckInterval returns the poll interval as a duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		APIEndpoint:                "http://localhost:5000/api/v1",
		SocketEndpoint:             "ws://localhost:5000/socket",
		RequestTimeoutMs:           10000,
		SocketConnectTimeoutMs:     5000,
		SocketDisconnectTimeoutMs:  5000,
		HealthCheckIntervalSeconds: 30,
		SettingsFile:               filepath.Join(home, ".musicatri", "settings.json"),
		LogFile:                    filepath.Join(home, ".musicatri", "console.log"),
	}
}

// LoadConfig reads the YAML file at path and overlays it on the
// defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.SocketDisconnectTimeoutMs <= 0 {
		cfg.SocketDisconnectTimeoutMs = cfg.SocketConnectTimeoutMs
	}
	return cfg, nil
}
