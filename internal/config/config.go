// Package config loads the interpreter's TOML configuration file: which
// LSP server to launch for a script's `connect` vmcall, its startup
// arguments, and the logging/runtime defaults that don't belong on the
// command line.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"
)

// ServerConfig is one named language server entry a script's `connect`
// vmcall can refer to by language ID.
type ServerConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	// Env holds extra "KEY=VALUE" pairs appended to the subprocess
	// environment, e.g. to pin a server's own log level.
	Env []string `toml:"env"`
}

// Config is the top-level decoded document.
type Config struct {
	LogLevel string                   `toml:"log-level"`
	Servers  map[string]ServerConfig  `toml:"servers"`
	Timeouts TimeoutConfig            `toml:"timeouts"`
}

// TimeoutConfig holds the connect and per-request timeouts. The event loop
// applies Connect() to subprocess startup; Request() is not applied by any
// JSON-RPC call in this repository.
type TimeoutConfig struct {
	ConnectMillis    int `toml:"connect-millis"`
	RequestMillis    int `toml:"request-millis"`
}

// Connect returns the configured connect timeout, defaulting to 5s.
func (t TimeoutConfig) Connect() time.Duration {
	if t.ConnectMillis <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.ConnectMillis) * time.Millisecond
}

// Request returns the configured per-request timeout, defaulting to 30s.
func (t TimeoutConfig) Request() time.Duration {
	if t.RequestMillis <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.RequestMillis) * time.Millisecond
}

// Default is used when no config file is present.
func Default() *Config {
	return &Config{LogLevel: "info", Servers: map[string]ServerConfig{}}
}

// Load decodes a TOML config file at path. A missing file is not an error;
// Default() is returned instead, matching the teacher's "config is optional"
// convention for locally run tools.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
