// Package config provides TOML configuration file loading and parsing for the
// daemon. The configuration file lives at ~/.devicelink/config.toml by default,
// but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the HTTP API server.
	// Default: 127.0.0.1:7389
	Addr string `toml:"addr"`

	// Database is the path to the SQLite database holding pairing codes,
	// trust edges, devices and the audit log.
	// Default: ~/.devicelink/devicelink.db
	Database string `toml:"database"`

	// TLSCert is the path to the TLS certificate file.
	// Default: ~/.devicelink/certs/devicelink.crt (auto-generated if missing)
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file.
	// Default: ~/.devicelink/certs/devicelink.key (auto-generated if missing)
	TLSKey string `toml:"tls_key"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// CodeRetentionMinutes is how long expired pairing codes are kept
	// before garbage collection removes them.
	// Default: 60
	CodeRetentionMinutes int `toml:"code_retention_minutes"`

	// GCIntervalMinutes is how often the garbage collector runs.
	// Default: 10
	GCIntervalMinutes int `toml:"gc_interval_minutes"`

	// AuditMaxRows bounds the persisted audit log. Oldest entries are
	// pruned first. Default: 10000
	AuditMaxRows int `toml:"audit_max_rows"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// When true, the daemon advertises itself on the local network,
	// allowing other devices to discover it without manual IP entry.
	// Discovery only reveals presence; pairing codes are still required.
	// Default: false (disabled for security - must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// RequireAuth enables device-token authentication for API requests.
	// Default: false
	RequireAuth bool `toml:"require_auth"`
}

// Validate checks field values that cannot be fixed up by defaults.
// Zero values mean "use default" and are always valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.CodeRetentionMinutes < 0 {
		return fmt.Errorf("code_retention_minutes must be >= 0, got %d", c.CodeRetentionMinutes)
	}
	if c.GCIntervalMinutes < 0 {
		return fmt.Errorf("gc_interval_minutes must be >= 0, got %d", c.GCIntervalMinutes)
	}
	if c.AuditMaxRows < 0 {
		return fmt.Errorf("audit_max_rows must be >= 0, got %d", c.AuditMaxRows)
	}
	return nil
}

// DefaultConfigPath returns the default config file location: ~/.devicelink/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".devicelink", "config.toml"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Build minimal TOML config with LAN-ready defaults
	content := `# devicelink configuration
# Created by 'devicelink serve' with LAN-ready defaults

# Listen on all interfaces for LAN access
addr = "0.0.0.0:7389"

# Require device-token authentication
require_auth = true
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.devicelink/config.toml). Returns a default Config without error
//     if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the daemon to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			cfg.ApplyDefaults()
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			cfg.ApplyDefaults()
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
