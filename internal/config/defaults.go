package config

import (
	"os"
	"path/filepath"
)

// DefaultAddr is the default listen address for the HTTP API server.
const DefaultAddr = "127.0.0.1:7389"

// Fallback values applied when the config file omits a field.
const (
	DefaultLogLevel             = "info"
	DefaultCodeRetentionMinutes = 60
	DefaultGCIntervalMinutes    = 10
	DefaultAuditMaxRows         = 10000
)

// ApplyDefaults fills in zero-valued fields with their defaults. Paths
// under the home directory are left empty if the home directory cannot
// be determined; callers treat that as a hard error at startup.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CodeRetentionMinutes <= 0 {
		c.CodeRetentionMinutes = DefaultCodeRetentionMinutes
	}
	if c.GCIntervalMinutes <= 0 {
		c.GCIntervalMinutes = DefaultGCIntervalMinutes
	}
	if c.AuditMaxRows <= 0 {
		c.AuditMaxRows = DefaultAuditMaxRows
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if c.Database == "" {
		c.Database = filepath.Join(home, ".devicelink", "devicelink.db")
	}
	if c.TLSCert == "" {
		c.TLSCert = filepath.Join(home, ".devicelink", "certs", "devicelink.crt")
	}
	if c.TLSKey == "" {
		c.TLSKey = filepath.Join(home, ".devicelink", "certs", "devicelink.key")
	}
}
