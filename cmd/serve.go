package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/devicelink/devicelink/internal/audit"
	"github.com/devicelink/devicelink/internal/config"
	"github.com/devicelink/devicelink/internal/device"
	"github.com/devicelink/devicelink/internal/mdns"
	"github.com/devicelink/devicelink/internal/pairing"
	"github.com/devicelink/devicelink/internal/rate"
	"github.com/devicelink/devicelink/internal/server"
	"github.com/devicelink/devicelink/internal/storage"
	linkTLS "github.com/devicelink/devicelink/internal/tls"
	"github.com/devicelink/devicelink/internal/trust"
)

// ServeConfig holds the configuration for the serve command.
type ServeConfig struct {
	Config      string
	Addr        string
	Database    string
	TLSCert     string
	TLSKey      string
	NoTLS       bool
	LogLevel    string
	RequireAuth bool
	MdnsEnabled bool
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ServeConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.devicelink/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Address for the HTTP API server (default: 127.0.0.1:7389)")
	fs.StringVar(&cfg.Database, "database", "", "Path to the SQLite database (default: ~/.devicelink/devicelink.db)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "Path to TLS certificate file (default: ~/.devicelink/certs/devicelink.crt)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "Path to TLS key file (default: ~/.devicelink/certs/devicelink.key)")
	fs.BoolVar(&cfg.NoTLS, "no-tls", false, "Disable TLS (insecure, for development only)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	fs.BoolVar(&cfg.RequireAuth, "require-auth", false, "Require bearer-token authentication on the API")
	fs.BoolVar(&cfg.MdnsEnabled, "mdns", false, "Enable mDNS/Bonjour discovery (LAN-visible)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line.
	// This allows boolean flags to override config file values in
	// either direction.
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	// Load config file and merge with CLI flags.
	// CLI flags take precedence over file values.
	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Addr == "" {
		cfg.Addr = fileCfg.Addr
	}
	if cfg.Database == "" {
		cfg.Database = fileCfg.Database
	}
	if cfg.TLSCert == "" {
		cfg.TLSCert = fileCfg.TLSCert
	}
	if cfg.TLSKey == "" {
		cfg.TLSKey = fileCfg.TLSKey
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if !explicitFlags["require-auth"] {
		cfg.RequireAuth = fileCfg.RequireAuth
	}
	if !explicitFlags["mdns"] {
		cfg.MdnsEnabled = fileCfg.MdnsEnabled
	}

	// Ensure the database directory exists before opening the store.
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
		return 1
	}

	store, err := storage.NewSQLiteStore(cfg.Database)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open storage: %v\n", err)
		return 1
	}
	store.SetCodeRetention(time.Duration(fileCfg.CodeRetentionMinutes) * time.Minute)

	fmt.Fprintf(stdout, "Database: %s\n", cfg.Database)

	// The event hub is created up front so it can fan audit events out
	// to WebSocket watchers alongside the durable audit log.
	hub := server.NewEventHub()
	auditLog := storage.NewAuditSink(store, fileCfg.AuditMaxRows)
	sink := audit.MultiSink{auditLog, hub}

	guard := rate.NewGuard()

	devices := device.NewRegistry(device.RegistryConfig{Store: store, Audit: sink})
	issuer := pairing.NewIssuer(pairing.IssuerConfig{Store: store, Guard: guard, Audit: sink})
	registry := trust.NewRegistry(trust.RegistryConfig{Edges: store, Devices: devices, Guard: guard, Audit: sink})
	pairer := trust.NewPairer(trust.PairerConfig{
		Codes:    store,
		Registry: registry,
		Devices:  devices,
		Guard:    guard,
		Audit:    sink,
	})

	srv := server.New(server.Config{
		Addr:        cfg.Addr,
		Issuer:      issuer,
		Pairer:      pairer,
		Trust:       registry,
		Devices:     devices,
		Hub:         hub,
		RequireAuth: cfg.RequireAuth,
		TLSEnabled:  !cfg.NoTLS,
	})

	// Start the API server with or without TLS.
	// TLS is enabled by default; use --no-tls to disable (insecure).
	var errCh <-chan error
	var certInfo *linkTLS.CertInfo

	if cfg.NoTLS {
		fmt.Fprintln(stdout, "WARNING: TLS disabled (--no-tls). Connections are NOT encrypted.")
		errCh = srv.StartAsync()
	} else {
		tlsHosts := []string{"localhost", "127.0.0.1"}
		if listenHost, _, err := net.SplitHostPort(cfg.Addr); err == nil && listenHost != "" {
			found := false
			for _, h := range tlsHosts {
				if h == listenHost {
					found = true
					break
				}
			}
			if !found {
				tlsHosts = append(tlsHosts, listenHost)
			}
		}

		certInfo, err = linkTLS.EnsureCertificate(linkTLS.CertConfig{
			CertPath: cfg.TLSCert,
			KeyPath:  cfg.TLSKey,
			Hosts:    tlsHosts,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to setup TLS certificate: %v\n", err)
			store.Close()
			return 1
		}

		if certInfo.IsGenerated {
			fmt.Fprintln(stdout, "Generated new self-signed TLS certificate")
		} else {
			fmt.Fprintln(stdout, "Loaded existing TLS certificate")
		}
		fmt.Fprintf(stdout, "Certificate: %s\n", certInfo.CertPath)
		fmt.Fprintf(stdout, "Fingerprint (SHA-256):\n  %s\n", certInfo.Fingerprint)

		errCh = srv.StartAsyncTLS(server.TLSConfig{
			CertPath: certInfo.CertPath,
			KeyPath:  certInfo.KeyPath,
		})
	}

	// Wait for startup to complete.
	// This fails fast if the port is already in use or can't be bound.
	if err := <-errCh; err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		store.Close()
		return 1
	}

	scheme := "https"
	if cfg.NoTLS {
		scheme = "http"
	}
	fmt.Fprintf(stdout, "Listening on %s://%s\n", scheme, cfg.Addr)
	if cfg.RequireAuth {
		fmt.Fprintln(stdout, "Authentication: ENABLED (register devices to obtain tokens)")
	} else {
		fmt.Fprintln(stdout, "Authentication: DISABLED (use --require-auth to enable)")
	}

	// Start the mDNS advertiser if enabled.
	// mDNS only reveals presence; pairing codes are still required
	// before any trust is established.
	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		_, portStr, _ := net.SplitHostPort(cfg.Addr)
		port := 7389
		if portStr != "" {
			if p, err := strconv.Atoi(portStr); err == nil && p > 0 {
				port = p
			}
		}

		fingerprint := ""
		if certInfo != nil {
			fingerprint = certInfo.Fingerprint
		}

		advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:        port,
			Fingerprint: fingerprint,
		})
		if err := advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	// Periodically purge expired pairing codes past their retention
	// window. Code expiry itself is lazy; this only reclaims rows.
	gcInterval := time.Duration(fileCfg.GCIntervalMinutes) * time.Minute
	gcDone := make(chan struct{})
	go runCodeGC(store, gcInterval, gcDone)

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	close(gcDone)
	if advertiser != nil {
		advertiser.Stop()
	}
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(stderr, "Warning: server shutdown: %v\n", err)
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(stderr, "Warning: failed to close storage: %v\n", err)
	}

	return 0
}

// runCodeGC purges expired pairing codes on a fixed interval until
// done is closed.
func runCodeGC(store *storage.SQLiteStore, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = time.Duration(config.DefaultGCIntervalMinutes) * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			purged, err := store.GarbageCollectCodes(now)
			if err != nil {
				log.Printf("serve: code GC failed: %v", err)
				continue
			}
			if purged > 0 {
				log.Printf("serve: purged %d expired pairing codes", purged)
			}
		}
	}
}
