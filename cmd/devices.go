package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/devicelink/devicelink/internal/config"
	"github.com/devicelink/devicelink/internal/storage"
)

// DevicesConfig holds the configuration for device management commands.
type DevicesConfig struct {
	Database string
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func runDevicesList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &DevicesConfig{}
	fs.StringVar(&cfg.Database, "database", "", "Path to the SQLite database (default: ~/.devicelink/devicelink.db)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink devices list [options]\n\nList all registered devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	dbPath, code := resolveDatabasePath(cfg.Database, stderr)
	if code != 0 {
		return code
	}

	// No database file means nothing was ever registered.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No registered devices found.")
		return 0
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open storage: %v\n", err)
		return 1
	}
	defer store.Close()

	devices, err := store.ListDevices()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list devices: %v\n", err)
		return 1
	}

	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No registered devices found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tNAME\tCREATED\tLAST SEEN")
	fmt.Fprintln(w, "---------\t----\t-------\t---------")

	now := time.Now()
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.ID,
			d.Name,
			formatDuration(now.Sub(d.CreatedAt)),
			formatDuration(now.Sub(d.LastSeen)),
		)
	}
	w.Flush()

	return 0
}

// resolveDatabasePath applies the configured default when no explicit
// path was given. Returns a non-zero exit code on failure.
func resolveDatabasePath(path string, stderr io.Writer) (string, int) {
	if path != "" {
		return path, 0
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if cfg.Database == "" {
		fmt.Fprintln(stderr, "Error: could not determine home directory for the database path")
		return "", 1
	}
	return cfg.Database, 0
}
