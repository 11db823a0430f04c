package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
)

// statusResult mirrors the daemon's /status payload.
type statusResult struct {
	ListeningAddress string `json:"listening_address"`
	EventWatchers    int    `json:"event_watchers"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	TLSEnabled       bool   `json:"tls_enabled"`
	RequireAuth      bool   `json:"require_auth"`
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "127.0.0.1:7389", "Daemon address to query")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink status [options]\n\nShow the current status of the daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	var status statusResult
	if err := daemonRequest(http.MethodGet, *addr, "/status", "", http.StatusOK, &status); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "\nThe daemon does not appear to be running. Start it with: devicelink serve")
		return 1
	}

	fmt.Fprintf(stdout, "Daemon Status\n")
	fmt.Fprintf(stdout, "=============\n")
	fmt.Fprintf(stdout, "Listening: %s\n", status.ListeningAddress)
	fmt.Fprintf(stdout, "TLS:       %v\n", status.TLSEnabled)
	fmt.Fprintf(stdout, "Auth:      %v\n", status.RequireAuth)
	fmt.Fprintf(stdout, "Watchers:  %d connected\n", status.EventWatchers)
	fmt.Fprintf(stdout, "Uptime:    %s\n", formatUptime(status.UptimeSeconds))

	return 0
}

// formatUptime renders seconds as "2h 31m 5s".
func formatUptime(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
