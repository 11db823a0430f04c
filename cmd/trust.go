package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"
)

// TrustConfig holds the configuration for trust management commands.
type TrustConfig struct {
	Addr  string
	Token string
}

// trustListResult mirrors the daemon's trust listing payload.
type trustListResult struct {
	DeviceID string `json:"deviceId"`
	Trusted  []struct {
		ID             string    `json:"id"`
		TargetDeviceID string    `json:"targetDeviceId"`
		TrustLevel     int       `json:"trustLevel"`
		CreatedAt      time.Time `json:"createdAt"`
	} `json:"trusted"`
}

func runTrustList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trust list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &TrustConfig{}
	fs.StringVar(&cfg.Addr, "addr", "127.0.0.1:7389", "Daemon address to query")
	fs.StringVar(&cfg.Token, "token", "", "Bearer token when the daemon requires authentication")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink trust list [options] <device-id>\n\nList devices trusted by the given device.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: device-id is required")
		fs.Usage()
		return 1
	}
	deviceID := fs.Arg(0)

	var result trustListResult
	path := "/trust/" + url.PathEscape(deviceID)
	if err := daemonRequest(http.MethodGet, cfg.Addr, path, cfg.Token, http.StatusOK, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Trusted) == 0 {
		fmt.Fprintf(stdout, "Device %s trusts no devices.\n", deviceID)
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET DEVICE\tLEVEL\tESTABLISHED")
	fmt.Fprintln(w, "-------------\t-----\t-----------")

	now := time.Now()
	for _, edge := range result.Trusted {
		fmt.Fprintf(w, "%s\t%d\t%s\n",
			edge.TargetDeviceID,
			edge.TrustLevel,
			formatDuration(now.Sub(edge.CreatedAt)),
		)
	}
	w.Flush()

	return 0
}

func runTrustRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trust revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &TrustConfig{}
	fs.StringVar(&cfg.Addr, "addr", "127.0.0.1:7389", "Daemon address to notify")
	fs.StringVar(&cfg.Token, "token", "", "Bearer token when the daemon requires authentication")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink trust revoke [options] <src-device-id> <dst-device-id>\n\nRevoke the trust relationship from one device to another.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, "Error: src-device-id and dst-device-id are required")
		fs.Usage()
		return 1
	}
	srcID, dstID := fs.Arg(0), fs.Arg(1)

	var result struct {
		Success bool `json:"success"`
	}
	path := "/trust/" + url.PathEscape(srcID) + "/" + url.PathEscape(dstID)
	if err := daemonRequest(http.MethodDelete, cfg.Addr, path, cfg.Token, http.StatusOK, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Revoked trust: %s no longer trusts %s\n", srcID, dstID)
	fmt.Fprintln(stdout, "The reverse direction, if any, is unaffected.")
	return 0
}
