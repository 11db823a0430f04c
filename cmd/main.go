package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `devicelink - device pairing and trust daemon

Usage:
  devicelink <command> [options]

Commands:
  serve         Start the daemon
  issue         Issue a pairing code from the running daemon
  status        Show daemon status
  discover      Find daemons on the local network via mDNS
  devices list  List registered devices
  trust list <device-id>         List devices trusted by a device
  trust revoke <src-id> <dst-id> Revoke a trust relationship

Run 'devicelink <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "issue":
		return runIssue(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: devicelink devices <list>")
			return 1
		}
		switch args[2] {
		case "list":
			return runDevicesList(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "trust":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: devicelink trust <list|revoke>")
			return 1
		}
		switch args[2] {
		case "list":
			return runTrustList(args[3:], stdout, stderr)
		case "revoke":
			return runTrustRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown trust command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "devicelink %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
