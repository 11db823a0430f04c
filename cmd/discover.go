package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/devicelink/devicelink/internal/mdns"
)

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse the network")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink discover [options]\n\nFind devicelink daemons on the local network via mDNS.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	fmt.Fprintf(stdout, "Browsing for daemons (%s)...\n", *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	daemons, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: discovery failed: %v\n", err)
		return 1
	}

	printDaemons(stdout, daemons)
	return 0
}

func printDaemons(stdout io.Writer, daemons []mdns.Daemon) {
	if len(daemons) == 0 {
		fmt.Fprintln(stdout, "No daemons found. Daemons advertise only when started with --mdns.")
		return
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tVERSION\tFINGERPRINT")
	fmt.Fprintln(w, "----\t-------\t-------\t-----------")
	for _, d := range daemons {
		fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\n",
			d.Name,
			d.Host, d.Port,
			d.Version,
			shortFingerprint(d.Fingerprint),
		)
	}
	w.Flush()
}

// shortFingerprint truncates a full fingerprint for column display.
// The full value is still compared during pairing.
func shortFingerprint(fp string) string {
	if len(fp) <= 23 {
		return fp
	}
	return fp[:23] + "..."
}
