// Package mdns announces the daemon on the local network via DNS-SD and
// finds other daemons doing the same. Advertisement is opt-in: it only
// reveals presence, a pairing code is still needed before any trust is
// established.
//
// The TXT record carries the protocol version, the instance name and
// the TLS certificate fingerprint, so an intending peer can pin the
// daemon's identity before connecting.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type daemons register under.
const ServiceType = "_devicelink._tcp"

// ProtocolVersion is advertised in the TXT record for compatibility checks.
const ProtocolVersion = "1"

// Config holds the advertisement parameters.
type Config struct {
	// Port is the advertised API port.
	Port int

	// Fingerprint is the TLS certificate fingerprint peers pin.
	// Omitted from the TXT record when empty.
	Fingerprint string

	// Name is the instance name shown to peers. Defaults to the hostname.
	Name string
}

// Advertiser registers the daemon with DNS-SD for the lifetime between
// Start and Stop. Safe for concurrent use.
type Advertiser struct {
	cfg Config

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{cfg: cfg}
}

// Start registers the service. Calling Start on a running advertiser is
// a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(name, ServiceType, "local.", a.cfg.Port, a.txtRecords(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) instanceName() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "devicelink"
}

// txtRecords builds the TXT metadata. A full SHA-256 fingerprint is 95
// bytes and fits a single 255-byte TXT string.
func (a *Advertiser) txtRecords(name string) []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
	}
	if a.cfg.Fingerprint != "" {
		records = append(records, "fp="+a.cfg.Fingerprint)
	}
	return records
}

// Daemon is another devicelink instance seen on the network.
type Daemon struct {
	// Name is the instance name from the TXT record, falling back to
	// the DNS-SD instance label.
	Name string

	// Host is the daemon's address, IPv4 preferred.
	Host string

	// Port is the advertised API port.
	Port int

	// Fingerprint is the daemon's certificate fingerprint, if advertised.
	Fingerprint string

	// Version is the advertised protocol version.
	Version string
}

// Discover browses for daemons until ctx expires and returns everything
// seen. An empty result is not an error; mDNS is best effort.
func Discover(ctx context.Context) ([]Daemon, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// The resolver closes entries once ctx is done.
	var daemons []Daemon
	for entry := range entries {
		daemons = append(daemons, daemonFromEntry(entry))
	}
	return daemons, nil
}

func daemonFromEntry(entry *zeroconf.ServiceEntry) Daemon {
	d := Daemon{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		d.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		d.Host = entry.AddrIPv6[0].String()
	}
	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			d.Name = value
		case "fp":
			d.Fingerprint = value
		case "version":
			d.Version = value
		}
	}
	return d
}
