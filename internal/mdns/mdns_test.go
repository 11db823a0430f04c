package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

// TestTXTRecords verifies the advertised metadata, including the
// fingerprint being omitted when unset.
func TestTXTRecords(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7389, Fingerprint: "AA:BB:CC"})
	records := a.txtRecords("living-room-pi")

	want := []string{"version=1", "name=living-room-pi", "fp=AA:BB:CC"}
	if len(records) != len(want) {
		t.Fatalf("txtRecords = %v, want %v", records, want)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("txtRecords[%d] = %q, want %q", i, records[i], want[i])
		}
	}

	bare := NewAdvertiser(Config{Port: 7389})
	for _, rec := range bare.txtRecords("x") {
		if rec == "fp=" {
			t.Error("empty fingerprint included in TXT records")
		}
	}
}

func TestInstanceNameDefaultsToHostname(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7389})
	if name := a.instanceName(); name == "" {
		t.Error("instance name is empty")
	}

	named := NewAdvertiser(Config{Port: 7389, Name: "kitchen"})
	if name := named.instanceName(); name != "kitchen" {
		t.Errorf("instance name = %q, want kitchen", name)
	}
}

// TestDaemonFromEntry verifies TXT parsing, the name override and the
// IPv4-first address preference.
func TestDaemonFromEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "raw-instance"},
		Port:          7390,
		Text:          []string{"version=1", "name=den-pi", "fp=AA:BB:CC:DD", "garbage"},
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.20")},
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
	}

	d := daemonFromEntry(entry)
	if d.Name != "den-pi" {
		t.Errorf("name = %q, want den-pi (TXT overrides instance)", d.Name)
	}
	if d.Host != "192.168.1.20" {
		t.Errorf("host = %q, want the IPv4 address", d.Host)
	}
	if d.Port != 7390 {
		t.Errorf("port = %d, want 7390", d.Port)
	}
	if d.Fingerprint != "AA:BB:CC:DD" {
		t.Errorf("fingerprint = %q, want AA:BB:CC:DD", d.Fingerprint)
	}
	if d.Version != "1" {
		t.Errorf("version = %q, want 1", d.Version)
	}
}

func TestDaemonFromEntryIPv6Fallback(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "v6-only"},
		Port:          7389,
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
	}

	d := daemonFromEntry(entry)
	if d.Host != "fe80::1" {
		t.Errorf("host = %q, want the IPv6 address", d.Host)
	}
	if d.Name != "v6-only" {
		t.Errorf("name = %q, want the instance label", d.Name)
	}
}

func TestStopBeforeStart(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7389})
	a.Stop()
	a.Stop()
}

// TestStartStop registers a real service; needs multicast networking.
func TestStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	a := NewAdvertiser(Config{
		Port:        7389,
		Fingerprint: "AA:BB:CC:DD:EE:FF",
		Name:        "mdns-test-daemon",
	})
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Second Start is a no-op on a running advertiser.
	if err := a.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	a.Stop()
}
