package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/devicelink/devicelink/internal/pairing"
	linkTLS "github.com/devicelink/devicelink/internal/tls"
)

// IssueConfig holds configuration for the issue command.
type IssueConfig struct {
	Device  string
	Format  string
	TTL     time.Duration
	Addr    string
	Token   string
	TLSCert string
	NoTLS   bool
	QR      bool
}

// issueResult is the daemon's answer to a code request.
type issueResult struct {
	PairingCode string    `json:"pairingCode"`
	Format      string    `json:"format"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ExpiresIn   int       `json:"expiresIn"`
}

func runIssue(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &IssueConfig{}
	fs.StringVar(&cfg.Device, "device", "", "Device ID the code is issued on behalf of (required)")
	fs.StringVar(&cfg.Format, "format", "", "Code format: uuid, short or legacy (default: uuid)")
	fs.DurationVar(&cfg.TTL, "ttl", 0, "Code lifetime, e.g. 5m (default: 10m)")
	fs.StringVar(&cfg.Addr, "addr", "", "Daemon address to display for peers (default: LAN IP:7389)")
	fs.StringVar(&cfg.Token, "token", "", "Bearer token when the daemon requires authentication")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "Path to daemon TLS certificate for verification (default: ~/.devicelink/certs/devicelink.crt)")
	fs.BoolVar(&cfg.NoTLS, "no-tls", false, "Use HTTP instead of HTTPS (insecure, for development only)")
	fs.BoolVar(&cfg.QR, "qr", false, "Display pairing information as QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devicelink issue [options]\n\nIssue a single-use pairing code from the running daemon.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe code can only be redeemed once. A peer device submits it at the\ndaemon's /pair endpoint to establish trust with the issuing device.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if cfg.Device == "" {
		fmt.Fprintln(stderr, "Error: --device is required")
		fs.Usage()
		return 1
	}

	// Display address for QR reachability from peers. Connection
	// address is always localhost; the daemon is local.
	displayAddr := cfg.Addr
	if displayAddr == "" {
		if ip := preferredOutboundIP(); ip != "" {
			displayAddr = ip + ":7389"
		} else {
			fmt.Fprintf(stderr, "Warning: could not detect network IP, using localhost\n")
			displayAddr = "127.0.0.1:7389"
		}
	}

	if cfg.TLSCert == "" && !cfg.NoTLS {
		certPath, err := linkTLS.DefaultCertPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to resolve certificate path: %v\n", err)
			return 1
		}
		cfg.TLSCert = certPath
	}

	result, fingerprint, err := requestPairingCode(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nThe daemon must be running to issue a pairing code.\n")
		fmt.Fprintf(stderr, "Start it with: devicelink serve\n")
		return 1
	}

	if cfg.QR {
		displayQRCode(stdout, result, displayAddr, fingerprint)
	} else {
		displayPairingCode(stdout, result, displayAddr)
	}
	return 0
}

// requestPairingCode asks the local daemon for a fresh code. It uses
// HTTPS by default and verifies the daemon certificate. Returns the
// issued code and the certificate fingerprint (empty without TLS).
func requestPairingCode(cfg *IssueConfig, stderr io.Writer) (*issueResult, string, error) {
	const localAddr = "127.0.0.1:7389"

	var reqURL string
	var client *http.Client
	fingerprint := ""

	if cfg.NoTLS {
		reqURL = fmt.Sprintf("http://%s/pairing-code", localAddr)
		client = &http.Client{Timeout: 5 * time.Second}
	} else {
		reqURL = fmt.Sprintf("https://%s/pairing-code", localAddr)

		tlsConfig, fp, err := loadDaemonCertificate(cfg.TLSCert)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load daemon certificate: %w", err)
		}
		fingerprint = fp

		client = &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
	}

	body := struct {
		DeviceID  string `json:"deviceId"`
		Format    string `json:"format,omitempty"`
		ExpiresIn int    `json:"expiresIn,omitempty"`
	}{
		DeviceID:  cfg.Device,
		Format:    cfg.Format,
		ExpiresIn: int(cfg.TTL.Seconds()),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequest(http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("could not connect to daemon at %s: %w", localAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, "", fmt.Errorf("daemon requires authentication (pass --token)")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retry := resp.Header.Get("Retry-After")
		if retry != "" {
			return nil, "", fmt.Errorf("issuance quota exceeded for device %s, retry in %ss", cfg.Device, retry)
		}
		return nil, "", fmt.Errorf("issuance quota exceeded for device %s", cfg.Device)
	}
	if resp.StatusCode != http.StatusCreated {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return nil, "", fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, errResp.Message)
		}
		return nil, "", fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var result issueResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", err
	}
	return &result, fingerprint, nil
}

// loadDaemonCertificate loads the daemon's TLS certificate and creates
// a TLS config that trusts only that certificate.
func loadDaemonCertificate(certPath string) (*tls.Config, string, error) {
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("certificate not found at %s (is the daemon running with TLS?)", certPath)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certPEM) {
		return nil, "", fmt.Errorf("failed to parse certificate from %s", certPath)
	}

	fingerprint, err := linkTLS.FingerprintFromPEM(certPEM)
	if err != nil {
		return nil, "", fmt.Errorf("failed to compute fingerprint: %w", err)
	}

	tlsConfig := &tls.Config{
		RootCAs:    certPool,
		MinVersion: tls.VersionTLS12,
	}
	return tlsConfig, fingerprint, nil
}

// displayPairingCode shows the pairing code to the user.
func displayPairingCode(w io.Writer, result *issueResult, addr string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "    %s\n", formatCodeForDisplay(result.PairingCode, result.Format))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Format:  %s\n", result.Format)
	fmt.Fprintf(w, "  Expires: %s\n", result.ExpiresAt.Local().Format("15:04:05"))
	fmt.Fprintf(w, "  Daemon:  %s\n", addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code on the peer device to pair.")
	fmt.Fprintln(w, "  The code can only be used once.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// displayQRCode shows pairing information as a QR code with plain-text
// fallback. The payload uses a URL scheme peers can parse:
// devicelink://pair?host=<addr>&code=<code>&fp=<fingerprint>
func displayQRCode(w io.Writer, result *issueResult, addr, fingerprint string) {
	payload := buildPairPayload(addr, result.PairingCode, fingerprint)

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		displayPairingCode(w, result, addr)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// Half-block rendering keeps the code small enough for a terminal.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code:        %s\n", formatCodeForDisplay(result.PairingCode, result.Format))
	fmt.Fprintf(w, "  Daemon:      %s\n", addr)
	fmt.Fprintf(w, "  Fingerprint: %s\n", fingerprint)
	fmt.Fprintf(w, "  Expires:     %s\n", result.ExpiresAt.Local().Format("15:04:05"))
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// buildPairPayload assembles the QR payload URL.
func buildPairPayload(addr, code, fingerprint string) string {
	return fmt.Sprintf("devicelink://pair?host=%s&code=%s&fp=%s",
		url.QueryEscape(addr),
		url.QueryEscape(code),
		url.QueryEscape(fingerprint))
}

// formatCodeForDisplay spaces out legacy numeric codes for readability.
// "482917" -> "4 8 2 9 1 7". Other formats are shown as-is.
func formatCodeForDisplay(code, format string) string {
	if format != string(pairing.FormatLegacy) {
		return code
	}
	result := ""
	for i, c := range code {
		if i > 0 {
			result += " "
		}
		result += string(c)
	}
	return result
}

// preferredOutboundIP returns the machine's preferred outbound IPv4
// address by asking the OS routing table which local address a UDP
// socket to a public IP would use. No packets are sent. Returns an
// empty string if detection fails.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
