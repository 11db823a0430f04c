// Package tls manages the daemon's self-signed identity certificate.
//
// The certificate secures the local HTTPS API. Its SHA-256 fingerprint
// doubles as the daemon's identity: peers pin it before pairing, via
// the QR payload or the mDNS TXT record.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertConfig controls certificate generation. The zero value produces a
// one-year localhost certificate under ~/.devicelink/certs.
type CertConfig struct {
	CertPath string
	KeyPath  string

	// Hosts are the DNS names and IP addresses the certificate covers.
	Hosts []string

	// ValidFor is the certificate lifetime.
	ValidFor time.Duration

	// Organization appears in the certificate subject.
	Organization string
}

// CertInfo describes the certificate the daemon is serving with.
type CertInfo struct {
	CertPath string
	KeyPath  string

	// Fingerprint is the SHA-256 digest of the DER certificate as
	// colon-separated uppercase hex pairs.
	Fingerprint string

	NotBefore time.Time
	NotAfter  time.Time

	// IsGenerated is true when the pair was created on this call
	// rather than loaded from disk.
	IsGenerated bool
}

// DefaultCertPath returns ~/.devicelink/certs/devicelink.crt.
func DefaultCertPath() (string, error) {
	return defaultCertFile("devicelink.crt")
}

// DefaultKeyPath returns ~/.devicelink/certs/devicelink.key.
func DefaultKeyPath() (string, error) {
	return defaultCertFile("devicelink.key")
}

func defaultCertFile(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".devicelink", "certs", name), nil
}

// EnsureCertificate loads the cert/key pair if both files exist and
// generates a fresh self-signed pair otherwise. A half-present pair
// (one file missing) is treated as absent and regenerated.
func EnsureCertificate(cfg CertConfig) (*CertInfo, error) {
	if cfg.CertPath == "" {
		p, err := DefaultCertPath()
		if err != nil {
			return nil, err
		}
		cfg.CertPath = p
	}
	if cfg.KeyPath == "" {
		p, err := DefaultKeyPath()
		if err != nil {
			return nil, err
		}
		cfg.KeyPath = p
	}

	if fileExists(cfg.CertPath) && fileExists(cfg.KeyPath) {
		info, err := loadPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		return info, nil
	}

	info, err := generatePair(cfg)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	return info, nil
}

// loadPair verifies an existing cert/key pair and reads its metadata.
func loadPair(certPath, keyPath string) (*CertInfo, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, err
	}
	return &CertInfo{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: Fingerprint(leaf),
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
	}, nil
}

// generatePair creates a self-signed ECDSA P-256 certificate and writes
// the pair to cfg's paths. The key file is written 0600.
func generatePair(cfg CertConfig) (*CertInfo, error) {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}
	org := cfg.Organization
	if org == "" {
		org = "devicelink"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{org},
			CommonName:   "devicelink daemon",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CertPath), 0700); err != nil {
		return nil, err
	}
	if err := writePEM(cfg.CertPath, 0644, "CERTIFICATE", der); err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := writePEM(cfg.KeyPath, 0600, "PRIVATE KEY", keyDER); err != nil {
		return nil, err
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CertInfo{
		CertPath:    cfg.CertPath,
		KeyPath:     cfg.KeyPath,
		Fingerprint: Fingerprint(leaf),
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
		IsGenerated: true,
	}, nil
}

// writePEM writes a single PEM block to path with the given mode,
// truncating any existing file.
func writePEM(path string, mode os.FileMode, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Fingerprint returns the SHA-256 digest of the certificate as
// colon-separated uppercase hex pairs, e.g. "AB:12:...". The same
// rendering is used in the QR payload, the mDNS TXT record and the
// serve banner, so peers can compare byte for byte.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// FingerprintFromPEM computes the fingerprint of the first certificate
// in a PEM bundle.
func FingerprintFromPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse certificate: %w", err)
	}
	return Fingerprint(cert), nil
}

// fileExists reports whether path is an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
