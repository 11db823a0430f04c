package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devicelink/devicelink/internal/audit"
	"github.com/devicelink/devicelink/internal/device"
	hosterrors "github.com/devicelink/devicelink/internal/errors"
	"github.com/devicelink/devicelink/internal/pairing"
	"github.com/devicelink/devicelink/internal/rate"
	"github.com/devicelink/devicelink/internal/trust"
)

// fixture wires a full server against in-memory stores.
type fixture struct {
	server  *Server
	ts      *httptest.Server
	devices *device.Registry
	sink    *audit.MemorySink
}

func newFixture(t *testing.T, requireAuth bool) *fixture {
	t.Helper()

	codes := pairing.NewMemoryStore()
	edges := trust.NewMemoryStore()
	deviceStore := device.NewMemoryStore()
	sink := audit.NewMemorySink()
	guard := rate.NewGuard()

	devices := device.NewRegistry(device.RegistryConfig{Store: deviceStore, Audit: sink})
	issuer := pairing.NewIssuer(pairing.IssuerConfig{Store: codes, Guard: guard, Audit: sink})
	registry := trust.NewRegistry(trust.RegistryConfig{Edges: edges, Devices: devices, Guard: guard, Audit: sink})
	pairer := trust.NewPairer(trust.PairerConfig{
		Codes:    codes,
		Registry: registry,
		Devices:  devices,
		Guard:    guard,
		Audit:    sink,
	})

	srv := New(Config{
		Addr:        "127.0.0.1:0",
		Issuer:      issuer,
		Pairer:      pairer,
		Trust:       registry,
		Devices:     devices,
		RequireAuth: requireAuth,
	})

	go srv.hub.Run()

	ts := httptest.NewServer(srv.createMux())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})

	return &fixture{server: srv, ts: ts, devices: devices, sink: sink}
}

func (f *fixture) postJSON(t *testing.T, path string, body, out any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", path, err)
		}
	}
	return resp
}

func (f *fixture) registerDevice(t *testing.T, name string) string {
	t.Helper()
	var resp RegisterDeviceResponse
	httpResp := f.postJSON(t, "/devices", RegisterDeviceRequest{Name: name}, &resp)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("register device status = %d, want 201", httpResp.StatusCode)
	}
	return resp.DeviceID
}

func (f *fixture) issueCode(t *testing.T, deviceID, format string) IssueCodeResponse {
	t.Helper()
	var resp IssueCodeResponse
	httpResp := f.postJSON(t, "/pairing-code", IssueCodeRequest{DeviceID: deviceID, Format: format}, &resp)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("issue code status = %d, want 201", httpResp.StatusCode)
	}
	return resp
}

func TestIssueCode(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")

	resp := f.issueCode(t, deviceA, "")

	if resp.PairingCode == "" {
		t.Error("pairingCode is empty")
	}
	if resp.Format != string(pairing.FormatUUID) {
		t.Errorf("format = %q, want uuid", resp.Format)
	}
	if resp.ExpiresIn != int(pairing.DefaultTTL.Seconds()) {
		t.Errorf("expiresIn = %d, want %d", resp.ExpiresIn, int(pairing.DefaultTTL.Seconds()))
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("expiresAt = %v, not in the future", resp.ExpiresAt)
	}
}

func TestIssueCodeRequiresDeviceID(t *testing.T) {
	f := newFixture(t, false)

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pairing-code", IssueCodeRequest{}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if errResp.ErrorCode == "" {
		t.Error("errorCode is empty")
	}
}

func TestIssueCodeRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t, false)

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pairing-code", IssueCodeRequest{DeviceID: "device-a", Format: "morse"}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodePairingUnknownFormat {
		t.Errorf("errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodePairingUnknownFormat)
	}
}

func TestIssueCodeRateLimited(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")

	for i := 0; i < 3; i++ {
		f.issueCode(t, deviceA, "short")
	}

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pairing-code", IssueCodeRequest{DeviceID: deviceA}, &errResp)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestPair(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")
	deviceB := f.registerDevice(t, "Device B")

	code := f.issueCode(t, deviceA, "legacy")

	var resp PairResponse
	httpResp := f.postJSON(t, "/pair", PairRequest{DeviceID: deviceB, PairingCode: code.PairingCode}, &resp)
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("pair status = %d, want 200", httpResp.StatusCode)
	}

	if resp.TrustRelationship.TrustLevel != trust.LevelPaired {
		t.Errorf("trustLevel = %d, want %d", resp.TrustRelationship.TrustLevel, trust.LevelPaired)
	}
	if resp.TrustRelationship.ID == "" {
		t.Error("trust relationship ID is empty")
	}
	if resp.PairedDevice.DeviceID != deviceA {
		t.Errorf("pairedDevice = %q, want %q", resp.PairedDevice.DeviceID, deviceA)
	}
	if resp.PairingCodeFormat != string(pairing.FormatLegacy) {
		t.Errorf("pairingCodeFormat = %q, want legacy", resp.PairingCodeFormat)
	}
}

func TestPairWithEncryptedTrustData(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")
	deviceB := f.registerDevice(t, "Device B")

	code := f.issueCode(t, deviceA, "")

	var resp PairResponse
	httpResp := f.postJSON(t, "/pair", PairRequest{
		DeviceID:           deviceB,
		PairingCode:        code.PairingCode,
		EncryptedTrustData: json.RawMessage(`{"alg":"X25519","blob":"b64=="}`),
	}, &resp)
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("pair status = %d, want 200", httpResp.StatusCode)
	}
	if resp.TrustRelationship.ID == "" {
		t.Error("trust relationship ID is empty")
	}
}

func TestPairUnknownCode(t *testing.T) {
	f := newFixture(t, false)
	deviceB := f.registerDevice(t, "Device B")

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pair", PairRequest{DeviceID: deviceB, PairingCode: "999999"}, &errResp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodePairingNotFound {
		t.Errorf("errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodePairingNotFound)
	}
}

func TestPairMalformedCode(t *testing.T) {
	f := newFixture(t, false)
	deviceB := f.registerDevice(t, "Device B")

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pair", PairRequest{DeviceID: deviceB, PairingCode: "not-a-code"}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodePairingUnknownFormat {
		t.Errorf("errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodePairingUnknownFormat)
	}
}

func TestPairUsedCode(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")
	deviceB := f.registerDevice(t, "Device B")
	deviceC := f.registerDevice(t, "Device C")

	code := f.issueCode(t, deviceA, "")
	f.postJSON(t, "/pair", PairRequest{DeviceID: deviceB, PairingCode: code.PairingCode}, nil)

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pair", PairRequest{DeviceID: deviceC, PairingCode: code.PairingCode}, &errResp)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodePairingAlreadyUsed {
		t.Errorf("errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodePairingAlreadyUsed)
	}
}

func TestPairSelf(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")

	code := f.issueCode(t, deviceA, "")

	var errResp ErrorResponse
	resp := f.postJSON(t, "/pair", PairRequest{DeviceID: deviceA, PairingCode: code.PairingCode}, &errResp)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodeTrustSelfPairing {
		t.Errorf("errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodeTrustSelfPairing)
	}
}

func TestTrustListAndRevoke(t *testing.T) {
	f := newFixture(t, false)
	deviceA := f.registerDevice(t, "Device A")
	deviceB := f.registerDevice(t, "Device B")

	code := f.issueCode(t, deviceA, "")
	f.postJSON(t, "/pair", PairRequest{DeviceID: deviceB, PairingCode: code.PairingCode}, nil)

	// The edge runs issuer -> redeemer.
	resp, err := http.Get(f.ts.URL + "/trust/" + deviceA)
	if err != nil {
		t.Fatalf("GET /trust: %v", err)
	}
	var list TrustListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode trust list: %v", err)
	}
	resp.Body.Close()
	if len(list.Trusted) != 1 {
		t.Fatalf("trusted = %d, want 1", len(list.Trusted))
	}
	if list.Trusted[0].TargetDeviceID != deviceB {
		t.Errorf("target = %q, want %q", list.Trusted[0].TargetDeviceID, deviceB)
	}

	// Revoke it.
	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/trust/"+deviceA+"/"+deviceB, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /trust: %v", err)
	}
	var revoke RevokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&revoke); err != nil {
		t.Fatalf("decode revoke response: %v", err)
	}
	resp.Body.Close()
	if !revoke.Success {
		t.Error("success = false, want true")
	}

	// Second revocation finds nothing.
	req, _ = http.NewRequest(http.MethodDelete, f.ts.URL+"/trust/"+deviceA+"/"+deviceB, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /trust again: %v", err)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode second revoke response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second revoke status = %d, want 404", resp.StatusCode)
	}
	if errResp.ErrorCode != hosterrors.CodeTrustNotFound {
		t.Errorf("second revoke errorCode = %q, want %q", errResp.ErrorCode, hosterrors.CodeTrustNotFound)
	}
}

func TestTrustListEmpty(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.ts.URL + "/trust/nobody")
	if err != nil {
		t.Fatalf("GET /trust: %v", err)
	}
	defer resp.Body.Close()

	var list TrustListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode trust list: %v", err)
	}
	if list.Trusted == nil {
		t.Error("trusted is null, want empty array")
	}
	if len(list.Trusted) != 0 {
		t.Errorf("trusted = %d, want 0", len(list.Trusted))
	}
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t, false)

	var resp RegisterDeviceResponse
	httpResp := f.postJSON(t, "/devices", RegisterDeviceRequest{Name: "Kitchen Tablet"}, &resp)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", httpResp.StatusCode)
	}
	if resp.DeviceID == "" {
		t.Error("deviceId is empty")
	}
	if resp.Token == "" {
		t.Error("token is empty")
	}
	if resp.Name != "Kitchen Tablet" {
		t.Errorf("name = %q, want Kitchen Tablet", resp.Name)
	}
}

func TestListDevices(t *testing.T) {
	f := newFixture(t, false)
	f.registerDevice(t, "Device A")
	f.registerDevice(t, "Device B")

	resp, err := http.Get(f.ts.URL + "/devices")
	if err != nil {
		t.Fatalf("GET /devices: %v", err)
	}
	defer resp.Body.Close()

	var list DeviceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode device list: %v", err)
	}
	if len(list.Devices) != 2 {
		t.Errorf("devices = %d, want 2", len(list.Devices))
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.RequireAuth {
		t.Error("require_auth = true, want false")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.ts.URL + "/pairing-code")
	if err != nil {
		t.Fatalf("GET /pairing-code: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, true)

	// Registration stays open so a new device can obtain its token.
	var reg RegisterDeviceResponse
	httpResp := f.postJSON(t, "/devices", RegisterDeviceRequest{Name: "Device A"}, &reg)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", httpResp.StatusCode)
	}

	// No token: rejected.
	payload, _ := json.Marshal(IssueCodeRequest{DeviceID: reg.DeviceID})
	resp, err := http.Post(f.ts.URL+"/pairing-code", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /pairing-code: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Bearer token: accepted.
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/pairing-code", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+reg.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("authenticated status = %d, want 201", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer_header", "Bearer abc123", "", "abc123"},
		{"lowercase_bearer", "bearer abc123", "", "abc123"},
		{"no_token", "", "", ""},
		{"query_fallback", "", "xyz789", "xyz789"},
		{"header_wins", "Bearer abc123", "xyz789", "abc123"},
		{"wrong_scheme", "Basic abc123", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/events"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(r); got != tt.want {
				t.Errorf("extractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransportRateLimit(t *testing.T) {
	f := newFixture(t, false)

	// Exhaust the per-IP burst with malformed requests; the limiter sits
	// in front of body parsing.
	var limited bool
	for i := 0; i < ipLimitBurst+5; i++ {
		resp, err := http.Post(f.ts.URL+"/pair", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST /pair: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("transport rate limit never triggered")
	}
}
