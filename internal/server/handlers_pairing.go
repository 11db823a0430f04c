package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/devicelink/devicelink/internal/pairing"
)

// IssueCodeRequest is the JSON body for the /pairing-code endpoint.
type IssueCodeRequest struct {
	// DeviceID is the device requesting the code.
	DeviceID string `json:"deviceId"`

	// Format selects the code encoding: "uuid", "short" or "legacy".
	// Empty selects uuid.
	Format string `json:"format,omitempty"`

	// ExpiresIn is the requested code lifetime in seconds. Zero selects
	// the default; out-of-range values are clamped.
	ExpiresIn int `json:"expiresIn,omitempty"`
}

// IssueCodeResponse is the JSON response from /pairing-code on success.
type IssueCodeResponse struct {
	// PairingCode is the single-use token to hand to the other device.
	PairingCode string `json:"pairingCode"`

	// Format is the encoding actually used.
	Format string `json:"format"`

	// ExpiresAt is when the code stops being redeemable.
	ExpiresAt time.Time `json:"expiresAt"`

	// ExpiresIn is the effective lifetime in seconds after clamping.
	ExpiresIn int `json:"expiresIn"`
}

// handleIssueCode handles POST /pairing-code requests.
func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.authenticate(w, r) {
		return
	}

	var req IssueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("server: failed to parse pairing-code request: %v", err)
		invalidRequest(w, "invalid JSON body")
		return
	}

	if req.DeviceID == "" {
		invalidRequest(w, "deviceId is required")
		return
	}

	format := pairing.Format(req.Format)
	if req.Format != "" && !format.Valid() {
		writeError(w, pairing.ErrUnknownFormat)
		return
	}

	code, err := s.issuer.Issue(req.DeviceID, format, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, IssueCodeResponse{
		PairingCode: code.Code,
		Format:      string(code.Format),
		ExpiresAt:   code.ExpiresAt,
		ExpiresIn:   int(code.ExpiresAt.Sub(code.IssuedAt).Seconds()),
	})
}

// PairRequest is the JSON body for the /pair endpoint.
type PairRequest struct {
	// DeviceID is the redeeming device.
	DeviceID string `json:"deviceId"`

	// PairingCode is the code obtained from the issuing device.
	PairingCode string `json:"pairingCode"`

	// EncryptedTrustData is an opaque blob negotiated between the two
	// devices. The daemon carries it without inspecting it.
	EncryptedTrustData json.RawMessage `json:"encryptedTrustData,omitempty"`
}

// PairResponse is the JSON response from /pair on success.
type PairResponse struct {
	// TrustRelationship is the edge established by the redemption.
	TrustRelationship TrustRelationshipPayload `json:"trustRelationship"`

	// PairedDevice identifies the device that issued the code.
	PairedDevice PairedDevicePayload `json:"pairedDevice"`

	// PairingCodeFormat is the encoding the redeemed code used.
	PairingCodeFormat string `json:"pairingCodeFormat"`
}

// TrustRelationshipPayload is the wire form of a trust edge.
type TrustRelationshipPayload struct {
	ID         string    `json:"id"`
	TrustLevel int       `json:"trustLevel"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PairedDevicePayload identifies the peer device after pairing.
type PairedDevicePayload struct {
	DeviceID string `json:"deviceId"`
}

// handlePair handles POST /pair requests: code redemption plus trust
// establishment in one step.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.authenticate(w, r) {
		return
	}

	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("server: failed to parse pair request: %v", err)
		invalidRequest(w, "invalid JSON body")
		return
	}

	if req.DeviceID == "" {
		invalidRequest(w, "deviceId is required")
		return
	}
	if req.PairingCode == "" {
		invalidRequest(w, "pairingCode is required")
		return
	}

	format, err := pairing.DetectFormat(req.PairingCode)
	if err != nil {
		writeError(w, err)
		return
	}

	edge, err := s.pairer.Pair(req.DeviceID, req.PairingCode)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("server: devices paired: %s <- %s", edge.SourceDeviceID, edge.TargetDeviceID)

	writeJSON(w, http.StatusOK, PairResponse{
		TrustRelationship: TrustRelationshipPayload{
			ID:         edge.ID,
			TrustLevel: edge.TrustLevel,
			CreatedAt:  edge.CreatedAt,
		},
		PairedDevice:      PairedDevicePayload{DeviceID: edge.SourceDeviceID},
		PairingCodeFormat: string(format),
	})
}
