package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// RegisterDeviceRequest is the JSON body for POST /devices.
type RegisterDeviceRequest struct {
	// Name is a friendly name for the device (e.g., "Kitchen Tablet").
	Name string `json:"name"`
}

// RegisterDeviceResponse is the JSON response for POST /devices.
type RegisterDeviceResponse struct {
	// DeviceID is the unique identifier for the registered device.
	DeviceID string `json:"deviceId"`

	// Name is the stored device name.
	Name string `json:"name"`

	// Token is the bearer token for authentication.
	// This is only returned once and should be stored securely by the client.
	Token string `json:"token"`
}

// DeviceListResponse is the JSON response for GET /devices.
type DeviceListResponse struct {
	Devices []DevicePayload `json:"devices"`
}

// DevicePayload is the wire form of a registered device. Token hashes
// are never included.
type DevicePayload struct {
	DeviceID  string    `json:"deviceId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// handleDevices routes POST /devices (registration) and GET /devices
// (listing, local-only).
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.registerDevice(w, r)
	case http.MethodGet:
		s.listDevices(w, r)
	default:
		methodNotAllowed(w)
	}
}

// registerDevice handles POST /devices. Registration is open: it is how
// a new device obtains the token it authenticates with afterwards.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("server: failed to parse device registration: %v", err)
		invalidRequest(w, "invalid JSON body")
		return
	}

	d, token, err := s.devices.Register(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("server: device registered: %s (%s)", d.ID, d.Name)

	writeJSON(w, http.StatusCreated, RegisterDeviceResponse{
		DeviceID: d.ID,
		Name:     d.Name,
		Token:    token,
	})
}

// listDevices handles GET /devices. Restricted to the local machine:
// the device inventory is operator information, not peer information.
func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: device listing is local-only", http.StatusForbidden)
		return
	}

	devices, err := s.devices.List()
	if err != nil {
		writeError(w, err)
		return
	}

	payload := make([]DevicePayload, 0, len(devices))
	for _, d := range devices {
		payload = append(payload, DevicePayload{
			DeviceID:  d.ID,
			Name:      d.Name,
			CreatedAt: d.CreatedAt,
			LastSeen:  d.LastSeen,
		})
	}

	writeJSON(w, http.StatusOK, DeviceListResponse{Devices: payload})
}
