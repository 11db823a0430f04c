package server

import (
	"net/http"
	"time"
)

// StatusResponse contains daemon status information returned by the
// /status endpoint. The CLI uses it to display daemon state.
type StatusResponse struct {
	// ListeningAddress is the address the daemon is listening on.
	ListeningAddress string `json:"listening_address"`

	// EventWatchers is the number of connected /events WebSocket clients.
	EventWatchers int `json:"event_watchers"`

	// UptimeSeconds is how long the daemon has been running, in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// TLSEnabled indicates whether the daemon is using TLS encryption.
	TLSEnabled bool `json:"tls_enabled"`

	// RequireAuth indicates whether authentication is required for API requests.
	RequireAuth bool `json:"require_auth"`
}

// handleStatus handles GET /status. Restricted to local machine
// addresses; non-local requests receive 403.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ListeningAddress: s.addr,
		EventWatchers:    s.hub.ClientCount(),
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		TLSEnabled:       s.tlsEnabled,
		RequireAuth:      s.requireAuth,
	})
}
