// Package server exposes the pairing and trust operations over HTTP and
// streams audit events to connected clients over WebSocket.
package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/devicelink/devicelink/internal/device"
	"github.com/devicelink/devicelink/internal/pairing"
	"github.com/devicelink/devicelink/internal/trust"
)

// Config carries the collaborators the server dispatches to.
type Config struct {
	// Addr is the host:port to listen on.
	Addr string

	// Issuer creates pairing codes.
	Issuer *pairing.Issuer

	// Pairer redeems pairing codes into trust edges.
	Pairer *trust.Pairer

	// Trust answers trust-graph queries and revocations.
	Trust *trust.Registry

	// Devices registers devices and validates their tokens.
	Devices *device.Registry

	// Hub streams audit events to WebSocket watchers. Optional; a
	// caller that registers the hub as an audit sink before the server
	// exists passes it here. Nil means the server creates its own.
	Hub *EventHub

	// RequireAuth enables bearer-token authentication on the API.
	RequireAuth bool

	// TLSEnabled is reported by /status; the listener itself is wrapped
	// by StartAsyncTLS.
	TLSEnabled bool
}

// Server is the HTTP front end for the daemon.
type Server struct {
	addr        string
	issuer      *pairing.Issuer
	pairer      *trust.Pairer
	trust       *trust.Registry
	devices     *device.Registry
	requireAuth bool
	tlsEnabled  bool

	hub        *EventHub
	httpServer *http.Server
	startTime  time.Time

	upgrader websocket.Upgrader

	// Per-IP transport limiters for the pairing endpoints. These sit in
	// front of the per-device quotas and bound unauthenticated request
	// floods from a single address.
	mu         sync.Mutex
	ipLimiters map[string]*rate.Limiter
	stopped    bool
}

// Transport-level rate limit: 5 requests/sec with a burst of 10 per
// client IP on the pairing endpoints.
const (
	ipLimitPerSecond = 5
	ipLimitBurst     = 10
)

// New creates a Server. The event hub starts broadcasting when Start
// (or StartAsync) is called.
func New(config Config) *Server {
	hub := config.Hub
	if hub == nil {
		hub = NewEventHub()
	}
	return &Server{
		addr:        config.Addr,
		issuer:      config.Issuer,
		pairer:      config.Pairer,
		trust:       config.Trust,
		devices:     config.Devices,
		requireAuth: config.RequireAuth,
		tlsEnabled:  config.TLSEnabled,
		hub:         hub,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices on the LAN connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ipLimiters: make(map[string]*rate.Limiter),
	}
}

// Hub returns the event hub so it can be registered as an audit sink.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket feed of audit events
	mux.HandleFunc("/events", s.handleEvents)

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Pairing endpoints, behind the per-IP transport limiter
	mux.HandleFunc("/pairing-code", s.withIPLimit(s.handleIssueCode))
	mux.HandleFunc("/pair", s.withIPLimit(s.handlePair))
	log.Printf("server: pairing endpoints registered at /pairing-code and /pair")

	// Trust graph: GET /trust/{deviceId}, DELETE /trust/{deviceId}/{targetDeviceId}
	mux.HandleFunc("/trust/", s.handleTrust)
	log.Printf("server: trust endpoints registered at /trust/")

	// Device registration and listing
	mux.HandleFunc("/devices", s.handleDevices)
	log.Printf("server: device endpoints registered at /devices")

	// Status endpoint for the CLI, local-only
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// withIPLimit wraps a handler with the per-IP transport limiter.
func (s *Server) withIPLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allowIP(remoteHost(r)) {
			log.Printf("server: transport rate limit hit for %s", r.RemoteAddr)
			writeRateLimited(w, time.Second)
			return
		}
		next(w, r)
	}
}

// allowIP reports whether the given client IP is within its transport
// rate budget. Limiters are created lazily per IP.
func (s *Server) allowIP(host string) bool {
	s.mu.Lock()
	limiter, ok := s.ipLimiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(ipLimitPerSecond), ipLimitBurst)
		s.ipLimiters[host] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// authenticate resolves the calling device from the bearer token when
// authentication is required. Returns false after writing a 401 if the
// token is missing or invalid.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if !s.requireAuth || s.devices == nil {
		return true
	}

	token := extractBearerToken(r)
	if token == "" {
		log.Printf("server: request rejected: missing authorization token")
		http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
		return false
	}

	if _, err := s.devices.ValidateToken(token); err != nil {
		log.Printf("server: request rejected: invalid token: %v", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

// extractBearerToken extracts the token from an Authorization header.
// Returns empty string if no valid bearer token is found.
// Supports both "Bearer <token>" header and "token" query parameter as
// fallback (some WebSocket clients don't support custom headers).
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		const bearerPrefix = "Bearer "
		if len(auth) > len(bearerPrefix) {
			prefix := auth[:len(bearerPrefix)]
			if prefix == bearerPrefix || prefix == "bearer " {
				return auth[len(bearerPrefix):]
			}
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
