package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelink/devicelink/internal/audit"
)

const (
	// channelBufferSize is the per-client send buffer. A slow client can
	// fall this far behind before events are dropped for it.
	channelBufferSize = 64

	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pingInterval keeps idle connections alive through NAT timeouts.
	pingInterval = 30 * time.Second
)

// EventHub fans audit events out to connected WebSocket clients. It
// implements audit.Sink so it can be registered alongside the durable
// sink; a device watching /events sees pairing activity as it happens.
type EventHub struct {
	mu        sync.Mutex
	clients   map[*eventClient]bool
	broadcast chan audit.Event
	stopped   bool
}

type eventClient struct {
	conn *websocket.Conn
	send chan audit.Event
	done chan struct{}
	once sync.Once
}

// NewEventHub creates an EventHub. Run must be started before events
// reach any client.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*eventClient]bool),
		broadcast: make(chan audit.Event, channelBufferSize),
	}
}

// Record implements audit.Sink. The send is non-blocking: if the
// broadcast channel is full the event is dropped for live viewers, the
// durable sink still has it.
func (h *EventHub) Record(event audit.Event) error {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return nil
	}

	select {
	case h.broadcast <- event:
	default:
		log.Printf("server: event broadcast buffer full, dropping %s", event.Type)
	}
	return nil
}

// Run drains the broadcast channel and fans events out to all clients.
// It exits when Stop closes the channel.
func (h *EventHub) Run() {
	for event := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			select {
			case client.send <- event:
			default:
				// Client too slow, drop this event for it.
				log.Printf("server: client send buffer full, dropping %s", event.Type)
			}
		}
		h.mu.Unlock()
	}
}

// Stop disconnects all clients and stops the broadcaster.
func (h *EventHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*eventClient]bool)
	close(h.broadcast)
}

// ClientCount returns the number of connected event watchers.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) register(client *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[client] = true
	return true
}

func (h *EventHub) unregister(client *eventClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (c *eventClient) close() {
	c.once.Do(func() { close(c.done) })
}

// handleEvents upgrades an HTTP connection to a WebSocket and streams
// audit events to it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &eventClient{
		conn: conn,
		send: make(chan audit.Event, channelBufferSize),
		done: make(chan struct{}),
	}

	if !s.hub.register(client) {
		conn.Close()
		return
	}

	log.Printf("server: event watcher connected (%d total)", s.hub.ClientCount())

	go client.writePump(s.hub)
	go client.readPump(s.hub)
}

// writePump sends queued events and periodic pings until the client is
// done. It owns all writes on the connection.
func (c *eventClient) writePump(hub *EventHub) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("server: failed to encode event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				hub.unregister(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				hub.unregister(c)
				return
			}
		}
	}
}

// readPump discards inbound messages; the feed is one-way. It exists to
// notice closed connections promptly.
func (c *eventClient) readPump(hub *EventHub) {
	defer hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
