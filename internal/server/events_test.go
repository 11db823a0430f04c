package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelink/devicelink/internal/audit"
)

func dialEvents(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial /events: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForWatchers(t *testing.T, f *fixture, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.server.hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("watchers = %d, want %d", f.server.hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, false)
	conn := dialEvents(t, f)
	waitForWatchers(t, f, 1)

	event := audit.Event{
		ID:             "event-1",
		Type:           audit.EventDevicesPaired,
		SourceDeviceID: "device-a",
		TargetDeviceID: "device-b",
		At:             time.Now(),
	}
	if err := f.server.hub.Record(event); err != nil {
		t.Fatalf("Record: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got audit.Event
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Type != audit.EventDevicesPaired {
		t.Errorf("type = %q, want %q", got.Type, audit.EventDevicesPaired)
	}
	if got.SourceDeviceID != "device-a" {
		t.Errorf("source = %q, want device-a", got.SourceDeviceID)
	}
}

func TestEventsStreamSeesPairing(t *testing.T) {
	f := newFixture(t, false)
	conn := dialEvents(t, f)
	waitForWatchers(t, f, 1)

	deviceA := f.registerDevice(t, "Device A")

	// Device registration and code issuance both flow through the hub
	// when it is wired as an audit sink; here the fixture sink is the
	// memory sink, so push the recorded events through the hub manually.
	for _, event := range f.sink.EventsOfType(audit.EventDeviceRegistered) {
		f.server.hub.Record(event)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got audit.Event
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Type != audit.EventDeviceRegistered {
		t.Errorf("type = %q, want %q", got.Type, audit.EventDeviceRegistered)
	}
	if got.SourceDeviceID != deviceA {
		t.Errorf("source = %q, want %q", got.SourceDeviceID, deviceA)
	}
}

func TestEventsMultipleWatchers(t *testing.T) {
	f := newFixture(t, false)
	conn1 := dialEvents(t, f)
	conn2 := dialEvents(t, f)
	waitForWatchers(t, f, 2)

	event := audit.Event{ID: "event-1", Type: audit.EventTrustRevoked, At: time.Now()}
	if err := f.server.hub.Record(event); err != nil {
		t.Fatalf("Record: %v", err)
	}

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("watcher %d ReadMessage: %v", i, err)
		}
		var got audit.Event
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("watcher %d unmarshal: %v", i, err)
		}
		if got.Type != audit.EventTrustRevoked {
			t.Errorf("watcher %d type = %q, want %q", i, got.Type, audit.EventTrustRevoked)
		}
	}
}

func TestHubStopDisconnectsWatchers(t *testing.T) {
	f := newFixture(t, false)
	conn := dialEvents(t, f)
	waitForWatchers(t, f, 1)

	f.server.hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // connection closed as expected
		}
	}
}
