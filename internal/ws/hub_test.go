package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	syncpkg "github.com/tillpoint/pos-core/internal/sync"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return envelope
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), n)
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	hub.BroadcastQueueUpdated(7)

	envelope := readEnvelope(t, conn)
	if envelope.Type != EventQueueUpdated {
		t.Errorf("type = %q, want %q", envelope.Type, EventQueueUpdated)
	}
	if envelope.Data["pending"] != float64(7) {
		t.Errorf("pending = %v, want 7", envelope.Data["pending"])
	}
	if envelope.Timestamp == 0 {
		t.Error("timestamp not set")
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub()
	first := dialTestHub(t, hub)
	second := dialTestHub(t, hub)
	waitForClients(t, hub, 2)

	hub.BroadcastConnectivity(false)

	for _, conn := range []*websocket.Conn{first, second} {
		envelope := readEnvelope(t, conn)
		if envelope.Type != EventConnectivityChanged {
			t.Errorf("type = %q", envelope.Type)
		}
		if envelope.Data["online"] != false {
			t.Errorf("online = %v, want false", envelope.Data["online"])
		}
	}
}

func TestSchedulerEventSink(t *testing.T) {
	hub := NewHub()
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	hub.SyncStarted()
	hub.SyncCompleted(&syncpkg.Result{Delivered: 3, Products: 2, Settings: 1, Duration: 40 * time.Millisecond})
	hub.SyncFailed(errors.New("backend unreachable"))

	started := readEnvelope(t, conn)
	if started.Type != EventSyncStarted {
		t.Errorf("first event = %q", started.Type)
	}

	completed := readEnvelope(t, conn)
	if completed.Type != EventSyncCompleted {
		t.Errorf("second event = %q", completed.Type)
	}
	if completed.Data["delivered"] != float64(3) {
		t.Errorf("delivered = %v", completed.Data["delivered"])
	}

	failed := readEnvelope(t, conn)
	if failed.Type != EventSyncFailed {
		t.Errorf("third event = %q", failed.Type)
	}
	if failed.Data["error"] != "backend unreachable" {
		t.Errorf("error = %v", failed.Data["error"])
	}
}

func TestOriginPolicy(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	// A cross-origin browser page must be refused at the handshake.
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Origin": []string{"http://kiosk-ads.example.com"},
	})
	if err == nil {
		t.Fatal("cross-origin handshake accepted")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake status = %d, want 403", resp.StatusCode)
	}

	// A loopback-served till UI page connects fine.
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Origin": []string{"http://localhost:3000"},
	})
	if err != nil {
		t.Fatalf("loopback origin refused: %v", err)
	}
	conn.Close()
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
