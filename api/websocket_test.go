package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitForClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub clients = %d, want %d", hub.ClientCount(), n)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	return conn
}

func TestWSBatchProgressStream(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()
	waitForClients(t, srv.wsHub, 1)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/batch",
		`{"tickers": ["AAPL", "MSFT"]}`)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("batch = %d, %+v", rec.Code, resp)
	}

	var progress, done int
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for done == 0 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame after %d progress frames: %v", progress, err)
		}
		switch msg.Type {
		case "batch_progress":
			progress++
		case "batch_done":
			done++
		}
	}
	if progress != 2 {
		t.Errorf("batch_progress frames = %d, want 2", progress)
	}
}

func TestWSPingReply(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()
	waitForClients(t, srv.wsHub, 1)

	if err := conn.WriteJSON(WSMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if msg.Type != "pong" {
		t.Errorf("reply type = %q, want %q", msg.Type, "pong")
	}
}

func TestWSHubDropsSlowClientWithoutPanic(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	client := &WSClient{hub: hub, send: make(chan WSMessage, 1)}
	hub.Register(client)
	waitForClients(t, hub, 1)

	// Fill the queue; nothing is draining it, as with a peer that has
	// stopped reading.
	if !client.trySend(WSMessage{Type: "batch_progress"}) {
		t.Fatal("first queued message should fit")
	}

	hub.Broadcast(WSMessage{Type: "batch_progress"})
	waitForClients(t, hub, 0)

	// A reply issued after the hub dropped the client reports failure
	// instead of sending on the closed channel.
	if client.trySend(WSMessage{Type: "pong"}) {
		t.Error("send after disconnect should report failure")
	}

	// The read pump unregisters on exit; after a drop this is a no-op.
	hub.Unregister(client)
	client.closeSend()
}
