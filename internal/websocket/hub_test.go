// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/cyclesync/internal/models"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc, <-chan error) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Serve(ctx) }()
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel, errCh
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventFor(t *testing.T) {
	tests := map[models.Kind]string{
		models.KindCycle:      "/data/cycle",
		models.KindReceipt:    "/data/receipt",
		models.KindOriginalTx: "/data/originalTx",
	}
	for kind, want := range tests {
		if got := EventFor(kind); got != want {
			t.Errorf("EventFor(%s) = %q, want %q", kind, got, want)
		}
	}
}

func TestHub_ForwardsToAllSubscribers(t *testing.T) {
	hub, url, _, _ := startHub(t)
	a, b := dial(t, url), dial(t, url)
	waitClients(t, hub, 2)

	payload := []byte(`{"receipts":[{"receiptId":"tx-1"}]}`)
	hub.Forward(models.KindReceipt, payload)

	for i, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		if msg.Event != "/data/receipt" {
			t.Errorf("subscriber %d event = %q", i, msg.Event)
		}
		if string(msg.Data) != string(payload) {
			t.Errorf("subscriber %d data = %s, want %s", i, msg.Data, payload)
		}
	}
}

func TestHub_AnswersPing(t *testing.T) {
	hub, url, _, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(Message{Event: EventPing}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != EventPong {
		t.Errorf("event = %q, want pong", msg.Event)
	}
}

func TestHub_SubscriberDisconnect(t *testing.T) {
	hub, url, _, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := &Client{id: "slow", seq: 1, hub: hub, send: make(chan Message)}
	fast := &Client{id: "fast", seq: 2, hub: hub, send: make(chan Message, 1)}
	hub.clients[slow] = struct{}{}
	hub.clients[fast] = struct{}{}

	hub.fanOut(Message{Event: EventFor(models.KindCycle), Data: []byte(`{}`)})

	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow subscriber channel not closed")
	}
	if msg := <-fast.send; msg.Event != "/data/cycle" {
		t.Errorf("fast subscriber got %q", msg.Event)
	}

	// A later disconnect of the dropped client must not close twice.
	hub.remove(slow)
}

func TestHub_ForwardNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.Forward(models.KindReceipt, []byte(`{}`))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forward blocked without a running hub")
	}
}

func TestHub_ServeClosesSubscribers(t *testing.T) {
	hub, url, cancel, errCh := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d after shutdown", hub.ClientCount())
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after shutdown")
	}
}
