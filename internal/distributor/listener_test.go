// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package distributor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/cyclesync/internal/config"
)

func TestListener_DeliversFramesAndReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"conn":`+string(rune('0'+n))+`}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var frames []string
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewListener(config.DistributorConfig{
		WSURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
		PingInterval: time.Second,
	}, func(_ context.Context, raw []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(raw))
		if len(frames) == 2 {
			close(done)
		}
		return true
	})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if frames[0] != `{"conn":1}` || frames[1] != `{"conn":2}` {
		t.Errorf("frames = %v", frames)
	}
	if connections.Load() < 2 {
		t.Errorf("connections = %d, want >= 2", connections.Load())
	}
}

func TestListener_StopsWhileDisconnected(t *testing.T) {
	l := NewListener(config.DistributorConfig{
		WSURL:        "ws://127.0.0.1:1/subscribe",
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 10 * time.Millisecond,
	}, func(context.Context, []byte) bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := l.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v, want context.DeadlineExceeded", err)
	}
	if l.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
}

func TestListener_Defaults(t *testing.T) {
	l := NewListener(config.DistributorConfig{WSURL: "ws://x"}, nil)
	if l.reconnectMin != time.Second || l.reconnectMax != 32*time.Second {
		t.Errorf("backoff = %v..%v, want 1s..32s", l.reconnectMin, l.reconnectMax)
	}
	if got := l.nextDelay(20 * time.Second); got != 32*time.Second {
		t.Errorf("nextDelay(20s) = %v, want 32s", got)
	}
}
