// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
)

// EnvelopeHandler receives one pushed envelope. The result reports whether
// the envelope was accepted; the listener only counts it.
type EnvelopeHandler func(ctx context.Context, raw []byte) bool

// Listener consumes the distributor websocket push stream, one signed
// envelope per text frame, reconnecting with exponential backoff.
type Listener struct {
	wsURL        string
	handler      EnvelopeHandler
	reconnectMin time.Duration
	reconnectMax time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

// NewListener creates a listener delivering frames to handler.
func NewListener(cfg config.DistributorConfig, handler EnvelopeHandler) *Listener {
	l := &Listener{
		wsURL:        cfg.WSURL,
		handler:      handler,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		pingInterval: cfg.PingInterval,
	}
	if l.reconnectMin <= 0 {
		l.reconnectMin = time.Second
	}
	if l.reconnectMax < l.reconnectMin {
		l.reconnectMax = 32 * time.Second
	}
	if l.pingInterval <= 0 {
		l.pingInterval = 30 * time.Second
	}
	l.readTimeout = 2 * l.pingInterval
	return l
}

// Serve runs until ctx is cancelled. It implements suture.Service.
func (l *Listener) Serve(ctx context.Context) error {
	delay := l.reconnectMin
	first := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !first {
			metrics.ListenerReconnects.Inc()
			logging.Info().Dur("delay", delay).Msg("[push] Connection lost, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		first = false

		conn, err := l.dial(ctx)
		if err != nil {
			logging.Warn().Err(err).Str("url", l.wsURL).Msg("[push] Connect failed")
			delay = l.nextDelay(delay)
			continue
		}

		received := l.consume(ctx, conn)
		if received > 0 {
			delay = l.reconnectMin
		} else {
			delay = l.nextDelay(delay)
		}
	}
}

func (l *Listener) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > l.reconnectMax {
		d = l.reconnectMax
	}
	return d
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, l.wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// consume reads frames until the connection fails or ctx is done and
// returns the number of frames handled.
func (l *Listener) consume(ctx context.Context, conn *websocket.Conn) int {
	l.setConn(conn)
	logging.Info().Str("url", l.wsURL).Msg("[push] Connected to distributor")

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.pingLoop(connCtx, conn)
	}()

	// Unblock ReadMessage on shutdown.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	})

	received := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			break
		}
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logging.Info().Msg("[push] Connection closed by distributor")
			default:
				logging.Warn().Err(err).Msg("[push] Read error")
			}
			break
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		received++
		metrics.EnvelopesReceived.WithLabelValues("websocket").Inc()
		l.handler(ctx, frame)
	}

	cancel()
	wg.Wait()
	l.setConn(nil)
	return received
}

func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			l.mu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logging.Debug().Err(err).Msg("[push] Ping failed")
				return
			}
		}
	}
}

func (l *Listener) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
	l.connected = conn != nil
	if l.connected {
		metrics.ListenerConnected.Set(1)
	} else {
		metrics.ListenerConnected.Set(0)
	}
}

// IsConnected reports whether a push connection is currently open.
func (l *Listener) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// String implements fmt.Stringer for supervisor logs.
func (l *Listener) String() string {
	return "distributor-listener"
}
