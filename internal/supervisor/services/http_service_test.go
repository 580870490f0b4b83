// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*HTTPServerService)(nil)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	block       bool

	listens   atomic.Int32
	shutdowns atomic.Int32
	started   chan struct{}
	stop      chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.listens.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	if m.block {
		<-m.stop
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if svc := NewHTTPServerService(newMockHTTPServer(), d); svc.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("timeout(%v) = %v, want %v", d, svc.shutdownTimeout, DefaultShutdownTimeout)
		}
	}
	if svc := NewHTTPServerService(newMockHTTPServer(), time.Second); svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	shutdownErr := errors.New("shutdown timeout")

	tests := []struct {
		name      string
		server    func() *mockHTTPServer
		cancel    bool
		wantErr   error
		shutdowns int32
	}{
		{
			name:      "graceful shutdown",
			server:    func() *mockHTTPServer { m := newMockHTTPServer(); m.block = true; return m },
			cancel:    true,
			wantErr:   context.Canceled,
			shutdowns: 1,
		},
		{
			name:    "startup failure",
			server:  func() *mockHTTPServer { m := newMockHTTPServer(); m.listenErr = bindErr; return m },
			wantErr: bindErr,
		},
		{
			name: "shutdown failure",
			server: func() *mockHTTPServer {
				m := newMockHTTPServer()
				m.block = true
				m.shutdownErr = shutdownErr
				return m
			},
			cancel:    true,
			wantErr:   shutdownErr,
			shutdowns: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := tt.server()
			svc := NewHTTPServerService(server, time.Second)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			select {
			case <-server.started:
			case <-time.After(time.Second):
				t.Fatal("server did not start")
			}
			if tt.cancel {
				cancel()
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Serve() = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
			if got := server.shutdowns.Load(); got != tt.shutdowns {
				t.Errorf("shutdowns = %d, want %d", got, tt.shutdowns)
			}
		})
	}
}
