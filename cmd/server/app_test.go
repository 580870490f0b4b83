// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/api"
	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/supervisor"
	"github.com/tomtom215/cyclesync/internal/testinfra"
)

func testConfig(distributorURL string) *config.Config {
	return &config.Config{
		CollectorMode: config.ModeWebsocket,
		Distributor: config.DistributorConfig{
			URL:             distributorURL,
			WSURL:           "ws://127.0.0.1:1/subscribe",
			HashKey:         testinfra.HashKey,
			Timeout:         5 * time.Second,
			RetryAttempts:   1,
			BreakerFailures: 1000,
			BreakerTimeout:  time.Minute,
		},
		Sync:     config.SyncConfig{Interval: 10, SafetyMargin: 5, BucketSize: 8},
		Ingest:   config.IngestConfig{IndexReceipt: true, ForwardEnvelopes: true},
		Cache:    config.CacheConfig{MaxEntries: 1000},
		Database: config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1},
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, Timeout: 5 * time.Second},
	}
}

func newTestTree(t *testing.T) *supervisor.SupervisorTree {
	t.Helper()
	tree, err := supervisor.NewSupervisorTree(slog.New(slog.NewTextHandler(io.Discard, nil)), supervisor.DefaultTreeConfig())
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestApp_BootstrapThenServeTotals(t *testing.T) {
	fake := testinfra.NewFakeDistributor(t)
	fake.AddCycles(testinfra.Cycles(0, 16)...)
	for c := int64(0); c < 16; c++ {
		fake.AddReceipts(testinfra.Receipt(fmt.Sprintf("tx-%02d", c), c, 1000+c))
	}

	a, err := newApp(testConfig(fake.URL()))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)

	ctx := context.Background()
	if err := a.sync.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got := a.sync.Snapshot().LastSyncedCycle; got != 15 {
		t.Errorf("last synced = %d, want 15", got)
	}

	if err := a.register(ctx, newTestTree(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.listener == nil {
		t.Fatal("websocket mode registered no listener")
	}

	rec := httptest.NewRecorder()
	a.httpServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/totals", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("totals code = %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data api.TotalsReport `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Local.Cycles != 16 || resp.Data.Local.Receipts != 16 {
		t.Errorf("local = %+v", resp.Data.Local)
	}
	if resp.Data.Remote == nil || resp.Data.CycleLag != 0 {
		t.Errorf("report = %+v", resp.Data)
	}
}

func TestApp_OptionalComponents(t *testing.T) {
	fake := testinfra.NewFakeDistributor(t)

	t.Run("audit log and forwarding", func(t *testing.T) {
		cfg := testConfig(fake.URL())
		cfg.AuditLog = config.AuditLogConfig{Enabled: true, MaxFiles: 2, EntriesPerFile: 10, BufferSize: 16}
		a, err := newApp(cfg)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(a.Close)
		if a.audit == nil || a.auditWriter == nil {
			t.Error("audit log not opened")
		}
		if a.hub == nil {
			t.Error("hub not created with forwarding enabled")
		}
	})

	t.Run("minimal", func(t *testing.T) {
		cfg := testConfig(fake.URL())
		cfg.Ingest.ForwardEnvelopes = false
		a, err := newApp(cfg)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(a.Close)
		if a.audit != nil || a.hub != nil {
			t.Errorf("audit=%v hub=%v, want neither", a.audit, a.hub)
		}

		rec := httptest.NewRecorder()
		a.httpServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("/ws code = %d, want 404 without forwarding", rec.Code)
		}
	})

	t.Run("bad hash key", func(t *testing.T) {
		cfg := testConfig(fake.URL())
		cfg.Distributor.HashKey = "not-hex"
		if _, err := newApp(cfg); err == nil {
			t.Error("newApp accepted an invalid hash key")
		}
	})
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	a, err := newApp(testConfig("http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	a.Close()
}
