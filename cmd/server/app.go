// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/tomtom215/cyclesync/internal/api"
	"github.com/tomtom215/cyclesync/internal/auditlog"
	"github.com/tomtom215/cyclesync/internal/backfill"
	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/database"
	"github.com/tomtom215/cyclesync/internal/distributor"
	"github.com/tomtom215/cyclesync/internal/ingest"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/reconcile"
	"github.com/tomtom215/cyclesync/internal/signature"
	"github.com/tomtom215/cyclesync/internal/supervisor"
	"github.com/tomtom215/cyclesync/internal/supervisor/services"
	"github.com/tomtom215/cyclesync/internal/sync"
	ws "github.com/tomtom215/cyclesync/internal/websocket"
)

// app owns the long-lived components. Services are created by register.
type app struct {
	cfg *config.Config

	db          *database.DB
	audit       *auditlog.Store
	auditWriter *auditlog.Writer
	client      *distributor.Client
	pipeline    *ingest.Pipeline
	hub         *ws.Hub
	sync        *sync.Manager

	// listener is set in websocket collector mode.
	listener *distributor.Listener

	closeOnce gosync.Once
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	verifier, err := signature.NewVerifier(cfg.Distributor.HashKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create signature verifier: %w", err)
	}

	opts := ingest.Options{
		PublicKey:     cfg.Distributor.PublicKey,
		Ingest:        cfg.Ingest,
		CacheSize:     cfg.Cache.MaxEntries,
		SweepLookback: cfg.Cache.CycleSweepLookback,
	}

	if cfg.AuditLog.Enabled {
		store, err := auditlog.Open(cfg.AuditLog.Dir, cfg.AuditLog.Retention())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.audit = store
		a.auditWriter = auditlog.NewWriter(store, cfg.AuditLog.BufferSize)
		opts.AuditLog = a.auditWriter
	}

	if cfg.Ingest.ForwardEnvelopes {
		a.hub = ws.NewHub()
		opts.Forwarder = a.hub
	}

	a.pipeline = ingest.NewPipeline(db, verifier, opts)
	a.client = distributor.NewClient(cfg.Distributor)

	deps := sync.Deps{
		Remote:  a.client,
		Store:   db,
		Engine:  reconcile.NewEngine(a.client, db, cfg.Sync.HistoryWindow),
		Fetcher: backfill.NewFetcher(a.client, a.pipeline, db, cfg.Sync),
		Sweeper: a.pipeline,
	}
	if a.audit != nil {
		deps.AuditLog = a.audit
		deps.Replayer = a.pipeline
	}

	a.sync = sync.NewManager(sync.NewCursor(0, cfg.Sync.Interval, cfg.Sync.SafetyMargin), deps, cfg.Sync)
	a.sync.SetReplayOnStart(cfg.AuditLog.ReplayOnStart)
	a.pipeline.SetCycleObserver(a.sync)

	return a, nil
}

// register adds every service to its supervisor layer.
func (a *app) register(ctx context.Context, tree *supervisor.SupervisorTree) error {
	if a.auditWriter != nil {
		tree.AddDataService(a.auditWriter)
	}

	tree.AddMessagingService(a.sync)
	if a.hub != nil {
		tree.AddMessagingService(a.hub)
	}
	if err := a.registerCollector(ctx, tree); err != nil {
		return err
	}

	tree.AddAPIService(services.NewHTTPServerService(a.httpServer(), 10*time.Second))
	return nil
}

// httpServer builds the operational HTTP server. WriteTimeout stays unset
// because /ws connections are long-lived.
func (a *app) httpServer() *http.Server {
	deps := api.Deps{
		Store:   a.db,
		Remote:  a.client,
		Sync:    a.sync,
		Mode:    a.cfg.CollectorMode,
		Version: version,
	}
	if a.listener != nil {
		deps.Upstream = a.listener
	}
	if a.hub != nil {
		deps.Hub = a.hub
	}

	handler := api.NewHandler(deps, a.cfg.Server.Timeout)
	return &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler:           api.NewRouter(handler, a.cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.Timeout,
		IdleTimeout:       2 * time.Minute,
	}
}

// Close releases the database and audit log. It is safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.audit != nil {
			if err := a.audit.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit log")
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing database")
			}
		}
	})
}
