// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/middleware"
	"github.com/tomtom215/cyclesync/internal/models"
)

// LocalStore is the replica database.
type LocalStore interface {
	Totals(ctx context.Context) (models.Totals, error)
	Ping(ctx context.Context) error
}

// Remote is the distributor API.
type Remote interface {
	Totals(ctx context.Context) (models.Totals, error)
	BreakerState() string
}

// SyncReporter exposes the sync manager state.
type SyncReporter interface {
	Snapshot() models.SyncState
	Pending(kind models.Kind) []int64
}

// Upstream reports whether the push listener holds a live connection.
type Upstream interface {
	IsConnected() bool
}

// Subscribers is the downstream forwarding hub.
type Subscribers interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Deps are the components the handlers read from. Upstream is nil in the
// MQ collector mode; Hub is nil when forwarding is disabled.
type Deps struct {
	Store    LocalStore
	Remote   Remote
	Sync     SyncReporter
	Upstream Upstream
	Hub      Subscribers
	Mode     string
	Version  string
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	deps      Deps
	startTime time.Time
	timeout   time.Duration
}

// NewHandler creates a Handler. timeout bounds the database and distributor
// calls made while serving a request.
func NewHandler(deps Deps, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{deps: deps, startTime: time.Now(), timeout: timeout}
}

// NewRouter builds the chi router with the operational routes.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if h.deps.Hub != nil {
		r.Get("/ws", h.deps.Hub.ServeWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.Metrics)

		r.Get("/v1/sync/status", h.SyncStatus)
		r.Get("/v1/totals", h.Totals)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}
