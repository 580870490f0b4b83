// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/models"
)

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status            string  `json:"status"`
	Mode              string  `json:"mode"`
	Version           string  `json:"version,omitempty"`
	DatabaseConnected bool    `json:"database_connected"`
	UpstreamConnected *bool   `json:"upstream_connected,omitempty"`
	Subscribers       int     `json:"subscribers"`
	LastSyncedCycle   int64   `json:"last_synced_cycle"`
	Uptime            float64 `json:"uptime_seconds"`
}

// SyncStatus is the /api/v1/sync/status payload.
type SyncStatus struct {
	models.SyncState
	Pending           map[models.Kind][]int64 `json:"pending_repairs"`
	UpstreamConnected *bool                   `json:"upstream_connected,omitempty"`
	BreakerState      string                  `json:"breaker_state,omitempty"`
}

// TotalsReport is the /api/v1/totals payload. Remote is nil when the
// distributor could not be reached.
type TotalsReport struct {
	Local       models.Totals  `json:"local"`
	Remote      *models.Totals `json:"remote,omitempty"`
	RemoteError string         `json:"remote_error,omitempty"`
	CycleLag    int64          `json:"cycle_lag"`
}

// Health reports 200 when the database answers and 503 otherwise. A
// disconnected push listener degrades the status without failing it. The
// sync manager catches up once the connection returns.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	dbConnected := h.deps.Store != nil && h.deps.Store.Ping(ctx) == nil

	health := HealthStatus{
		Status:            "healthy",
		Mode:              h.deps.Mode,
		Version:           h.deps.Version,
		DatabaseConnected: dbConnected,
		Uptime:            time.Since(h.startTime).Seconds(),
	}
	if h.deps.Upstream != nil {
		connected := h.deps.Upstream.IsConnected()
		health.UpstreamConnected = &connected
		if !connected {
			health.Status = "degraded"
		}
	}
	if h.deps.Hub != nil {
		health.Subscribers = h.deps.Hub.ClientCount()
	}
	if h.deps.Sync != nil {
		health.LastSyncedCycle = h.deps.Sync.Snapshot().LastSyncedCycle
	}

	status := http.StatusOK
	if !dbConnected {
		health.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	respondData(w, r, status, health)
}

// SyncStatus reports the cursor and the cycles still queued for repair.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sync == nil {
		respondError(w, r, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "Sync manager not running", nil)
		return
	}

	status := SyncStatus{
		SyncState: h.deps.Sync.Snapshot(),
		Pending:   make(map[models.Kind][]int64, len(models.TxKinds)),
	}
	for _, kind := range models.TxKinds {
		pending := h.deps.Sync.Pending(kind)
		if pending == nil {
			pending = []int64{}
		}
		status.Pending[kind] = pending
	}
	if h.deps.Upstream != nil {
		connected := h.deps.Upstream.IsConnected()
		status.UpstreamConnected = &connected
	}
	if h.deps.Remote != nil {
		status.BreakerState = h.deps.Remote.BreakerState()
	}
	respondData(w, r, http.StatusOK, status)
}

// Totals compares local record counts with the distributor's.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		respondError(w, r, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "Database not available", nil)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	local, err := h.deps.Store.Totals(ctx)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read local totals", err)
		return
	}

	report := TotalsReport{Local: local}
	if h.deps.Remote != nil {
		remote, err := h.deps.Remote.Totals(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Distributor totals unavailable")
			report.RemoteError = err.Error()
		} else {
			report.Remote = &remote
			if lag := remote.Cycles - local.Cycles; lag > 0 {
				report.CycleLag = lag
			}
		}
	}
	respondData(w, r, http.StatusOK, report)
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}
