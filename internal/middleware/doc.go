// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package middleware provides the chi middleware stack of the operational API.

Components:

  - RequestID: X-Request-ID propagation with request and correlation IDs
    in the logging context
  - Metrics: per-route request counters and latency histograms
  - SecurityHeaders: conservative response headers for JSON endpoints
  - RateLimit: per-client-IP limiting backed by go-chi/httprate

The stack is installed by internal/api:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
	    r.Use(middleware.RateLimit(cfg.Server))
	    r.Use(middleware.Metrics)
	})
*/
package middleware
