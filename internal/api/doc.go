// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package api serves the operational HTTP surface of CycleSync.

Routes:

	GET /health                liveness plus database and upstream state
	GET /metrics               Prometheus exposition
	GET /ws                    downstream websocket forwarding of accepted envelopes
	GET /api/v1/sync/status    sync cursor state and residual repair cycles
	GET /api/v1/totals         local and distributor record totals

Everything under /api is rate limited per client IP. JSON responses share
the Response envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}

Records themselves are not queryable here; downstream consumers get them
from the websocket stream or the database.
*/
package api
