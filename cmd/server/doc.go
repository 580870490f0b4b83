// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package main is the CycleSync server: a collector that keeps a local
// DuckDB replica of a distributor's cycles, receipts and original
// transactions.
//
// # Startup
//
//  1. Configuration: defaults, config.yaml (CONFIG_PATH) and environment (koanf v2)
//  2. Database: DuckDB replica and schema
//  3. Audit log: Badger-backed log of accepted payloads (optional)
//  4. Ingest pipeline: signature checks, dedup caches and downstream forwarding
//  5. Bootstrap: genesis and bulk sync for an empty store, history
//     verification and catch-up for an existing one
//  6. Supervisor tree: audit writer and embedded NATS (data layer), sync
//     manager, push transport and websocket hub (messaging layer), HTTP (api layer)
//
// # Collector modes
//
// COLLECTOR_MODE=ws subscribes to the distributor websocket push stream.
// COLLECTOR_MODE=mq consumes envelopes from a NATS JetStream subject, which
// requires a build with the nats tag:
//
//	go build -tags nats ./cmd/server
//
// # Signals
//
// SIGINT and SIGTERM cancel bootstrap or stop the supervisor tree. Services
// get ShutdownTimeout to return before they are reported as unstopped.
package main
