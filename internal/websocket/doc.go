// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package websocket forwards accepted envelopes to downstream subscribers.

Every envelope the ingestion pipeline accepts on the push path is relayed to
all connected subscribers as one JSON text frame:

	{"event": "/data/receipt", "data": {"receipts": [...]}}

Events are /data/cycle, /data/receipt and /data/originalTx. Records arrive
exactly as the distributor signed them, without the signature envelope.

Key Components:

  - Hub: owns the subscriber set and fans messages out. It runs as a suture
    service; cancelling its context closes every subscriber.
  - Client: one subscriber connection with a read and a write goroutine.

A subscriber that cannot keep up (its send buffer is full) is disconnected
rather than slowing the pipeline down.

Usage Example:

	hub := websocket.NewHub()
	pipeline := ingest.NewPipeline(store, verifier, ingest.Options{Forwarder: hub})
	r.Get("/ws", hub.ServeWS)
	supervisor.AddAPIService(hub)
*/
package websocket
