// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package testinfra provides test doubles shared by the sync packages.
//
// # MemStore
//
// MemStore is an in-memory storage collaborator with the same write rules as
// the DuckDB store: receipts are only replaced by a strictly newer timestamp,
// OriginalTx records are write-once and projections keep the newest row.
// Every write is counted so tests can assert on write amplification:
//
//	store := testinfra.NewMemStore()
//	p := ingest.NewPipeline(store, verifier, opts)
//	...
//	if got := store.Writes(models.KindCycle); got != 1 { ... }
//
// # FakeDistributor
//
// FakeDistributor is an httptest server serving the distributor HTTP API
// from in-memory data. Tests seed records and point a distributor.Client at
// FakeDistributor.URL():
//
//	fake := testinfra.NewFakeDistributor(t)
//	fake.AddCycles(testinfra.Cycles(0, 20)...)
//	fake.AddReceipts(testinfra.Receipt("tx-1", 3, 1000))
//	client, _ := distributor.NewClient(config.DistributorConfig{URL: fake.URL()})
//
// # Envelopes
//
// NewSigner and SignEnvelope build pushed envelopes the ingestion pipeline
// accepts.
package testinfra
