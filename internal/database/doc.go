// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package database is the DuckDB-backed replica store.
//
// # Tables
//
//   - cycles: one row per cycle marker, the distributor payload kept as text
//   - receipts: one row per tx id, replaced only by a strictly newer timestamp
//   - original_txs: write-once per (tx_id, timestamp)
//   - accounts, transactions: projections derived from receipts, newest wins
//   - account_history_states: before/after hashes per (account_id, timestamp)
//
// JSON payloads are stored as TEXT so that no DuckDB extension has to be
// installed or loaded at runtime.
//
// # Writes
//
// Every batch method runs in a single transaction: either the whole batch is
// applied or none of it. Upserts are idempotent, which is what makes replaying
// a page from the distributor safe.
//
// # Usage
//
//	db, err := database.New(&cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	tallies, err := db.CountsByCycleRange(ctx, models.KindReceipt, 100, 110)
package database
