// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the replica tables and indexes.
// Indexes are only placed on columns no upsert rewrites.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

var tableCreationQueries = []string{
	`CREATE TABLE IF NOT EXISTS cycles (
		cycle_marker TEXT PRIMARY KEY,
		counter BIGINT NOT NULL,
		cycle_record TEXT NOT NULL
	)`,
	// counter is rewritten by the cycle upsert; DuckDB turns updates of
	// indexed columns into delete+insert, which trips the primary key check.
	`DROP INDEX IF EXISTS idx_cycles_counter`,

	`CREATE TABLE IF NOT EXISTS receipts (
		receipt_id TEXT PRIMARY KEY,
		tx TEXT NOT NULL,
		cycle BIGINT NOT NULL,
		apply_timestamp BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		signed_receipt TEXT,
		after_states TEXT,
		before_states TEXT,
		app_receipt_data TEXT,
		execution_shard_key TEXT,
		global_modification BOOLEAN NOT NULL DEFAULT false
	)`,

	`CREATE TABLE IF NOT EXISTS original_txs (
		tx_id TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		cycle BIGINT NOT NULL,
		original_tx_data TEXT NOT NULL,
		sign TEXT,
		transaction_type TEXT,
		tx_from TEXT,
		tx_to TEXT,
		PRIMARY KEY (tx_id, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_original_txs_cycle ON original_txs(cycle)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		account_id TEXT PRIMARY KEY,
		cycle_number BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		data TEXT NOT NULL,
		hash TEXT NOT NULL,
		account_type TEXT,
		is_global BOOLEAN NOT NULL DEFAULT false
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		tx_id TEXT PRIMARY KEY,
		app_receipt_id TEXT,
		cycle_number BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		data TEXT NOT NULL,
		original_tx_data TEXT NOT NULL,
		transaction_type TEXT,
		tx_from TEXT,
		tx_to TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS account_history_states (
		account_id TEXT NOT NULL,
		before_state_hash TEXT NOT NULL,
		after_state_hash TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		receipt_id TEXT NOT NULL,
		PRIMARY KEY (account_id, timestamp)
	)`,
}
