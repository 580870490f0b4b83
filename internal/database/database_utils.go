// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// kindTable maps a record kind to its table and cycle column.
type kindTable struct {
	table       string
	cycleColumn string
}

var kindTables = map[models.Kind]kindTable{
	models.KindCycle:       {table: "cycles", cycleColumn: "counter"},
	models.KindReceipt:     {table: "receipts", cycleColumn: "cycle"},
	models.KindOriginalTx:  {table: "original_txs", cycleColumn: "cycle"},
	models.KindAccount:     {table: "accounts", cycleColumn: "cycle_number"},
	models.KindTransaction: {table: "transactions", cycleColumn: "cycle_number"},
}

func tableFor(kind models.Kind) (kindTable, error) {
	t, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("no table for kind %q", kind)
	}
	return t, nil
}

// ensureContext creates a context with 30-second timeout if none provided
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}

	return ctx, func() {}
}

// Checkpoint forces a WAL checkpoint
func (db *DB) Checkpoint(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// withTx runs fn inside one transaction and records the query metrics.
// Failures come back as StorageError.
func (db *DB) withTx(ctx context.Context, op, table string, fn func(tx *sql.Tx) error) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery(op, table, time.Since(start), err)
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Storage(op, fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error().
				Err(rbErr).
				AnErr("original_error", err).
				Msg("Transaction rollback failed")
		}
		return syncerr.Storage(op, err)
	}

	if err = tx.Commit(); err != nil {
		return syncerr.Storage(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// execBatch prepares query once and executes it for every row.
func execBatch[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(T) ([]any, error)) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer closeQuietly(stmt)

	for _, row := range rows {
		a, err := args(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	return nil
}

// observe records metrics for a read and wraps failures.
func observe(op, table string, start time.Time, err error) error {
	if errors.Is(err, syncerr.ErrNotFound) {
		metrics.RecordDBQuery(op, table, time.Since(start), nil)
		return err
	}
	metrics.RecordDBQuery(op, table, time.Since(start), err)
	if err != nil {
		return syncerr.Storage(op, err)
	}
	return nil
}

// rawText turns a raw JSON value into a nullable column value.
func rawText(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// textRaw is the inverse of rawText.
func textRaw(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

// marshalText encodes v as a nullable JSON column.
func marshalText(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal column: %w", err)
	}
	return rawText(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// closeQuietly closes a resource and explicitly ignores any error
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
