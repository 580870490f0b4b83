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
	"time"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// countRows counts a table. Table names come from the static kindTables map.
func (db *DB) countRows(ctx context.Context, op, table string) (n int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { err = observe(op, table, start, err) }()

	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// TotalCount returns the number of stored records of kind.
func (db *DB) TotalCount(ctx context.Context, kind models.Kind) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	return db.countRows(ctx, "total_count", t.table)
}

// Totals returns the stored record count of every kind.
func (db *DB) Totals(ctx context.Context) (models.Totals, error) {
	var totals models.Totals
	for _, kind := range []models.Kind{
		models.KindCycle, models.KindReceipt, models.KindOriginalTx, models.KindAccount, models.KindTransaction,
	} {
		n, err := db.TotalCount(ctx, kind)
		if err != nil {
			return totals, err
		}
		switch kind {
		case models.KindCycle:
			totals.Cycles = n
		case models.KindReceipt:
			totals.Receipts = n
		case models.KindOriginalTx:
			totals.OriginalTxs = n
		case models.KindAccount:
			totals.Accounts = n
		case models.KindTransaction:
			totals.Transactions = n
		}
	}
	return totals, nil
}

// CountsByCycleRange returns per-cycle record counts for cycles in
// [start, end], ascending. Cycles without records are absent.
func (db *DB) CountsByCycleRange(ctx context.Context, kind models.Kind, start, end int64) (tallies []models.Tally, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	began := time.Now()
	defer func() { err = observe("counts_by_cycle", t.table, began, err) }()

	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM %[2]s WHERE %[1]s BETWEEN ? AND ? GROUP BY %[1]s ORDER BY %[1]s`,
		t.cycleColumn, t.table)
	rows, err := db.conn.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query tallies: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var tally models.Tally
		if err := rows.Scan(&tally.Cycle, &tally.Count); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		tallies = append(tallies, tally)
	}
	return tallies, rows.Err()
}

// CountBetweenCycles returns the number of records of kind in cycles [start, end].
func (db *DB) CountBetweenCycles(ctx context.Context, kind models.Kind, start, end int64) (n int64, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	began := time.Now()
	defer func() { err = observe("count_between_cycles", t.table, began, err) }()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s BETWEEN ? AND ?`, t.table, t.cycleColumn)
	err = db.conn.QueryRowContext(ctx, query, start, end).Scan(&n)
	return n, err
}

// LastCycleOf returns the highest cycle holding a record of kind, or
// ErrNotFound when the table is empty.
func (db *DB) LastCycleOf(ctx context.Context, kind models.Kind) (cycle int64, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	began := time.Now()
	defer func() { err = observe("last_cycle_of", t.table, began, err) }()

	var last sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(%s) FROM %s`, t.cycleColumn, t.table)
	if err := db.conn.QueryRowContext(ctx, query).Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, syncerr.ErrNotFound
		}
		return 0, err
	}
	if !last.Valid {
		return 0, syncerr.ErrNotFound
	}
	return last.Int64, nil
}
