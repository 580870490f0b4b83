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

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

const cycleColumns = "cycle_marker, counter, cycle_record"

// A corrected record under a known marker replaces both counter and record.
const upsertCycleQuery = `INSERT INTO cycles (` + cycleColumns + `) VALUES (?, ?, ?)
	ON CONFLICT (cycle_marker) DO UPDATE SET
		counter = EXCLUDED.counter,
		cycle_record = EXCLUDED.cycle_record`

func cycleArgs(c *models.Cycle) ([]any, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []any{c.CycleMarker, c.Counter, string(c.CycleRecord)}, nil
}

// UpsertCycle inserts a cycle or replaces the stored record under its marker.
func (db *DB) UpsertCycle(ctx context.Context, c *models.Cycle) error {
	return db.UpsertCycleBatch(ctx, []*models.Cycle{c})
}

// UpsertCycleBatch upserts cycles in one transaction.
func (db *DB) UpsertCycleBatch(ctx context.Context, cycles []*models.Cycle) error {
	if len(cycles) == 0 {
		return nil
	}
	return db.withTx(ctx, "upsert_cycles", "cycles", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, upsertCycleQuery, cycles, cycleArgs)
	})
}

func scanCycle(row interface{ Scan(...any) error }) (*models.Cycle, error) {
	var c models.Cycle
	var record string
	if err := row.Scan(&c.CycleMarker, &c.Counter, &record); err != nil {
		return nil, err
	}
	c.CycleRecord = json.RawMessage(record)
	return &c, nil
}

func (db *DB) queryCycle(ctx context.Context, op, query string, args ...any) (*models.Cycle, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanCycle(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		err = syncerr.ErrNotFound
	}
	if err = observe(op, "cycles", start, err); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCycleByMarker returns the cycle stored under marker, or ErrNotFound.
func (db *DB) GetCycleByMarker(ctx context.Context, marker string) (*models.Cycle, error) {
	return db.queryCycle(ctx, "get_cycle_by_marker",
		`SELECT `+cycleColumns+` FROM cycles WHERE cycle_marker = ?`, marker)
}

// GetCycleByCounter returns the cycle with the given counter, or ErrNotFound.
func (db *DB) GetCycleByCounter(ctx context.Context, counter int64) (*models.Cycle, error) {
	return db.queryCycle(ctx, "get_cycle_by_counter",
		`SELECT `+cycleColumns+` FROM cycles WHERE counter = ? ORDER BY cycle_marker LIMIT 1`, counter)
}

// LatestCycle returns the cycle with the highest counter, or ErrNotFound.
func (db *DB) LatestCycle(ctx context.Context) (*models.Cycle, error) {
	return db.queryCycle(ctx, "latest_cycle",
		`SELECT `+cycleColumns+` FROM cycles ORDER BY counter DESC, cycle_marker LIMIT 1`)
}

// CyclesBetween returns cycles with start <= counter <= end, ascending.
func (db *DB) CyclesBetween(ctx context.Context, start, end int64) (cycles []*models.Cycle, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	began := time.Now()
	defer func() { err = observe("cycles_between", "cycles", began, err) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM cycles WHERE counter BETWEEN ? AND ? ORDER BY counter, cycle_marker`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
