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

const receiptColumns = `receipt_id, tx, cycle, apply_timestamp, timestamp, signed_receipt,
	after_states, before_states, app_receipt_data, execution_shard_key, global_modification`

// A stored receipt is only replaced by a strictly newer one.
const upsertReceiptQuery = `INSERT INTO receipts (` + receiptColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (receipt_id) DO UPDATE SET
		tx = EXCLUDED.tx,
		cycle = EXCLUDED.cycle,
		apply_timestamp = EXCLUDED.apply_timestamp,
		timestamp = EXCLUDED.timestamp,
		signed_receipt = EXCLUDED.signed_receipt,
		after_states = EXCLUDED.after_states,
		before_states = EXCLUDED.before_states,
		app_receipt_data = EXCLUDED.app_receipt_data,
		execution_shard_key = EXCLUDED.execution_shard_key,
		global_modification = EXCLUDED.global_modification
	WHERE EXCLUDED.timestamp > receipts.timestamp`

func receiptArgs(r *models.Receipt) ([]any, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	tx, err := json.Marshal(r.Tx)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt tx: %w", err)
	}
	after, err := marshalText(r.AfterStates)
	if err != nil {
		return nil, err
	}
	var before sql.NullString
	if r.BeforeStates != nil {
		if before, err = marshalText(r.BeforeStates); err != nil {
			return nil, err
		}
	}
	return []any{
		r.ID(), string(tx), r.Cycle, r.ApplyTimestamp, r.Timestamp, rawText(r.SignedReceipt),
		after, before, rawText(r.AppReceiptData), r.ExecutionShardKey, r.GlobalModification,
	}, nil
}

// UpsertReceiptBatch writes receipts in one transaction.
func (db *DB) UpsertReceiptBatch(ctx context.Context, receipts []*models.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	return db.withTx(ctx, "upsert_receipts", "receipts", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, upsertReceiptQuery, receipts, receiptArgs)
	})
}

// GetReceiptByID returns the receipt keyed by id, or ErrNotFound.
func (db *DB) GetReceiptByID(ctx context.Context, id string) (*models.Receipt, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	r, err := scanReceipt(db.conn.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = syncerr.ErrNotFound
	}
	if err = observe("get_receipt", "receipts", start, err); err != nil {
		return nil, err
	}
	return r, nil
}

func scanReceipt(row interface{ Scan(...any) error }) (*models.Receipt, error) {
	var (
		r                                  models.Receipt
		tx                                 string
		signed, after, before, app, shard sql.NullString
	)
	err := row.Scan(&r.ReceiptID, &tx, &r.Cycle, &r.ApplyTimestamp, &r.Timestamp, &signed,
		&after, &before, &app, &shard, &r.GlobalModification)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tx), &r.Tx); err != nil {
		return nil, fmt.Errorf("decode receipt tx: %w", err)
	}
	if after.Valid {
		if err := json.Unmarshal([]byte(after.String), &r.AfterStates); err != nil {
			return nil, fmt.Errorf("decode after states: %w", err)
		}
	}
	if before.Valid {
		if err := json.Unmarshal([]byte(before.String), &r.BeforeStates); err != nil {
			return nil, fmt.Errorf("decode before states: %w", err)
		}
	}
	r.SignedReceipt = textRaw(signed)
	r.AppReceiptData = textRaw(app)
	r.ExecutionShardKey = shard.String
	return &r, nil
}
