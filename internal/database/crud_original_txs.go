// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

const originalTxColumns = `tx_id, timestamp, cycle, original_tx_data, sign, transaction_type, tx_from, tx_to`

// OriginalTx rows are write-once per (tx_id, timestamp).
const insertOriginalTxQuery = `INSERT INTO original_txs (` + originalTxColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tx_id, timestamp) DO NOTHING`

func originalTxArgs(o *models.OriginalTx) ([]any, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	data := string(o.OriginalTxData)
	if data == "" {
		data = "{}"
	}
	return []any{
		o.TxID, o.Timestamp, o.Cycle, data, rawText(o.Sign),
		nullString(o.TransactionType), nullString(o.TxFrom), nullString(o.TxTo),
	}, nil
}

// UpsertOriginalTxBatch writes OriginalTx records in one transaction.
func (db *DB) UpsertOriginalTxBatch(ctx context.Context, txs []*models.OriginalTx) error {
	if len(txs) == 0 {
		return nil
	}
	return db.withTx(ctx, "upsert_original_txs", "original_txs", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, insertOriginalTxQuery, txs, originalTxArgs)
	})
}

// GetOriginalTx returns the newest OriginalTx stored for txID, or ErrNotFound.
func (db *DB) GetOriginalTx(ctx context.Context, txID string) (*models.OriginalTx, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var (
		o                       models.OriginalTx
		data                    string
		sign, txType, from, to sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+originalTxColumns+` FROM original_txs WHERE tx_id = ? ORDER BY timestamp DESC LIMIT 1`, txID).
		Scan(&o.TxID, &o.Timestamp, &o.Cycle, &data, &sign, &txType, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		err = syncerr.ErrNotFound
	}
	if err = observe("get_original_tx", "original_txs", start, err); err != nil {
		return nil, err
	}
	o.OriginalTxData = []byte(data)
	o.Sign = textRaw(sign)
	o.TransactionType = txType.String
	o.TxFrom = from.String
	o.TxTo = to.String
	return &o, nil
}
