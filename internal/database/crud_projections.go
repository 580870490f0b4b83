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

const accountColumns = `account_id, cycle_number, timestamp, data, hash, account_type, is_global`

const upsertAccountQuery = `INSERT INTO accounts (` + accountColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id) DO UPDATE SET
		cycle_number = EXCLUDED.cycle_number,
		timestamp = EXCLUDED.timestamp,
		data = EXCLUDED.data,
		hash = EXCLUDED.hash,
		account_type = EXCLUDED.account_type,
		is_global = EXCLUDED.is_global
	WHERE EXCLUDED.timestamp > accounts.timestamp`

const transactionColumns = `tx_id, app_receipt_id, cycle_number, timestamp, data, original_tx_data,
	transaction_type, tx_from, tx_to`

const upsertTransactionQuery = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tx_id) DO UPDATE SET
		app_receipt_id = EXCLUDED.app_receipt_id,
		cycle_number = EXCLUDED.cycle_number,
		timestamp = EXCLUDED.timestamp,
		data = EXCLUDED.data,
		original_tx_data = EXCLUDED.original_tx_data,
		transaction_type = EXCLUDED.transaction_type,
		tx_from = EXCLUDED.tx_from,
		tx_to = EXCLUDED.tx_to
	WHERE EXCLUDED.timestamp > transactions.timestamp`

const historyStateColumns = `account_id, before_state_hash, after_state_hash, timestamp, receipt_id`

const insertHistoryStateQuery = `INSERT INTO account_history_states (` + historyStateColumns + `)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (account_id, timestamp) DO NOTHING`

func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

func accountArgs(a *models.Account) ([]any, error) {
	if a == nil || a.AccountID == "" {
		return nil, fmt.Errorf("%w: account has no id", models.ErrInvalidRecord)
	}
	return []any{
		a.AccountID, a.CycleNumber, a.Timestamp, jsonOrEmpty(a.Data), a.Hash,
		nullString(a.AccountType), a.IsGlobal,
	}, nil
}

func transactionArgs(t *models.Transaction) ([]any, error) {
	if t == nil || t.TxID == "" {
		return nil, fmt.Errorf("%w: transaction has no id", models.ErrInvalidRecord)
	}
	return []any{
		t.TxID, nullString(t.AppReceiptID), t.CycleNumber, t.Timestamp,
		jsonOrEmpty(t.Data), jsonOrEmpty(t.OriginalTxData),
		nullString(t.TransactionType), nullString(t.TxFrom), nullString(t.TxTo),
	}, nil
}

func historyStateArgs(s *models.AccountHistoryState) ([]any, error) {
	if s == nil || s.AccountID == "" {
		return nil, fmt.Errorf("%w: history state has no account id", models.ErrInvalidRecord)
	}
	return []any{s.AccountID, s.BeforeStateHash, s.AfterStateHash, s.Timestamp, s.ReceiptID}, nil
}

// UpsertAccountBatch writes accounts in one transaction; newer timestamps win.
func (db *DB) UpsertAccountBatch(ctx context.Context, accounts []*models.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	return db.withTx(ctx, "upsert_accounts", "accounts", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, upsertAccountQuery, accounts, accountArgs)
	})
}

// UpsertTransactionBatch writes transactions in one transaction; newer timestamps win.
func (db *DB) UpsertTransactionBatch(ctx context.Context, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	return db.withTx(ctx, "upsert_transactions", "transactions", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, upsertTransactionQuery, txs, transactionArgs)
	})
}

// InsertAccountHistoryStates stores history states, ignoring ones already present.
func (db *DB) InsertAccountHistoryStates(ctx context.Context, states []*models.AccountHistoryState) error {
	if len(states) == 0 {
		return nil
	}
	return db.withTx(ctx, "insert_history_states", "account_history_states", func(tx *sql.Tx) error {
		return execBatch(ctx, tx, insertHistoryStateQuery, states, historyStateArgs)
	})
}

// GetAccount returns the stored account, or ErrNotFound.
func (db *DB) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var (
		a           models.Account
		data        string
		accountType sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = ?`, accountID).
		Scan(&a.AccountID, &a.CycleNumber, &a.Timestamp, &data, &a.Hash, &accountType, &a.IsGlobal)
	if errors.Is(err, sql.ErrNoRows) {
		err = syncerr.ErrNotFound
	}
	if err = observe("get_account", "accounts", start, err); err != nil {
		return nil, err
	}
	a.Data = []byte(data)
	a.AccountType = accountType.String
	return &a, nil
}

// GetTransaction returns the stored transaction, or ErrNotFound.
func (db *DB) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var (
		t                              models.Transaction
		data, original                 string
		appReceiptID, txType, from, to sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE tx_id = ?`, txID).
		Scan(&t.TxID, &appReceiptID, &t.CycleNumber, &t.Timestamp, &data, &original, &txType, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		err = syncerr.ErrNotFound
	}
	if err = observe("get_transaction", "transactions", start, err); err != nil {
		return nil, err
	}
	t.AppReceiptID = appReceiptID.String
	t.Data = []byte(data)
	t.OriginalTxData = []byte(original)
	t.TransactionType = txType.String
	t.TxFrom = from.String
	t.TxTo = to.String
	return &t, nil
}

// CountAccountHistoryStates returns the number of stored history states.
func (db *DB) CountAccountHistoryStates(ctx context.Context) (int64, error) {
	return db.countRows(ctx, "count_history_states", "account_history_states")
}
