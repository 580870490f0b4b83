// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Account is the latest known state of an account.
type Account struct {
	AccountID   string          `json:"accountId"`
	CycleNumber int64           `json:"cycleNumber"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
	Hash        string          `json:"hash"`
	AccountType string          `json:"accountType,omitempty"`
	IsGlobal    bool            `json:"isGlobal"`
}

// AccountFromCopy builds an Account from a receipt state snapshot.
func AccountFromCopy(c AccountCopy, cycle int64) *Account {
	var data struct {
		AccountType json.RawMessage `json:"accountType"`
	}
	_ = json.Unmarshal(c.Data, &data)
	return &Account{
		AccountID:   c.AccountID,
		CycleNumber: cycle,
		Timestamp:   c.Timestamp,
		Data:        c.Data,
		Hash:        c.Hash,
		AccountType: ScalarString(data.AccountType),
		IsGlobal:    c.IsGlobal,
	}
}

// Transaction is the application-level view of an executed transaction.
type Transaction struct {
	TxID            string          `json:"txId"`
	AppReceiptID    string          `json:"appReceiptId,omitempty"`
	CycleNumber     int64           `json:"cycleNumber"`
	Timestamp       int64           `json:"timestamp"`
	Data            json.RawMessage `json:"data"`
	OriginalTxData  json.RawMessage `json:"originalTxData"`
	TransactionType string          `json:"transactionType,omitempty"`
	TxFrom          string          `json:"txFrom,omitempty"`
	TxTo            string          `json:"txTo,omitempty"`
}

// TransactionFromReceipt derives a Transaction from a receipt's appReceiptData.
// It returns nil when the receipt carries no application receipt, and an
// ErrInvalidRecord error when appReceiptData is not a decodable object.
func TransactionFromReceipt(r *Receipt) (*Transaction, error) {
	if len(r.AppReceiptData) == 0 || string(r.AppReceiptData) == "null" {
		return nil, nil
	}
	var app struct {
		AppReceiptID    string          `json:"appReceiptId"`
		TransactionType json.RawMessage `json:"transactionType"`
		From            string          `json:"from"`
		To              string          `json:"to"`
	}
	if err := json.Unmarshal(r.AppReceiptData, &app); err != nil {
		return nil, fmt.Errorf("%w: receipt %s appReceiptData: %v", ErrInvalidRecord, r.ID(), err)
	}

	original := r.Tx.OriginalTxData()
	if len(original) == 0 {
		original = json.RawMessage(`{}`)
	}
	return &Transaction{
		TxID:            r.ID(),
		AppReceiptID:    app.AppReceiptID,
		CycleNumber:     r.Cycle,
		Timestamp:       r.Tx.Timestamp,
		Data:            r.AppReceiptData,
		OriginalTxData:  original,
		TransactionType: ScalarString(app.TransactionType),
		TxFrom:          app.From,
		TxTo:            app.To,
	}, nil
}

// AccountHistoryState records the state hashes of one account touched by a receipt.
type AccountHistoryState struct {
	AccountID       string `json:"accountId"`
	BeforeStateHash string `json:"beforeStateHash"`
	AfterStateHash  string `json:"afterStateHash"`
	Timestamp       int64  `json:"timestamp"`
	ReceiptID       string `json:"receiptId"`
}

// HistoryStatesFromReceipt derives history states from the signed proposal.
// Receipts with a global modification produce none.
func HistoryStatesFromReceipt(r *Receipt) []*AccountHistoryState {
	if r.GlobalModification {
		return nil
	}
	p, ok := r.Proposal()
	if !ok {
		return nil
	}
	states := make([]*AccountHistoryState, 0, len(p.AccountIDs))
	for i, id := range p.AccountIDs {
		s := &AccountHistoryState{
			AccountID: id,
			Timestamp: r.Timestamp,
			ReceiptID: r.ID(),
		}
		if i < len(p.BeforeStateHashes) {
			s.BeforeStateHash = p.BeforeStateHashes[i]
		}
		if i < len(p.AfterStateHashes) {
			s.AfterStateHash = p.AfterStateHashes[i]
		}
		states = append(states, s)
	}
	return states
}
