// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// TxRef is the tx object embedded in a receipt. TxID and Timestamp are parsed
// out; Raw keeps the full object for storage.
type TxRef struct {
	TxID      string
	Timestamp int64
	Raw       json.RawMessage
}

type txRefKeys struct {
	TxID           string          `json:"txId"`
	Timestamp      int64           `json:"timestamp"`
	OriginalTxData json.RawMessage `json:"originalTxData,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TxRef) UnmarshalJSON(b []byte) error {
	var keys txRefKeys
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	t.TxID = keys.TxID
	t.Timestamp = keys.Timestamp
	t.Raw = append(t.Raw[:0], b...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t TxRef) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	return json.Marshal(txRefKeys{TxID: t.TxID, Timestamp: t.Timestamp})
}

// OriginalTxData returns the originalTxData object embedded in the tx, if any.
func (t TxRef) OriginalTxData() json.RawMessage {
	var keys txRefKeys
	if len(t.Raw) == 0 || json.Unmarshal(t.Raw, &keys) != nil {
		return nil
	}
	return keys.OriginalTxData
}

// AccountCopy is one account snapshot inside a receipt's before/after states.
type AccountCopy struct {
	AccountID   string          `json:"accountId"`
	Data        json.RawMessage `json:"data"`
	Timestamp   int64           `json:"timestamp"`
	Hash        string          `json:"hash"`
	CycleNumber int64           `json:"cycleNumber,omitempty"`
	IsGlobal    bool            `json:"isGlobal"`
}

// Receipt is a finalized transaction receipt.
type Receipt struct {
	ReceiptID          string          `json:"receiptId"`
	Tx                 TxRef           `json:"tx"`
	Cycle              int64           `json:"cycle"`
	ApplyTimestamp     int64           `json:"applyTimestamp"`
	Timestamp          int64           `json:"timestamp"`
	SignedReceipt      json.RawMessage `json:"signedReceipt"`
	AfterStates        []AccountCopy   `json:"afterStates"`
	BeforeStates       []AccountCopy   `json:"beforeStates"`
	AppReceiptData     json.RawMessage `json:"appReceiptData,omitempty"`
	ExecutionShardKey  string          `json:"executionShardKey"`
	GlobalModification bool            `json:"globalModification"`
}

// ID returns the dedup key of the receipt.
func (r *Receipt) ID() string {
	if r.Tx.TxID != "" {
		return r.Tx.TxID
	}
	return r.ReceiptID
}

// Validate checks the fields required to key and tally a receipt.
func (r *Receipt) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil receipt", ErrInvalidRecord)
	case r.ID() == "":
		return fmt.Errorf("%w: receipt has no tx id", ErrInvalidRecord)
	case r.Cycle < 0:
		return fmt.Errorf("%w: receipt %s has negative cycle %d", ErrInvalidRecord, r.ID(), r.Cycle)
	}
	return nil
}

// Proposal is the part of a signed receipt that lists touched accounts.
type Proposal struct {
	AccountIDs        []string `json:"accountIDs"`
	BeforeStateHashes []string `json:"beforeStateHashes"`
	AfterStateHashes  []string `json:"afterStateHashes"`
}

// Proposal decodes signedReceipt.proposal. ok is false when the receipt has no
// signed receipt or it cannot be decoded.
func (r *Receipt) Proposal() (Proposal, bool) {
	if len(r.SignedReceipt) == 0 || string(r.SignedReceipt) == "null" {
		return Proposal{}, false
	}
	var signed struct {
		Proposal Proposal `json:"proposal"`
	}
	if err := json.Unmarshal(r.SignedReceipt, &signed); err != nil {
		return Proposal{}, false
	}
	return signed.Proposal, true
}
