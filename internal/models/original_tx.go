// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// OriginalTx is a transaction payload as it was submitted to the network.
type OriginalTx struct {
	TxID           string          `json:"txId"`
	Timestamp      int64           `json:"timestamp"`
	Cycle          int64           `json:"cycle"`
	OriginalTxData json.RawMessage `json:"originalTxData"`
	Sign           json.RawMessage `json:"sign,omitempty"`

	TransactionType string `json:"transactionType,omitempty"`
	TxFrom          string `json:"txFrom,omitempty"`
	TxTo            string `json:"txTo,omitempty"`
}

// Validate checks the fields required to key and tally an original tx.
func (o *OriginalTx) Validate() error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil original tx", ErrInvalidRecord)
	case o.TxID == "":
		return fmt.Errorf("%w: original tx has no tx id", ErrInvalidRecord)
	case o.Cycle < 0:
		return fmt.Errorf("%w: original tx %s has negative cycle %d", ErrInvalidRecord, o.TxID, o.Cycle)
	}
	return nil
}

// IndexFields fills TransactionType, TxFrom and TxTo from originalTxData.tx.
// Missing fields are left empty.
func (o *OriginalTx) IndexFields() {
	var payload struct {
		Tx struct {
			Type json.RawMessage `json:"type"`
			From string          `json:"from"`
			To   string          `json:"to"`
		} `json:"tx"`
	}
	if err := json.Unmarshal(o.OriginalTxData, &payload); err != nil {
		return
	}
	o.TransactionType = ScalarString(payload.Tx.Type)
	o.TxFrom = payload.Tx.From
	o.TxTo = payload.Tx.To
}

// ScalarString renders a JSON scalar as text: strings lose their quotes,
// numbers and booleans keep their literal form, null and objects give "".
func ScalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	}
	return string(raw)
}
