// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import "fmt"

// Kind identifies a record stream or projection.
type Kind string

const (
	KindCycle       Kind = "cycle"
	KindReceipt     Kind = "receipt"
	KindOriginalTx  Kind = "originalTx"
	KindAccount     Kind = "account"
	KindTransaction Kind = "transaction"
)

// TxKinds are the record kinds reconciled by per-cycle tallies.
var TxKinds = []Kind{KindReceipt, KindOriginalTx}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCycle, KindReceipt, KindOriginalTx, KindAccount, KindTransaction:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// Tally is the number of records of one kind stored for one cycle.
type Tally struct {
	Cycle int64 `json:"cycle"`
	Count int64 `json:"count"`
}

// Mismatch is a cycle whose remote tally differs from the local one.
// LocalCount is nil when the local side has no entry for the cycle.
type Mismatch struct {
	Cycle       int64  `json:"cycle"`
	RemoteCount int64  `json:"remoteCount"`
	LocalCount  *int64 `json:"localCount,omitempty"`
}

// Local returns the local count, treating an absent entry as zero.
func (m Mismatch) Local() int64 {
	if m.LocalCount == nil {
		return 0
	}
	return *m.LocalCount
}

// Totals are the record counts reported by /totalData or computed locally.
type Totals struct {
	Cycles       int64 `json:"totalCycles"`
	Receipts     int64 `json:"totalReceipts"`
	OriginalTxs  int64 `json:"totalOriginalTxs"`
	Accounts     int64 `json:"totalAccounts"`
	Transactions int64 `json:"totalTransactions"`
}

// Of returns the total for a kind.
func (t Totals) Of(kind Kind) int64 {
	switch kind {
	case KindCycle:
		return t.Cycles
	case KindReceipt:
		return t.Receipts
	case KindOriginalTx:
		return t.OriginalTxs
	case KindAccount:
		return t.Accounts
	case KindTransaction:
		return t.Transactions
	}
	return 0
}

// IsEmpty reports whether no cycle, receipt or original tx is counted.
func (t Totals) IsEmpty() bool {
	return t.Cycles == 0 && t.Receipts == 0 && t.OriginalTxs == 0
}

// SyncState is the Sync Cursor state. It is only mutated by the cursor's
// transition functions.
type SyncState struct {
	LastSyncedCycle    int64 `json:"last_synced_cycle"`
	Syncing            bool  `json:"syncing"`
	AutoSyncSuppressed bool  `json:"auto_sync_suppressed"`
}
