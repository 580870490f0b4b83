// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package testinfra

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/models"
)

func errUnknownKind(kind models.Kind) error {
	return fmt.Errorf("unknown kind %q", kind)
}

// Marker returns the marker used for counter by the fixtures.
func Marker(counter int64) string {
	return fmt.Sprintf("marker-%04d", counter)
}

// CyclePayload returns a bare /cycleinfo payload. Each cycle starts one
// minute after the previous one.
func CyclePayload(counter int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"counter":%d,"marker":%q,"start":%d,"duration":60,"active":10}`,
		counter, Marker(counter), 1700000000+counter*60))
}

// Cycle returns the stored form of CyclePayload(counter).
func Cycle(counter int64) *models.Cycle {
	return &models.Cycle{CycleMarker: Marker(counter), Counter: counter, CycleRecord: CyclePayload(counter)}
}

// Cycles returns cycles with counters in [from, to).
func Cycles(from, to int64) []*models.Cycle {
	out := make([]*models.Cycle, 0, to-from)
	for c := from; c < to; c++ {
		out = append(out, Cycle(c))
	}
	return out
}

// PushedCycle returns the envelope form {cycleMarker, counter, cycleRecord}.
func PushedCycle(c *models.Cycle) json.RawMessage {
	raw, _ := json.Marshal(c)
	return raw
}

// Receipt returns a receipt touching one account, with app receipt data and
// a proposal for history states.
func Receipt(id string, cycle, ts int64) *models.Receipt {
	account := "acc-" + id
	raw := fmt.Sprintf(`{
		"receiptId": %[1]q,
		"tx": {"txId": %[1]q, "timestamp": %[3]d, "originalTxData": {"tx": {"type": "transfer", "from": "a", "to": "b"}}},
		"cycle": %[2]d,
		"applyTimestamp": %[3]d,
		"timestamp": %[3]d,
		"signedReceipt": {"proposal": {"accountIDs": [%[4]q], "beforeStateHashes": ["h0"], "afterStateHashes": ["h1"]}},
		"afterStates": [{"accountId": %[4]q, "data": {"accountType": 1, "balance": "10"}, "timestamp": %[3]d, "hash": "h1", "isGlobal": false}],
		"beforeStates": [{"accountId": %[4]q, "data": {"accountType": 1, "balance": "5"}, "timestamp": %[5]d, "hash": "h0", "isGlobal": false}],
		"appReceiptData": {"appReceiptId": %[1]q, "transactionType": "transfer", "from": "a", "to": "b"},
		"executionShardKey": "shard-0",
		"globalModification": false
	}`, id, cycle, ts, account, ts-1)
	var r models.Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		panic(err)
	}
	return &r
}

// OriginalTx returns an OriginalTx record.
func OriginalTx(id string, cycle, ts int64) *models.OriginalTx {
	return &models.OriginalTx{
		TxID:           id,
		Timestamp:      ts,
		Cycle:          cycle,
		OriginalTxData: json.RawMessage(`{"tx":{"type":"transfer","from":"a","to":"b"}}`),
	}
}

// Account returns a genesis account.
func Account(id string, cycle, ts int64) *models.Account {
	return &models.Account{
		AccountID:   id,
		CycleNumber: cycle,
		Timestamp:   ts,
		Data:        json.RawMessage(`{"balance":"100"}`),
		Hash:        "hash-" + id,
	}
}

// Transaction returns a genesis transaction.
func Transaction(id string, cycle, ts int64) *models.Transaction {
	return &models.Transaction{
		TxID:           id,
		CycleNumber:    cycle,
		Timestamp:      ts,
		Data:           json.RawMessage(`{}`),
		OriginalTxData: json.RawMessage(`{}`),
	}
}

func mustRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
