// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package ingest

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// decodeAll unmarshals every raw record into a T. Records that do not decode
// are logged as consistency errors and skipped.
func decodeAll[T any](kind models.Kind, raws []json.RawMessage) []*T {
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			skipInvalid(kind, "", syncerr.Consistency(kind.String(), "", "undecodable record", err))
			continue
		}
		out = append(out, v)
	}
	return out
}

func skipInvalid(kind models.Kind, key string, err error) {
	metrics.RecordsSkipped.WithLabelValues(kind.String(), "invalid").Inc()
	logging.Warn().Err(err).Str("kind", kind.String()).Str("key", key).Msg("Skipping invalid record")
}

// DecodeReceipts decodes raw receipts, skipping undecodable ones.
func DecodeReceipts(raws []json.RawMessage) []*models.Receipt {
	return decodeAll[models.Receipt](models.KindReceipt, raws)
}

// DecodeOriginalTxs decodes raw OriginalTx records, skipping undecodable ones.
func DecodeOriginalTxs(raws []json.RawMessage) []*models.OriginalTx {
	return decodeAll[models.OriginalTx](models.KindOriginalTx, raws)
}

// DecodeAccounts decodes raw genesis accounts, skipping undecodable ones.
func DecodeAccounts(raws []json.RawMessage) []*models.Account {
	return decodeAll[models.Account](models.KindAccount, raws)
}

// DecodeTransactions decodes raw genesis transactions, skipping undecodable ones.
func DecodeTransactions(raws []json.RawMessage) []*models.Transaction {
	return decodeAll[models.Transaction](models.KindTransaction, raws)
}

// DecodeCyclePayloads wraps bare /cycleinfo payloads into cycles, skipping
// invalid ones.
func DecodeCyclePayloads(raws []json.RawMessage) []*models.Cycle {
	out := make([]*models.Cycle, 0, len(raws))
	for _, raw := range raws {
		c, err := models.CycleFromPayload(raw)
		if err != nil {
			skipInvalid(models.KindCycle, "", syncerr.Consistency(models.KindCycle.String(), "", "invalid cycle payload", err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// pushedCycle is the wire form of a cycle inside a pushed envelope.
type pushedCycle struct {
	CycleMarker string          `json:"cycleMarker"`
	Counter     *int64          `json:"counter"`
	CycleRecord json.RawMessage `json:"cycleRecord"`
}

// decodePushedCycle reads {cycleMarker, counter, cycleRecord}. The counter
// inside the record takes precedence over the outer one.
func decodePushedCycle(raw json.RawMessage) (*models.Cycle, error) {
	var pc pushedCycle
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, syncerr.Consistency(models.KindCycle.String(), "", "undecodable cycle", err)
	}
	c := &models.Cycle{CycleMarker: pc.CycleMarker, Counter: -1, CycleRecord: pc.CycleRecord}
	if pc.Counter != nil {
		c.Counter = *pc.Counter
	}
	var inner struct {
		Counter *int64 `json:"counter"`
	}
	if json.Unmarshal(pc.CycleRecord, &inner) == nil && inner.Counter != nil {
		c.Counter = *inner.Counter
	}
	if err := c.Validate(); err != nil {
		return nil, syncerr.Consistency(models.KindCycle.String(), pc.CycleMarker, "invalid cycle", err)
	}
	return c, nil
}
