// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package backfill pulls records from the distributor HTTP API and hands
// them to the ingestion pipeline's trusted path.
//
// Four strategies are provided:
//
//   - BulkSync walks storage indexes in fixed buckets, used on first start
//     and after a restart whose recent history still matches.
//   - SyncGenesis pages the accounts and transactions of cycles 0..5.
//   - RepairCycles re-fetches the cycles a tally comparison flagged.
//   - SyncBetweenCycles catches up every record between two cycles.
package backfill

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/ingest"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
)

// Defaults used when the sync configuration leaves a size unset.
const (
	DefaultBucketSize        = 1000
	DefaultPageSize          = 100
	DefaultGenesisBucketSize = 10000
	DefaultCycleChunkSize    = 100
)

// Source is the distributor API the fetcher reads.
type Source interface {
	Totals(ctx context.Context) (models.Totals, error)
	Range(ctx context.Context, kind models.Kind, start, end int64) ([]json.RawMessage, error)
	Count(ctx context.Context, kind models.Kind, startCycle, endCycle int64) (int64, error)
	Page(ctx context.Context, kind models.Kind, startCycle, endCycle int64, page int) ([]json.RawMessage, error)
	GenesisCount(ctx context.Context, kind models.Kind) (int64, error)
	GenesisPage(ctx context.Context, kind models.Kind, page int) ([]json.RawMessage, error)
}

// Sink is the trusted apply path of the ingestion pipeline.
type Sink interface {
	ApplyCycles(ctx context.Context, cycles []*models.Cycle) (ingest.ApplyResult, error)
	ApplyReceipts(ctx context.Context, receipts []*models.Receipt) (ingest.ApplyResult, error)
	ApplyOriginalTxs(ctx context.Context, txs []*models.OriginalTx) (ingest.ApplyResult, error)
	ApplyAccounts(ctx context.Context, accounts []*models.Account) (ingest.ApplyResult, error)
	ApplyTransactions(ctx context.Context, txs []*models.Transaction) (ingest.ApplyResult, error)
}

// Counter reports local row counts.
type Counter interface {
	CountBetweenCycles(ctx context.Context, kind models.Kind, start, end int64) (int64, error)
}

// Fetcher runs the backfill strategies.
type Fetcher struct {
	source Source
	sink   Sink
	local  Counter

	bucketSize        int64
	pageSize          int64
	genesisBucketSize int64
	cycleChunkSize    int64
}

// NewFetcher creates a fetcher sized from cfg.
func NewFetcher(source Source, sink Sink, local Counter, cfg config.SyncConfig) *Fetcher {
	return &Fetcher{
		source:            source,
		sink:              sink,
		local:             local,
		bucketSize:        orDefault(cfg.BucketSize, DefaultBucketSize),
		pageSize:          orDefault(cfg.PageSize, DefaultPageSize),
		genesisBucketSize: orDefault(cfg.GenesisBucketSize, DefaultGenesisBucketSize),
		cycleChunkSize:    orDefault(cfg.CycleChunkSize, DefaultCycleChunkSize),
	}
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

// apply decodes raw records of kind and writes them through the sink.
func (f *Fetcher) apply(ctx context.Context, kind models.Kind, mode string, raws []json.RawMessage) (ingest.ApplyResult, error) {
	if len(raws) == 0 {
		return ingest.ApplyResult{}, nil
	}

	var (
		res ingest.ApplyResult
		err error
	)
	switch kind {
	case models.KindCycle:
		res, err = f.sink.ApplyCycles(ctx, ingest.DecodeCyclePayloads(raws))
	case models.KindReceipt:
		res, err = f.sink.ApplyReceipts(ctx, ingest.DecodeReceipts(raws))
	case models.KindOriginalTx:
		res, err = f.sink.ApplyOriginalTxs(ctx, ingest.DecodeOriginalTxs(raws))
	case models.KindAccount:
		res, err = f.sink.ApplyAccounts(ctx, ingest.DecodeAccounts(raws))
	case models.KindTransaction:
		res, err = f.sink.ApplyTransactions(ctx, ingest.DecodeTransactions(raws))
	default:
		return res, fmt.Errorf("backfill: unsupported kind %q", kind)
	}
	if err != nil {
		return res, fmt.Errorf("apply %d %s records: %w", len(raws), kind, err)
	}
	metrics.BackfillRecords.WithLabelValues(kind.String(), mode).Add(float64(len(raws)))
	return res, nil
}

func pagesFor(count, size int64) int64 {
	if count <= 0 {
		return 0
	}
	return (count + size - 1) / size
}
