// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package backfill

import (
	"context"
	"fmt"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/models"
)

// BulkOptions sets where a bulk sync starts for each kind.
type BulkOptions struct {
	FromCycle      int64
	FromReceipt    int64
	FromOriginalTx int64

	// IncludeTxData adds receipts and OriginalTx records to the walk.
	IncludeTxData bool
}

// stream tracks one kind's progress through the storage index.
type stream struct {
	kind  models.Kind
	next  int64
	total int64
	done  bool
}

// BulkSync walks every selected kind in windows of [next, min(next+bucket,
// total)). A page shorter than the bucket completes a kind. When a window
// reaches a kind's known total the remote totals are re-read and kinds whose
// total grew are re-opened.
func (f *Fetcher) BulkSync(ctx context.Context, opts BulkOptions) error {
	totals, err := f.source.Totals(ctx)
	if err != nil {
		return fmt.Errorf("read totals: %w", err)
	}

	streams := []*stream{{kind: models.KindCycle, next: opts.FromCycle, total: totals.Cycles}}
	if opts.IncludeTxData {
		streams = append(streams,
			&stream{kind: models.KindReceipt, next: opts.FromReceipt, total: totals.Receipts},
			&stream{kind: models.KindOriginalTx, next: opts.FromOriginalTx, total: totals.OriginalTxs},
		)
	}

	log := logging.Ctx(ctx)
	log.Info().
		Int64("cycles", totals.Cycles).
		Int64("receipts", totals.Receipts).
		Int64("original_txs", totals.OriginalTxs).
		Bool("include_tx_data", opts.IncludeTxData).
		Msg("Starting bulk sync")

	for !allDone(streams) {
		if err := ctx.Err(); err != nil {
			return err
		}

		reachedTotal := false
		for _, s := range streams {
			if s.done {
				continue
			}
			if s.next >= s.total {
				s.done = true
				reachedTotal = true
				continue
			}

			end := s.next + f.bucketSize
			if end > s.total {
				end = s.total
			}
			raws, err := f.source.Range(ctx, s.kind, s.next, end)
			if err != nil {
				return fmt.Errorf("fetch %s [%d, %d): %w", s.kind, s.next, end, err)
			}
			if _, err := f.apply(ctx, s.kind, "bulk", raws); err != nil {
				return err
			}

			log.Debug().
				Str("kind", s.kind.String()).
				Int64("start", s.next).
				Int64("end", end).
				Int("records", len(raws)).
				Msg("Bulk window applied")

			s.next += int64(len(raws))
			if int64(len(raws)) < f.bucketSize {
				s.done = true
			}
			if end >= s.total {
				reachedTotal = true
			}
		}

		if reachedTotal {
			if err := f.refreshTotals(ctx, streams); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Bulk sync completed")
	return nil
}

// refreshTotals re-reads the remote totals and re-opens kinds that grew.
func (f *Fetcher) refreshTotals(ctx context.Context, streams []*stream) error {
	totals, err := f.source.Totals(ctx)
	if err != nil {
		return fmt.Errorf("refresh totals: %w", err)
	}
	for _, s := range streams {
		if grown := totals.Of(s.kind); grown > s.total {
			s.total = grown
			s.done = false
		}
	}
	return nil
}

func allDone(streams []*stream) bool {
	for _, s := range streams {
		if !s.done {
			return false
		}
	}
	return true
}
