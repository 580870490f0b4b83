// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package backfill

import (
	"context"
	"fmt"

	"github.com/tomtom215/cyclesync/internal/distributor"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
)

// RepairResult lists the cycles a repair fixed and those it could not.
type RepairResult struct {
	Repaired []int64 `json:"repaired"`

	// Residual cycles ended on an empty page before the remote count was
	// reached.
	Residual []int64 `json:"residual"`
}

// RepairCycles re-fetches every mismatched cycle page by page (1-based) until
// the cumulative count reaches the remote count. A transport error aborts
// the repair and returns what was done so far.
func (f *Fetcher) RepairCycles(ctx context.Context, kind models.Kind, mismatches []models.Mismatch) (RepairResult, error) {
	var res RepairResult
	log := logging.Ctx(ctx)

	for _, m := range mismatches {
		if m.RemoteCount <= 0 {
			continue
		}

		maxPages := pagesFor(m.RemoteCount, f.pageSize) + 1
		var fetched int64
		complete := false
		for page := 1; int64(page) <= maxPages; page++ {
			raws, err := f.source.Page(ctx, kind, m.Cycle, m.Cycle, page)
			if err != nil {
				return res, fmt.Errorf("repair %s cycle %d page %d: %w", kind, m.Cycle, page, err)
			}
			if len(raws) == 0 {
				log.Warn().
					Str("kind", kind.String()).
					Int64("cycle", m.Cycle).
					Int("page", page).
					Int64("fetched", fetched).
					Int64("remote", m.RemoteCount).
					Msg("Empty page before remote count was reached")
				break
			}
			if _, err := f.apply(ctx, kind, "repair", raws); err != nil {
				return res, err
			}
			fetched += int64(len(raws))
			if fetched >= m.RemoteCount {
				complete = true
				break
			}
		}

		if complete {
			res.Repaired = append(res.Repaired, m.Cycle)
		} else {
			res.Residual = append(res.Residual, m.Cycle)
		}
	}

	if len(mismatches) > 0 {
		log.Info().
			Str("kind", kind.String()).
			Int("repaired", len(res.Repaired)).
			Int("residual", len(res.Residual)).
			Msg("Repair finished")
	}
	return res, nil
}

// SyncBetweenCycles fetches every record of kind in cycles [startCycle,
// endCycle], one chunk of cycles at a time: a count query, then one page per
// page-size records.
func (f *Fetcher) SyncBetweenCycles(ctx context.Context, kind models.Kind, startCycle, endCycle int64) (int64, error) {
	var total int64
	for start := startCycle; start <= endCycle; start += f.cycleChunkSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + f.cycleChunkSize - 1
		if end > endCycle {
			end = endCycle
		}

		count, err := f.source.Count(ctx, kind, start, end)
		if err != nil {
			return total, fmt.Errorf("count %s cycles [%d, %d]: %w", kind, start, end, err)
		}
		for page := int64(1); page <= pagesFor(count, f.pageSize); page++ {
			raws, err := f.source.Page(ctx, kind, start, end, int(page))
			if err != nil {
				return total, fmt.Errorf("fetch %s cycles [%d, %d] page %d: %w", kind, start, end, page, err)
			}
			if _, err := f.apply(ctx, kind, "between", raws); err != nil {
				return total, err
			}
			total += int64(len(raws))
		}

		logging.Ctx(ctx).Debug().
			Str("kind", kind.String()).
			Int64("start", start).
			Int64("end", end).
			Int64("count", count).
			Msg("Cycle chunk synced")
	}
	return total, nil
}

// SyncGenesis pages genesis accounts then transactions (0-based pages) until
// a short page. It does nothing when either kind already has local rows in
// the genesis cycles.
func (f *Fetcher) SyncGenesis(ctx context.Context) error {
	log := logging.Ctx(ctx)
	for _, kind := range []models.Kind{models.KindAccount, models.KindTransaction} {
		n, err := f.local.CountBetweenCycles(ctx, kind, distributor.GenesisStartCycle, distributor.GenesisEndCycle)
		if err != nil {
			return fmt.Errorf("count local genesis %s: %w", kind, err)
		}
		if n > 0 {
			log.Info().Str("kind", kind.String()).Int64("local", n).Msg("Genesis data present, skipping genesis sync")
			return nil
		}
	}

	for _, kind := range []models.Kind{models.KindAccount, models.KindTransaction} {
		remote, err := f.source.GenesisCount(ctx, kind)
		if err != nil {
			return fmt.Errorf("count genesis %s: %w", kind, err)
		}
		if remote <= 0 {
			continue
		}

		maxPages := pagesFor(remote, f.genesisBucketSize) + 1
		var fetched int64
		for page := 0; int64(page) < maxPages; page++ {
			raws, err := f.source.GenesisPage(ctx, kind, page)
			if err != nil {
				return fmt.Errorf("fetch genesis %s page %d: %w", kind, page, err)
			}
			if _, err := f.apply(ctx, kind, "genesis", raws); err != nil {
				return err
			}
			fetched += int64(len(raws))
			if int64(len(raws)) < f.genesisBucketSize {
				break
			}
		}
		log.Info().Str("kind", kind.String()).Int64("fetched", fetched).Int64("remote", remote).Msg("Genesis sync completed")
	}
	return nil
}
