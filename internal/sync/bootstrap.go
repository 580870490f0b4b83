// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/cyclesync/internal/backfill"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// replayKinds is the audit log replay order. Cycles go first so receipts
// replayed afterwards find their cycle stored.
var replayKinds = []models.Kind{models.KindCycle, models.KindReceipt, models.KindOriginalTx}

// Bootstrap brings the local store level with the distributor before the
// round worker starts, then resumes the cursor from the newest stored cycle.
//
// An empty store is filled by genesis and bulk sync. A store whose recent
// history still matches the distributor is resumed by bulk sync from its
// own totals; otherwise the divergent tail is re-fetched by cycle.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)

	local, err := m.deps.Store.Totals(ctx)
	if err != nil {
		return fmt.Errorf("read local totals: %w", err)
	}

	remote, remoteErr := m.deps.Remote.Totals(ctx)
	switch {
	case remoteErr != nil && local.IsEmpty():
		return fmt.Errorf("%w: %v", syncerr.ErrBootstrapUnreachable, remoteErr)
	case remoteErr != nil:
		log.Warn().Err(remoteErr).Msg("Distributor unreachable, starting from local data")
	case local.IsEmpty():
		if err := m.initialSync(ctx); err != nil {
			return err
		}
	default:
		err := m.resumeSync(ctx, local, remote)
		switch {
		case err == nil:
		case syncerr.IsTransport(err) || syncerr.IsConsistency(err):
			// Local data is usable; drift rounds close the gap later.
			log.Error().Err(err).Msg("Catch-up failed, starting from local data")
		default:
			return err
		}
	}

	if m.replayOnStart {
		if err := m.replayAuditLog(ctx); err != nil {
			return err
		}
	}

	last, err := m.latestCounter(ctx)
	if err != nil {
		return err
	}
	if err := m.cursor.Reset(last); err != nil {
		return err
	}
	metrics.SyncLastCycle.Set(float64(last))
	log.Info().Int64("last_synced_cycle", last).Msg("Bootstrap completed")
	return nil
}

// initialSync fills an empty store from genesis onwards.
func (m *Manager) initialSync(ctx context.Context) error {
	logging.Ctx(ctx).Info().Msg("Local store empty, running initial sync")

	m.cursor.SuppressAutoSync()
	defer m.cursor.ResumeAutoSync()

	if err := m.deps.Fetcher.SyncGenesis(ctx); err != nil {
		return fmt.Errorf("genesis sync: %w", err)
	}
	if err := m.deps.Fetcher.BulkSync(ctx, backfill.BulkOptions{IncludeTxData: true}); err != nil {
		return fmt.Errorf("initial bulk sync: %w", err)
	}
	return nil
}

// resumeSync verifies the stored tail against the distributor and either
// continues the bulk walk or re-fetches from the last matching cycle.
func (m *Manager) resumeSync(ctx context.Context, local, remote models.Totals) error {
	log := logging.Ctx(ctx)

	lastCounter, err := m.latestCounter(ctx)
	if err != nil {
		return err
	}
	cycles, err := m.deps.Engine.VerifyCycleHistory(ctx, lastCounter)
	if err != nil {
		return fmt.Errorf("verify cycle history: %w", err)
	}

	matched := true
	resumeFrom := map[models.Kind]int64{}
	for _, kind := range models.TxKinds {
		last, err := m.deps.Store.LastCycleOf(ctx, kind)
		if errors.Is(err, syncerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read last %s cycle: %w", kind, err)
		}
		res, err := m.deps.Engine.VerifyRecentHistory(ctx, kind, last)
		if err != nil {
			return fmt.Errorf("verify %s history: %w", kind, err)
		}
		resumeFrom[kind] = res.MatchedCycle
		if !res.Success {
			matched = false
		}
	}

	if cycles.Success && matched {
		log.Info().
			Int64("cycles", local.Cycles).
			Int64("receipts", local.Receipts).
			Int64("original_txs", local.OriginalTxs).
			Msg("Stored history matches distributor, resuming bulk sync")

		m.cursor.SuppressAutoSync()
		defer m.cursor.ResumeAutoSync()
		return m.deps.Fetcher.BulkSync(ctx, backfill.BulkOptions{
			FromCycle:      local.Cycles,
			FromReceipt:    local.Receipts,
			FromOriginalTx: local.OriginalTxs,
			IncludeTxData:  m.cfg.PatchData || local.Receipts == 0 || local.OriginalTxs == 0,
		})
	}

	log.Warn().
		Bool("cycles_match", cycles.Success).
		Int64("matched_cycle", cycles.MatchedCycle).
		Msg("Stored history diverges from distributor, catching up by cycle")

	if !cycles.Success {
		if err := m.deps.Fetcher.BulkSync(ctx, backfill.BulkOptions{FromCycle: cycles.MatchedCycle}); err != nil {
			return fmt.Errorf("cycle catch-up: %w", err)
		}
	}

	from := cycles.MatchedCycle
	for _, c := range resumeFrom {
		if c < from {
			from = c
		}
	}
	for _, kind := range models.TxKinds {
		n, err := m.deps.Fetcher.SyncBetweenCycles(ctx, kind, from, remote.Cycles)
		if err != nil {
			return fmt.Errorf("%s catch-up from cycle %d: %w", kind, from, err)
		}
		log.Info().Str("kind", kind.String()).Int64("from", from).Int64("records", n).Msg("Caught up by cycle")
	}
	return nil
}

// replayAuditLog re-applies retained envelope lines. Lines that no longer
// decode are logged and skipped; storage errors stop the replay.
func (m *Manager) replayAuditLog(ctx context.Context) error {
	if m.deps.AuditLog == nil || m.deps.Replayer == nil {
		return nil
	}
	for _, kind := range replayKinds {
		skipped := 0
		n, err := m.deps.AuditLog.Replay(ctx, kind, func(ctx context.Context, line []byte) error {
			err := m.deps.Replayer.ReplayLine(ctx, kind, line)
			if err == nil || syncerr.IsStorage(err) {
				return err
			}
			skipped++
			logging.Ctx(ctx).Warn().Err(err).Str("kind", kind.String()).Msg("Skipping unreplayable audit line")
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay %s audit log: %w", kind, err)
		}
		logging.Ctx(ctx).Info().Str("kind", kind.String()).Int("lines", n).Int("skipped", skipped).Msg("Replayed audit log")
	}
	return nil
}

// latestCounter returns the newest stored cycle counter, 0 for an empty store.
func (m *Manager) latestCounter(ctx context.Context) (int64, error) {
	latest, err := m.deps.Store.LatestCycle(ctx)
	if errors.Is(err, syncerr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read latest cycle: %w", err)
	}
	return latest.Counter, nil
}
