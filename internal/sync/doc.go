// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package sync owns the synchronization state of the replica.

Key Components:

  - Cursor: the single owner of SyncState. Rounds begin with TryBeginRound
    and end with CompleteRound or AbortRound; the last synced cycle only moves
    forward and only when a round succeeded.
  - Manager: the event-driven round worker. Every cycle the ingestion
    pipeline or backfill observes is passed to ObserveCycle, which never
    blocks. When the observed cycle is far enough ahead of the cursor the
    worker reconciles per-cycle tallies and repairs the cycles that differ.
  - Bootstrap: the startup sequence choosing between a full bulk sync, a
    resumed bulk sync and a targeted catch-up.

Round Semantics:

With last synced cycle L, interval I and safety margin M, a round starts once
a cycle C >= L+I has been observed and covers cycles [L+1, L+I-M]. The last M
cycles are left for the next round because their receipts may not be final.

	L=100, I=10, M=5: C=109 starts nothing, C=110 reconciles [101, 105]

Residual cycles, those a repair could not complete, are re-checked at the
start of later rounds up to max_repair_attempts times.

Usage Example:

	cursor := sync.NewCursor(0, cfg.Sync.Interval, cfg.Sync.SafetyMargin)
	mgr := sync.NewManager(cursor, sync.Deps{...}, cfg.Sync)
	pipeline.SetCycleObserver(mgr)
	if err := mgr.Bootstrap(ctx); err != nil {
	    return err
	}
	mgr.Start(ctx)
	defer mgr.Stop()
*/
package sync
