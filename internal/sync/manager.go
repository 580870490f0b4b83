// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/tomtom215/cyclesync/internal/backfill"
	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/reconcile"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// DefaultMaxRepairAttempts bounds how often a residual cycle is re-checked.
const DefaultMaxRepairAttempts = 3

// Remote reads the distributor totals.
type Remote interface {
	Totals(ctx context.Context) (models.Totals, error)
}

// Store is the local state the manager reads.
type Store interface {
	Totals(ctx context.Context) (models.Totals, error)
	LatestCycle(ctx context.Context) (*models.Cycle, error)
	LastCycleOf(ctx context.Context, kind models.Kind) (int64, error)
	GetCycleByCounter(ctx context.Context, counter int64) (*models.Cycle, error)
}

// Engine compares remote and local state.
type Engine interface {
	CompareTallies(ctx context.Context, kind models.Kind, start, end int64) ([]models.Mismatch, error)
	VerifyRecentHistory(ctx context.Context, kind models.Kind, lastStoredCycle int64) (reconcile.VerifyResult, error)
	VerifyCycleHistory(ctx context.Context, lastCounter int64) (reconcile.VerifyResult, error)
}

// Fetcher runs the backfill strategies.
type Fetcher interface {
	BulkSync(ctx context.Context, opts backfill.BulkOptions) error
	SyncGenesis(ctx context.Context) error
	RepairCycles(ctx context.Context, kind models.Kind, mismatches []models.Mismatch) (backfill.RepairResult, error)
	SyncBetweenCycles(ctx context.Context, kind models.Kind, startCycle, endCycle int64) (int64, error)
}

// Sweeper drops dedup cache entries older than a horizon in unix ms.
type Sweeper interface {
	Sweep(horizon int64) int
}

// AuditLog replays retained envelope lines.
type AuditLog interface {
	Replay(ctx context.Context, kind models.Kind, fn func(ctx context.Context, line []byte) error) (int, error)
}

// Replayer applies one audit log line on the trusted path.
type Replayer interface {
	ReplayLine(ctx context.Context, kind models.Kind, line []byte) error
}

// Deps are the collaborators of a Manager. AuditLog and Replayer are
// optional; replay on start is skipped unless both are set.
type Deps struct {
	Remote   Remote
	Store    Store
	Engine   Engine
	Fetcher  Fetcher
	Sweeper  Sweeper
	AuditLog AuditLog
	Replayer Replayer
}

// Manager drives reconciliation rounds from observed cycles.
type Manager struct {
	cursor *Cursor
	deps   Deps
	cfg    config.SyncConfig

	replayOnStart     bool
	maxRepairAttempts int

	observed chan int64

	mu gosync.Mutex
	// pending maps kind to residual cycle to the attempts made so far.
	pending map[models.Kind]map[int64]int

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewManager creates a manager around cursor.
func NewManager(cursor *Cursor, deps Deps, cfg config.SyncConfig) *Manager {
	attempts := cfg.MaxRepairAttempts
	if attempts <= 0 {
		attempts = DefaultMaxRepairAttempts
	}
	return &Manager{
		cursor:            cursor,
		deps:              deps,
		cfg:               cfg,
		maxRepairAttempts: attempts,
		observed:          make(chan int64, 1),
		pending: map[models.Kind]map[int64]int{
			models.KindReceipt:    {},
			models.KindOriginalTx: {},
		},
	}
}

// SetReplayOnStart makes Bootstrap replay the audit log.
func (m *Manager) SetReplayOnStart(enabled bool) {
	m.replayOnStart = enabled
}

// Cursor returns the cursor the manager advances.
func (m *Manager) Cursor() *Cursor {
	return m.cursor
}

// Snapshot returns the cursor state.
func (m *Manager) Snapshot() models.SyncState {
	return m.cursor.Snapshot()
}

// ObserveCycle records a newly seen cycle counter. It never blocks: when the
// worker has not consumed the previous value the larger one is kept.
func (m *Manager) ObserveCycle(counter int64) {
	metrics.SyncObservedCycle.Set(float64(counter))
	for {
		select {
		case m.observed <- counter:
			return
		default:
		}
		select {
		case prev := <-m.observed:
			if prev > counter {
				counter = prev
			}
		default:
		}
	}
}

// Start launches the round worker.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.Serve(ctx)
	}()
}

// Stop cancels the worker and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Serve runs the round worker until ctx is done. It satisfies
// suture.Service so the manager can run under the supervisor tree.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().Msg("Sync manager started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync manager stopped")
			return ctx.Err()
		case counter := <-m.observed:
			m.maybeRound(ctx, counter)
		}
	}
}

func (m *Manager) String() string {
	return "sync-manager"
}

// maybeRound runs one round when counter is far enough ahead of the cursor.
func (m *Manager) maybeRound(ctx context.Context, counter int64) {
	target, ok := m.cursor.TryBeginRound(counter)
	if !ok {
		return
	}
	ctx = logging.ContextWithNewCorrelationID(ctx)
	if err := m.runRound(ctx, target); err != nil && ctx.Err() == nil {
		logging.Ctx(ctx).Error().Err(err).Int64("target", target).Msg("Sync round failed")
	}
}

// runRound executes a round the cursor has already begun.
func (m *Manager) runRound(ctx context.Context, target int64) (err error) {
	start := time.Now()
	from := m.cursor.Snapshot().LastSyncedCycle + 1
	log := logging.Ctx(ctx)

	defer func() {
		metrics.RecordSyncRound(time.Since(start), err)
		if err != nil {
			m.cursor.AbortRound()
		}
	}()

	log.Info().Int64("from", from).Int64("target", target).Msg("Starting sync round")

	if err := m.retryResiduals(ctx); err != nil {
		return err
	}

	for _, kind := range models.TxKinds {
		mismatches, err := m.deps.Engine.CompareTallies(ctx, kind, from, target)
		if err != nil {
			return fmt.Errorf("compare %s tallies [%d, %d]: %w", kind, from, target, err)
		}
		if len(mismatches) == 0 {
			continue
		}
		log.Info().Str("kind", kind.String()).Int("mismatches", len(mismatches)).Msg("Repairing mismatched cycles")

		res, err := m.deps.Fetcher.RepairCycles(ctx, kind, mismatches)
		if err != nil {
			return fmt.Errorf("repair %s: %w", kind, err)
		}
		m.markResidual(kind, res.Residual)
	}

	if err := m.sweep(ctx, target); err != nil {
		return err
	}

	if err := m.cursor.CompleteRound(target); err != nil {
		return err
	}
	metrics.SyncLastCycle.Set(float64(target))
	log.Info().Int64("last_synced_cycle", target).Dur("duration", time.Since(start)).Msg("Sync round completed")
	return nil
}

// retryResiduals re-checks cycles earlier repairs could not complete.
func (m *Manager) retryResiduals(ctx context.Context) error {
	for _, kind := range models.TxKinds {
		cycles := m.Pending(kind)
		if len(cycles) == 0 {
			continue
		}

		var retry []models.Mismatch
		for _, cycle := range cycles {
			mismatches, err := m.deps.Engine.CompareTallies(ctx, kind, cycle, cycle)
			if err != nil {
				return fmt.Errorf("recheck %s cycle %d: %w", kind, cycle, err)
			}
			if len(mismatches) == 0 {
				m.clearResidual(kind, cycle)
				continue
			}
			retry = append(retry, mismatches...)
		}
		if len(retry) == 0 {
			continue
		}

		res, err := m.deps.Fetcher.RepairCycles(ctx, kind, retry)
		if err != nil {
			return fmt.Errorf("retry %s residuals: %w", kind, err)
		}
		for _, cycle := range res.Repaired {
			m.clearResidual(kind, cycle)
		}
		m.markResidual(kind, res.Residual)
	}
	return nil
}

// markResidual counts one more attempt for each cycle and gives up on the
// ones that reached the attempt limit.
func (m *Manager) markResidual(kind models.Kind, cycles []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.pending[kind]
	for _, cycle := range cycles {
		set[cycle]++
		if set[cycle] >= m.maxRepairAttempts {
			logging.Warn().
				Str("kind", kind.String()).
				Int64("cycle", cycle).
				Int("attempts", set[cycle]).
				Msg("Giving up on residual cycle")
			delete(set, cycle)
		}
	}
	metrics.RepairResidualCycles.WithLabelValues(kind.String()).Set(float64(len(set)))
}

func (m *Manager) clearResidual(kind models.Kind, cycle int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending[kind], cycle)
	metrics.RepairResidualCycles.WithLabelValues(kind.String()).Set(float64(len(m.pending[kind])))
}

// Pending returns the residual cycles of kind waiting for a retry, ascending.
func (m *Manager) Pending(kind models.Kind) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.pending[kind]))
	for cycle := range m.pending[kind] {
		out = append(out, cycle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sweep drops cache entries older than the stored target cycle.
func (m *Manager) sweep(ctx context.Context, target int64) error {
	if m.deps.Sweeper == nil {
		return nil
	}
	cycle, err := m.deps.Store.GetCycleByCounter(ctx, target)
	if errors.Is(err, syncerr.ErrNotFound) {
		logging.Ctx(ctx).Debug().Int64("target", target).Msg("Target cycle not stored, skipping cache sweep")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read target cycle %d: %w", target, err)
	}
	if horizon := cycle.StartTimestamp(); horizon > 0 {
		removed := m.deps.Sweeper.Sweep(horizon)
		logging.Ctx(ctx).Debug().Int64("horizon", horizon).Int("removed", removed).Msg("Swept dedup caches")
	}
	return nil
}
