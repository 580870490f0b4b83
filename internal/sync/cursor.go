// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package sync

import (
	"errors"
	"fmt"
	gosync "sync"

	"github.com/tomtom215/cyclesync/internal/models"
)

// Defaults for the drift check.
const (
	SyncCycleInterval int64 = 10
	SafetyMargin      int64 = 5
)

var (
	// ErrNotSyncing is returned when a round is completed outside a round.
	ErrNotSyncing = errors.New("no sync round in progress")

	// ErrSyncing is returned when the cursor is reset during a round.
	ErrSyncing = errors.New("sync round in progress")

	// ErrCursorRegression is returned for a target below the last synced cycle.
	ErrCursorRegression = errors.New("sync target below last synced cycle")
)

// Cursor holds the SyncState. All transitions are atomic.
type Cursor struct {
	mu       gosync.Mutex
	state    models.SyncState
	interval int64
	margin   int64
}

// NewCursor creates an idle cursor at lastSynced. Non-positive interval or
// negative margin use the defaults.
func NewCursor(lastSynced, interval, margin int64) *Cursor {
	if interval <= 0 {
		interval = SyncCycleInterval
	}
	if margin < 0 || margin >= interval {
		margin = SafetyMargin
		if margin >= interval {
			margin = interval - 1
		}
	}
	return &Cursor{
		state:    models.SyncState{LastSyncedCycle: lastSynced},
		interval: interval,
		margin:   margin,
	}
}

// TryBeginRound starts a round when current is at least interval cycles past
// the last synced cycle and no round is running or suppressed. It returns
// the cycle the round should reconcile up to.
func (c *Cursor) TryBeginRound(current int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Syncing || c.state.AutoSyncSuppressed {
		return 0, false
	}
	if current-c.state.LastSyncedCycle < c.interval {
		return 0, false
	}
	c.state.Syncing = true
	return c.state.LastSyncedCycle + c.interval - c.margin, true
}

// CompleteRound ends the running round and advances the cursor to target.
func (c *Cursor) CompleteRound(target int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Syncing {
		return ErrNotSyncing
	}
	if target < c.state.LastSyncedCycle {
		return fmt.Errorf("%w: %d < %d", ErrCursorRegression, target, c.state.LastSyncedCycle)
	}
	c.state.Syncing = false
	c.state.LastSyncedCycle = target
	return nil
}

// AbortRound ends the running round without moving the cursor.
func (c *Cursor) AbortRound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Syncing = false
}

// SuppressAutoSync stops new rounds from starting.
func (c *Cursor) SuppressAutoSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AutoSyncSuppressed = true
}

// ResumeAutoSync allows rounds again.
func (c *Cursor) ResumeAutoSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AutoSyncSuppressed = false
}

// Reset moves an idle cursor to lastSynced, used once bootstrap finished.
func (c *Cursor) Reset(lastSynced int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Syncing {
		return ErrSyncing
	}
	c.state.LastSyncedCycle = lastSynced
	return nil
}

// Interval returns the drift threshold in cycles.
func (c *Cursor) Interval() int64 { return c.interval }

// Margin returns the safety margin in cycles.
func (c *Cursor) Margin() int64 { return c.margin }

// Snapshot returns a copy of the state.
func (c *Cursor) Snapshot() models.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
