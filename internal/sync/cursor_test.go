// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package sync

import (
	"errors"
	gosync "sync"
	"testing"
)

func TestCursor_TryBeginRound(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		ok      bool
		target  int64
	}{
		{"below interval", 109, false, 0},
		{"at interval", 110, true, 105},
		{"far ahead", 500, true, 105},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(100, 10, 5)
			target, ok := c.TryBeginRound(tt.current)
			if ok != tt.ok || target != tt.target {
				t.Errorf("TryBeginRound(%d) = (%d, %v), want (%d, %v)", tt.current, target, ok, tt.target, tt.ok)
			}
			if c.Snapshot().Syncing != tt.ok {
				t.Errorf("Syncing = %v, want %v", c.Snapshot().Syncing, tt.ok)
			}
		})
	}
}

func TestCursor_OneRoundAtATime(t *testing.T) {
	c := NewCursor(100, 10, 5)
	if _, ok := c.TryBeginRound(110); !ok {
		t.Fatal("first round did not start")
	}
	if _, ok := c.TryBeginRound(200); ok {
		t.Fatal("second round started while syncing")
	}
	if err := c.CompleteRound(105); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().LastSyncedCycle; got != 105 {
		t.Errorf("last synced = %d, want 105", got)
	}
	if _, ok := c.TryBeginRound(114); ok {
		t.Error("round started below the interval")
	}
	if target, ok := c.TryBeginRound(115); !ok || target != 110 {
		t.Errorf("TryBeginRound(115) = (%d, %v), want (110, true)", target, ok)
	}
}

func TestCursor_AbortLeavesCursor(t *testing.T) {
	c := NewCursor(100, 10, 5)
	if _, ok := c.TryBeginRound(120); !ok {
		t.Fatal("round did not start")
	}
	c.AbortRound()
	state := c.Snapshot()
	if state.Syncing || state.LastSyncedCycle != 100 {
		t.Errorf("state after abort = %+v", state)
	}
}

func TestCursor_CompleteRoundErrors(t *testing.T) {
	c := NewCursor(100, 10, 5)
	if err := c.CompleteRound(105); !errors.Is(err, ErrNotSyncing) {
		t.Errorf("complete outside round: err = %v", err)
	}
	c.TryBeginRound(110)
	if err := c.CompleteRound(99); !errors.Is(err, ErrCursorRegression) {
		t.Errorf("regression: err = %v", err)
	}
	if !c.Snapshot().Syncing {
		t.Error("rejected completion ended the round")
	}
	if err := c.Reset(50); !errors.Is(err, ErrSyncing) {
		t.Errorf("reset during round: err = %v", err)
	}
}

func TestCursor_Suppression(t *testing.T) {
	c := NewCursor(0, 10, 5)
	c.SuppressAutoSync()
	if _, ok := c.TryBeginRound(1000); ok {
		t.Fatal("round started while suppressed")
	}
	if !c.Snapshot().AutoSyncSuppressed {
		t.Error("snapshot does not show suppression")
	}
	c.ResumeAutoSync()
	if _, ok := c.TryBeginRound(1000); !ok {
		t.Error("round did not start after resume")
	}
}

func TestCursor_Defaults(t *testing.T) {
	c := NewCursor(0, 0, -1)
	if c.Interval() != SyncCycleInterval || c.Margin() != SafetyMargin {
		t.Errorf("interval=%d margin=%d", c.Interval(), c.Margin())
	}
	c = NewCursor(0, 3, 7)
	if c.Margin() >= c.Interval() {
		t.Errorf("margin %d not below interval %d", c.Margin(), c.Interval())
	}
}

func TestCursor_ConcurrentBegin(t *testing.T) {
	c := NewCursor(0, 10, 5)
	var wg gosync.WaitGroup
	var mu gosync.Mutex
	started := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.TryBeginRound(100); ok {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 {
		t.Errorf("rounds started = %d, want 1", started)
	}
}
