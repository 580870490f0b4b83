// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package auditlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomtom215/cyclesync/internal/models"
)

func openTestStore(t *testing.T, retention int) *Store {
	t.Helper()
	s, err := Open("", retention)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func replayAll(t *testing.T, s *Store, kind models.Kind) []string {
	t.Helper()
	var lines []string
	_, err := s.Replay(context.Background(), kind, func(_ context.Context, line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	return lines
}

func TestStore_AppendAndReplayInOrder(t *testing.T) {
	s := openTestStore(t, 100)

	for i := 0; i < 12; i++ {
		if err := s.Append(models.KindReceipt, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := s.Append(models.KindCycle, []byte(`{"c":1}`)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	lines := replayAll(t, s, models.KindReceipt)
	if len(lines) != 12 {
		t.Fatalf("replayed %d lines, want 12", len(lines))
	}
	for i, line := range lines {
		if want := fmt.Sprintf(`{"n":%d}`, i); line != want {
			t.Errorf("line %d = %s, want %s", i, line, want)
		}
	}

	if got := replayAll(t, s, models.KindCycle); len(got) != 1 {
		t.Errorf("cycle lines = %v, want 1", got)
	}
	if got := replayAll(t, s, models.KindOriginalTx); len(got) != 0 {
		t.Errorf("originalTx lines = %v, want none", got)
	}
}

func TestStore_RetentionDropsOldest(t *testing.T) {
	s := openTestStore(t, 3)

	for i := 0; i < 5; i++ {
		if err := s.Append(models.KindOriginalTx, []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if got := s.Len(models.KindOriginalTx); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	lines := replayAll(t, s, models.KindOriginalTx)
	want := []string{"2", "3", "4"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %s, want %s", i, lines[i], want[i])
		}
	}
}

func TestStore_ReplayStopsOnError(t *testing.T) {
	s := openTestStore(t, 0)
	for i := 0; i < 3; i++ {
		_ = s.Append(models.KindCycle, []byte("x"))
	}

	boom := errors.New("boom")
	calls := 0
	n, err := s.Replay(context.Background(), models.KindCycle, func(context.Context, []byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Replay() error = %v, want boom", err)
	}
	if n != 1 {
		t.Errorf("replayed = %d, want 1", n)
	}
}

func TestStore_ClosedRejectsAppend(t *testing.T) {
	s, err := Open("", 10)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Append(models.KindCycle, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestStore_ReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 10)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = s.Append(models.KindReceipt, []byte("a"))
	_ = s.Append(models.KindReceipt, []byte("b"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(dir, 10)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if got := s.Len(models.KindReceipt); got != 2 {
		t.Errorf("Len() after reopen = %d, want 2", got)
	}
	_ = s.Append(models.KindReceipt, []byte("c"))
	lines := replayAll(t, s, models.KindReceipt)
	if len(lines) != 3 || lines[2] != "c" {
		t.Errorf("lines = %v, want [a b c]", lines)
	}
}
