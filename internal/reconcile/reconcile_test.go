// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
	"github.com/tomtom215/cyclesync/internal/testinfra"
)

type mockRemote struct {
	tallyFunc  func(kind models.Kind, start, end int64) ([]models.Tally, error)
	cyclesFunc func(start, end int64) ([]json.RawMessage, error)
}

func (m *mockRemote) Tally(_ context.Context, kind models.Kind, start, end int64) ([]models.Tally, error) {
	if m.tallyFunc == nil {
		return nil, nil
	}
	return m.tallyFunc(kind, start, end)
}

func (m *mockRemote) Cycles(_ context.Context, start, end int64) ([]json.RawMessage, error) {
	if m.cyclesFunc == nil {
		return nil, nil
	}
	return m.cyclesFunc(start, end)
}

func staticTally(tallies ...models.Tally) func(models.Kind, int64, int64) ([]models.Tally, error) {
	return func(_ models.Kind, start, end int64) ([]models.Tally, error) {
		var out []models.Tally
		for _, t := range tallies {
			if t.Cycle >= start && t.Cycle <= end {
				out = append(out, t)
			}
		}
		return out, nil
	}
}

func seedReceipts(t *testing.T, store *testinfra.MemStore, perCycle map[int64]int) {
	t.Helper()
	var batch []*models.Receipt
	for cycle, n := range perCycle {
		for i := 0; i < n; i++ {
			id := "tx-" + string(rune('a'+i)) + "-" + testinfra.Marker(cycle)
			batch = append(batch, testinfra.Receipt(id, cycle, 1000))
		}
	}
	if err := store.UpsertReceiptBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
}

func TestCompareTallies(t *testing.T) {
	store := testinfra.NewMemStore()
	seedReceipts(t, store, map[int64]int{3: 2, 4: 1, 6: 1, 20: 1})

	remote := &mockRemote{tallyFunc: staticTally(
		models.Tally{Cycle: 3, Count: 2},
		models.Tally{Cycle: 4, Count: 3},
		models.Tally{Cycle: 5, Count: 1},
	)}
	engine := NewEngine(remote, store, 0)
	counter := metrics.ReconcileMismatches.WithLabelValues(models.KindReceipt.String())
	before := testutil.ToFloat64(counter)

	got, err := engine.CompareTallies(context.Background(), models.KindReceipt, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("mismatches = %+v, want 3", got)
	}
	if delta := testutil.ToFloat64(counter) - before; delta != 3 {
		t.Errorf("mismatch counter delta = %v, want 3", delta)
	}

	want := []struct {
		cycle  int64
		remote int64
		local  *int64
	}{
		{4, 3, ptr(1)},
		{5, 1, nil},
		{6, 0, ptr(1)},
	}
	for i, w := range want {
		m := got[i]
		if m.Cycle != w.cycle || m.RemoteCount != w.remote {
			t.Errorf("mismatch %d = %+v, want cycle %d remote %d", i, m, w.cycle, w.remote)
		}
		switch {
		case w.local == nil && m.LocalCount != nil:
			t.Errorf("mismatch %d local = %d, want nil", i, *m.LocalCount)
		case w.local != nil && (m.LocalCount == nil || *m.LocalCount != *w.local):
			t.Errorf("mismatch %d local = %v, want %d", i, m.LocalCount, *w.local)
		}
	}
}

func ptr(n int64) *int64 { return &n }

func TestCompareTallies_TransportError(t *testing.T) {
	remote := &mockRemote{tallyFunc: func(models.Kind, int64, int64) ([]models.Tally, error) {
		return nil, syncerr.Transport("receipt_tally", 503, errors.New("unavailable"))
	}}
	engine := NewEngine(remote, testinfra.NewMemStore(), 0)
	if _, err := engine.CompareTallies(context.Background(), models.KindReceipt, 1, 5); !syncerr.IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

// A mismatch is reported for a cycle if and only if its counts differ.
func TestDiff_MismatchIffCountsDiffer(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		start := int64(rng.Intn(20))
		end := start + int64(rng.Intn(30))
		remoteCounts := map[int64]int64{}
		localCounts := map[int64]int64{}
		var remote, local []models.Tally
		for c := int64(0); c < 60; c++ {
			if rng.Intn(2) == 0 {
				n := int64(rng.Intn(4))
				remoteCounts[c] = n
				remote = append(remote, models.Tally{Cycle: c, Count: n})
			}
			if rng.Intn(2) == 0 {
				n := int64(rng.Intn(4))
				localCounts[c] = n
				local = append(local, models.Tally{Cycle: c, Count: n})
			}
		}
		rng.Shuffle(len(remote), func(i, j int) { remote[i], remote[j] = remote[j], remote[i] })

		got := Diff(remote, local, start, end)
		reported := map[int64]models.Mismatch{}
		prev := int64(-1)
		for _, m := range got {
			if m.Cycle < start || m.Cycle > end {
				t.Fatalf("iter %d: mismatch outside range: %+v", iter, m)
			}
			if m.Cycle <= prev {
				t.Fatalf("iter %d: mismatches not ascending", iter)
			}
			prev = m.Cycle
			reported[m.Cycle] = m
		}

		for c := start; c <= end; c++ {
			m, ok := reported[c]
			differ := remoteCounts[c] != localCounts[c]
			if ok != differ {
				t.Fatalf("iter %d cycle %d: reported=%v remote=%d local=%d", iter, c, ok, remoteCounts[c], localCounts[c])
			}
			if !ok {
				continue
			}
			if m.RemoteCount != remoteCounts[c] || m.Local() != localCounts[c] {
				t.Fatalf("iter %d cycle %d: mismatch %+v", iter, c, m)
			}
			if _, present := localCounts[c]; present != (m.LocalCount != nil) {
				t.Fatalf("iter %d cycle %d: LocalCount presence wrong", iter, c)
			}
		}
	}
}

func TestVerifyRecentHistory(t *testing.T) {
	store := testinfra.NewMemStore()
	perCycle := map[int64]int{}
	for c := int64(10); c < 20; c++ {
		perCycle[c] = 1
	}
	seedReceipts(t, store, perCycle)

	tests := []struct {
		name    string
		remote  []models.Tally
		last    int64
		success bool
		matched int64
	}{
		{
			name:    "all match",
			remote:  tallies(10, 20, 1),
			last:    20,
			success: true,
			matched: 20,
		},
		{
			name:    "diverges at 15",
			remote:  append(append(tallies(10, 15, 1), models.Tally{Cycle: 15, Count: 2}), tallies(16, 20, 1)...),
			last:    20,
			success: false,
			matched: 14,
		},
		{
			name:    "first cycle diverges",
			remote:  tallies(11, 20, 1),
			last:    20,
			success: false,
			matched: 0,
		},
		{
			name:    "nothing stored before",
			last:    0,
			success: true,
			matched: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotStart, gotEnd int64
			remote := &mockRemote{tallyFunc: func(kind models.Kind, start, end int64) ([]models.Tally, error) {
				gotStart, gotEnd = start, end
				return staticTally(tt.remote...)(kind, start, end)
			}}
			res, err := NewEngine(remote, store, 10).VerifyRecentHistory(context.Background(), models.KindReceipt, tt.last)
			if err != nil {
				t.Fatal(err)
			}
			if res.Success != tt.success || res.MatchedCycle != tt.matched {
				t.Errorf("result = %+v, want success=%v matched=%d", res, tt.success, tt.matched)
			}
			if tt.last > 0 && (gotStart != tt.last-10 || gotEnd != tt.last-1) {
				t.Errorf("window = [%d, %d], want [%d, %d]", gotStart, gotEnd, tt.last-10, tt.last-1)
			}
		})
	}
}

func tallies(from, to, count int64) []models.Tally {
	var out []models.Tally
	for c := from; c < to; c++ {
		out = append(out, models.Tally{Cycle: c, Count: count})
	}
	return out
}

func TestVerifyCycleHistory(t *testing.T) {
	ctx := context.Background()
	store := testinfra.NewMemStore()
	if err := store.UpsertCycleBatch(ctx, testinfra.Cycles(0, 30)); err != nil {
		t.Fatal(err)
	}

	payloads := func(from, to int64, mutate func(c int64) json.RawMessage) func(int64, int64) ([]json.RawMessage, error) {
		return func(start, end int64) ([]json.RawMessage, error) {
			if start != from || end != to {
				t.Errorf("request = [%d, %d), want [%d, %d)", start, end, from, to)
			}
			var out []json.RawMessage
			// Served newest first to check the walk sorts.
			for c := end - 1; c >= start; c-- {
				if mutate != nil {
					if raw := mutate(c); raw != nil {
						out = append(out, raw)
						continue
					}
				}
				out = append(out, testinfra.CyclePayload(c))
			}
			return out, nil
		}
	}

	t.Run("all match", func(t *testing.T) {
		remote := &mockRemote{cyclesFunc: payloads(20, 30, nil)}
		res, err := NewEngine(remote, store, 10).VerifyCycleHistory(ctx, 30)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success || res.MatchedCycle != 30 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("divergent record", func(t *testing.T) {
		remote := &mockRemote{cyclesFunc: payloads(20, 30, func(c int64) json.RawMessage {
			if c == 25 {
				return json.RawMessage(`{"counter":25,"marker":"marker-0025","start":1,"duration":60,"active":10}`)
			}
			return nil
		})}
		res, err := NewEngine(remote, store, 10).VerifyCycleHistory(ctx, 30)
		if err != nil {
			t.Fatal(err)
		}
		if res.Success || res.MatchedCycle != 24 {
			t.Errorf("result = %+v, want matched 24", res)
		}
	})

	t.Run("missing locally", func(t *testing.T) {
		remote := &mockRemote{cyclesFunc: payloads(30, 40, nil)}
		res, err := NewEngine(remote, store, 10).VerifyCycleHistory(ctx, 40)
		if err != nil {
			t.Fatal(err)
		}
		if res.Success || res.MatchedCycle != 0 {
			t.Errorf("result = %+v", res)
		}
	})
}
