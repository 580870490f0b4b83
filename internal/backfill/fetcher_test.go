// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package backfill

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/distributor"
	"github.com/tomtom215/cyclesync/internal/ingest"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
	"github.com/tomtom215/cyclesync/internal/testinfra"
)

type window struct {
	kind       models.Kind
	start, end int64
}

// recordingSource wraps a Source and records the index windows requested.
type recordingSource struct {
	Source

	mu          sync.Mutex
	windows     []window
	totalsCalls int
	onTotals    func(call int)
}

func (r *recordingSource) Totals(ctx context.Context) (models.Totals, error) {
	r.mu.Lock()
	r.totalsCalls++
	call := r.totalsCalls
	r.mu.Unlock()
	if r.onTotals != nil {
		r.onTotals(call)
	}
	return r.Source.Totals(ctx)
}

func (r *recordingSource) Range(ctx context.Context, kind models.Kind, start, end int64) ([]json.RawMessage, error) {
	r.mu.Lock()
	r.windows = append(r.windows, window{kind, start, end})
	r.mu.Unlock()
	return r.Source.Range(ctx, kind, start, end)
}

func (r *recordingSource) windowsOf(kind models.Kind) []window {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []window
	for _, w := range r.windows {
		if w.kind == kind {
			out = append(out, w)
		}
	}
	return out
}

type harness struct {
	fetcher *Fetcher
	fake    *testinfra.FakeDistributor
	store   *testinfra.MemStore
	source  *recordingSource
}

func newHarness(t *testing.T, cfg config.SyncConfig) *harness {
	t.Helper()
	fake := testinfra.NewFakeDistributor(t)
	client := distributor.NewClient(config.DistributorConfig{
		URL:             fake.URL(),
		Timeout:         5 * time.Second,
		RetryAttempts:   1,
		BreakerFailures: 1000,
		BreakerTimeout:  time.Minute,
	})
	store := testinfra.NewMemStore()
	pipeline := ingest.NewPipeline(store, nil, ingest.Options{
		Ingest: config.IngestConfig{IndexReceipt: true},
	})
	source := &recordingSource{Source: client}
	return &harness{
		fetcher: NewFetcher(source, pipeline, store, cfg),
		fake:    fake,
		store:   store,
		source:  source,
	}
}

func receipts(n int, cycleOf func(i int) int64) []*models.Receipt {
	out := make([]*models.Receipt, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, testinfra.Receipt(fmt.Sprintf("tx-%05d", i), cycleOf(i), int64(1000+i)))
	}
	return out
}

func TestBulkSync_Windows(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	h.fake.AddCycles(testinfra.Cycles(0, 12)...)
	h.fake.AddReceipts(receipts(2500, func(i int) int64 { return int64(i % 12) })...)

	err := h.fetcher.BulkSync(context.Background(), BulkOptions{IncludeTxData: true})
	if err != nil {
		t.Fatalf("BulkSync: %v", err)
	}

	want := []window{
		{models.KindReceipt, 0, 1000},
		{models.KindReceipt, 1000, 2000},
		{models.KindReceipt, 2000, 2500},
	}
	got := h.source.windowsOf(models.KindReceipt)
	if len(got) != len(want) {
		t.Fatalf("receipt windows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window %d = %v, want %v", i, got[i], want[i])
		}
	}

	if n, _ := h.store.TotalCount(context.Background(), models.KindReceipt); n != 2500 {
		t.Errorf("stored receipts = %d, want 2500", n)
	}
	if n, _ := h.store.TotalCount(context.Background(), models.KindCycle); n != 12 {
		t.Errorf("stored cycles = %d, want 12", n)
	}
	if w := h.source.windowsOf(models.KindOriginalTx); len(w) != 0 {
		t.Errorf("originalTx windows = %v, want none for an empty total", w)
	}
}

func TestBulkSync_ReopensGrownTotals(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	h.fake.AddCycles(testinfra.Cycles(0, 5)...)
	h.source.onTotals = func(call int) {
		if call == 2 {
			h.fake.AddCycles(testinfra.Cycles(5, 8)...)
		}
	}

	if err := h.fetcher.BulkSync(context.Background(), BulkOptions{}); err != nil {
		t.Fatalf("BulkSync: %v", err)
	}

	got := h.source.windowsOf(models.KindCycle)
	want := []window{{models.KindCycle, 0, 5}, {models.KindCycle, 5, 8}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("cycle windows = %v, want %v", got, want)
	}
	if n, _ := h.store.TotalCount(context.Background(), models.KindCycle); n != 8 {
		t.Errorf("stored cycles = %d, want 8", n)
	}
	if w := h.source.windowsOf(models.KindReceipt); len(w) != 0 {
		t.Errorf("receipts fetched without IncludeTxData: %v", w)
	}
}

func TestBulkSync_ResumesFromOffsets(t *testing.T) {
	h := newHarness(t, config.SyncConfig{BucketSize: 10})
	h.fake.AddCycles(testinfra.Cycles(0, 25)...)

	if err := h.fetcher.BulkSync(context.Background(), BulkOptions{FromCycle: 18}); err != nil {
		t.Fatal(err)
	}
	got := h.source.windowsOf(models.KindCycle)
	if len(got) != 1 || got[0].start != 18 || got[0].end != 25 {
		t.Errorf("windows = %v, want [18, 25)", got)
	}
}

func TestBulkSync_ErrorAborts(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	h.fake.AddCycles(testinfra.Cycles(0, 3)...)
	h.fake.AddReceipts(receipts(3, func(int) int64 { return 1 })...)
	h.fake.Fail = func(r *http.Request) int {
		if r.URL.Path == "/receipt" {
			return http.StatusBadRequest
		}
		return 0
	}

	err := h.fetcher.BulkSync(context.Background(), BulkOptions{IncludeTxData: true})
	if !syncerr.IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestRepairCycles(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	h.fake.AddReceipts(receipts(250, func(int) int64 { return 7 })...)
	h.fake.SetTally(models.KindReceipt, 9, 5)
	gauge := metrics.RepairResidualCycles.WithLabelValues(models.KindReceipt.String())
	gauge.Set(42)

	res, err := h.fetcher.RepairCycles(context.Background(), models.KindReceipt, []models.Mismatch{
		{Cycle: 7, RemoteCount: 250},
		{Cycle: 8, RemoteCount: 0},
		{Cycle: 9, RemoteCount: 5},
	})
	if err != nil {
		t.Fatalf("RepairCycles: %v", err)
	}
	if len(res.Repaired) != 1 || res.Repaired[0] != 7 {
		t.Errorf("repaired = %v, want [7]", res.Repaired)
	}
	if len(res.Residual) != 1 || res.Residual[0] != 9 {
		t.Errorf("residual = %v, want [9]", res.Residual)
	}
	if got := testutil.ToFloat64(gauge); got != 42 {
		t.Errorf("residual gauge = %v, owned by the sync manager", got)
	}
	if got := h.fake.Calls("/receipt"); got != 4 {
		t.Errorf("receipt calls = %d, want 3 pages for cycle 7 and 1 for cycle 9", got)
	}
	if n, _ := h.store.CountBetweenCycles(context.Background(), models.KindReceipt, 7, 7); n != 250 {
		t.Errorf("stored = %d, want 250", n)
	}
}

func TestRepairCycles_PageBound(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	// The distributor reports more records than it serves.
	h.fake.AddReceipts(receipts(100, func(int) int64 { return 3 })...)
	mismatch := models.Mismatch{Cycle: 3, RemoteCount: 150}

	pages := 0
	h.fake.Fail = func(r *http.Request) int {
		pages++
		return 0
	}
	h.fake.PageSize = 100

	res, err := h.fetcher.RepairCycles(context.Background(), models.KindReceipt, []models.Mismatch{mismatch})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Residual) != 1 {
		t.Errorf("residual = %v, want [3]", res.Residual)
	}
	if pages > 3 {
		t.Errorf("pages fetched = %d, want at most ceil(150/100)+1", pages)
	}
}

func TestRepairCycles_TransportErrorAborts(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	h.fake.Fail = func(*http.Request) int { return http.StatusNotFound }

	_, err := h.fetcher.RepairCycles(context.Background(), models.KindOriginalTx, []models.Mismatch{{Cycle: 1, RemoteCount: 2}})
	if !syncerr.IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestSyncBetweenCycles(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	var txs []*models.OriginalTx
	for i := 0; i < 450; i++ {
		txs = append(txs, testinfra.OriginalTx(fmt.Sprintf("otx-%d", i), int64(i%250), int64(i)))
	}
	h.fake.AddOriginalTxs(txs...)

	n, err := h.fetcher.SyncBetweenCycles(context.Background(), models.KindOriginalTx, 0, 249)
	if err != nil {
		t.Fatal(err)
	}
	if n != 450 {
		t.Errorf("fetched = %d, want 450", n)
	}
	if got, _ := h.store.TotalCount(context.Background(), models.KindOriginalTx); got != 450 {
		t.Errorf("stored = %d, want 450", got)
	}
}

func TestSyncGenesis(t *testing.T) {
	h := newHarness(t, config.SyncConfig{GenesisBucketSize: 2})
	h.fake.GenesisPageSize = 2
	h.fake.AddAccounts(
		testinfra.Account("a-1", 0, 1),
		testinfra.Account("a-2", 1, 1),
		testinfra.Account("a-3", 5, 1),
	)
	h.fake.AddTransactions(testinfra.Transaction("t-1", 0, 1), testinfra.Transaction("t-2", 2, 1))

	ctx := context.Background()
	if err := h.fetcher.SyncGenesis(ctx); err != nil {
		t.Fatalf("SyncGenesis: %v", err)
	}
	if n, _ := h.store.TotalCount(ctx, models.KindAccount); n != 3 {
		t.Errorf("accounts = %d, want 3", n)
	}
	if n, _ := h.store.TotalCount(ctx, models.KindTransaction); n != 2 {
		t.Errorf("transactions = %d, want 2", n)
	}

	calls := h.fake.Calls("/account") + h.fake.Calls("/transaction")
	if err := h.fetcher.SyncGenesis(ctx); err != nil {
		t.Fatal(err)
	}
	if after := h.fake.Calls("/account") + h.fake.Calls("/transaction"); after != calls {
		t.Errorf("second genesis sync made %d requests, want 0", after-calls)
	}
}
