// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package testinfra

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/models"
)

type fakeRecord struct {
	cycle int64
	raw   json.RawMessage
}

// FakeDistributor serves the distributor HTTP API from in-memory records.
type FakeDistributor struct {
	Server *httptest.Server

	mu      sync.Mutex
	cycles  map[int64]json.RawMessage
	records map[models.Kind][]fakeRecord
	tallies map[models.Kind]map[int64]int64
	calls   map[string]int

	// PageSize is the number of records per cycle page (default 100).
	PageSize int

	// GenesisPageSize is the number of records per genesis page (default 10000).
	GenesisPageSize int

	// Fail, when set, is called for every request. A non-zero status is
	// written instead of the normal response.
	Fail func(r *http.Request) int
}

// NewFakeDistributor starts a fake distributor closed on test cleanup.
func NewFakeDistributor(t *testing.T) *FakeDistributor {
	t.Helper()

	f := &FakeDistributor{
		cycles:          make(map[int64]json.RawMessage),
		records:         make(map[models.Kind][]fakeRecord),
		tallies:         make(map[models.Kind]map[int64]int64),
		calls:           make(map[string]int),
		PageSize:        100,
		GenesisPageSize: 10000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/totalData", f.handleTotals)
	mux.HandleFunc("/cycleinfo", f.handleCycles)
	mux.HandleFunc("/receipt", f.txHandler(models.KindReceipt))
	mux.HandleFunc("/originalTx", f.txHandler(models.KindOriginalTx))
	mux.HandleFunc("/account", f.genesisHandler(models.KindAccount))
	mux.HandleFunc("/transaction", f.genesisHandler(models.KindTransaction))

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		fail := f.Fail
		f.mu.Unlock()

		if fail != nil {
			if status := fail(r); status != 0 {
				w.WriteHeader(status)
				return
			}
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server URL.
func (f *FakeDistributor) URL() string {
	return f.Server.URL
}

// Calls returns how many requests hit path.
func (f *FakeDistributor) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// AddCycles serves the given cycles from /cycleinfo.
func (f *FakeDistributor) AddCycles(cycles ...*models.Cycle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cycles {
		f.cycles[c.Counter] = c.CycleRecord
	}
}

// AddReceipts serves receipts in insertion order.
func (f *FakeDistributor) AddReceipts(receipts ...*models.Receipt) {
	for _, r := range receipts {
		f.add(models.KindReceipt, r.Cycle, mustRaw(r))
	}
}

// AddOriginalTxs serves OriginalTx records in insertion order.
func (f *FakeDistributor) AddOriginalTxs(txs ...*models.OriginalTx) {
	for _, o := range txs {
		f.add(models.KindOriginalTx, o.Cycle, mustRaw(o))
	}
}

// AddAccounts serves genesis accounts.
func (f *FakeDistributor) AddAccounts(accounts ...*models.Account) {
	for _, a := range accounts {
		f.add(models.KindAccount, a.CycleNumber, mustRaw(a))
	}
}

// AddTransactions serves genesis transactions.
func (f *FakeDistributor) AddTransactions(txs ...*models.Transaction) {
	for _, tx := range txs {
		f.add(models.KindTransaction, tx.CycleNumber, mustRaw(tx))
	}
}

// SetTally makes the tally and count queries report count for cycle,
// regardless of the records actually served.
func (f *FakeDistributor) SetTally(kind models.Kind, cycle, count int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tallies[kind] == nil {
		f.tallies[kind] = make(map[int64]int64)
	}
	f.tallies[kind][cycle] = count
}

func (f *FakeDistributor) add(kind models.Kind, cycle int64, raw json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[kind] = append(f.records[kind], fakeRecord{cycle: cycle, raw: raw})
}

func (f *FakeDistributor) handleTotals(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	totals := models.Totals{
		Cycles:       int64(len(f.cycles)),
		Receipts:     int64(len(f.records[models.KindReceipt])),
		OriginalTxs:  int64(len(f.records[models.KindOriginalTx])),
		Accounts:     int64(len(f.records[models.KindAccount])),
		Transactions: int64(len(f.records[models.KindTransaction])),
	}
	f.mu.Unlock()
	writeJSON(w, totals)
}

func (f *FakeDistributor) handleCycles(w http.ResponseWriter, r *http.Request) {
	start, end := queryInt(r, "start"), queryInt(r, "end")

	f.mu.Lock()
	out := []json.RawMessage{}
	for c := start; c < end; c++ {
		if raw, ok := f.cycles[c]; ok {
			out = append(out, raw)
		}
	}
	f.mu.Unlock()
	writeJSON(w, map[string]any{"cycleInfo": out})
}

func (f *FakeDistributor) txHandler(kind models.Kind) http.HandlerFunc {
	field := "receipts"
	tallyField := "receipts"
	if kind == models.KindOriginalTx {
		field = "originalTxs"
		tallyField = "originalTxsData"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("start") {
			writeJSON(w, map[string]any{field: f.window(kind, queryInt(r, "start"), queryInt(r, "end"))})
			return
		}

		startCycle, endCycle := queryInt(r, "startCycle"), queryInt(r, "endCycle")
		switch q.Get("type") {
		case "tally":
			counts := f.tally(kind, startCycle, endCycle)
			entries := make([]map[string]int64, 0, len(counts))
			for _, t := range counts {
				entries = append(entries, map[string]int64{"cycle": t.Cycle, tallyField: t.Count})
			}
			writeJSON(w, map[string]any{field: entries})
		case "count":
			var n int64
			for _, t := range f.tally(kind, startCycle, endCycle) {
				n += t.Count
			}
			writeJSON(w, map[string]any{field: n})
		default:
			page := int(queryInt(r, "page"))
			if page < 1 {
				page = 1
			}
			writeJSON(w, map[string]any{field: f.page(kind, startCycle, endCycle, page-1, f.PageSize)})
		}
	}
}

func (f *FakeDistributor) genesisHandler(kind models.Kind) http.HandlerFunc {
	countKey := "totalAccounts"
	field := "accounts"
	if kind == models.KindTransaction {
		countKey = "totalTransactions"
		field = "transactions"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		startCycle, endCycle := queryInt(r, "startCycle"), queryInt(r, "endCycle")
		if !r.URL.Query().Has("page") {
			var n int64
			for _, t := range f.tally(kind, startCycle, endCycle) {
				n += t.Count
			}
			writeJSON(w, map[string]any{countKey: n})
			return
		}
		page := int(queryInt(r, "page"))
		writeJSON(w, map[string]any{field: f.page(kind, startCycle, endCycle, page, f.GenesisPageSize)})
	}
}

// window returns records by storage index in [start, end).
func (f *FakeDistributor) window(kind models.Kind, start, end int64) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.records[kind]
	out := []json.RawMessage{}
	for i := start; i < end && i < int64(len(recs)); i++ {
		if i >= 0 {
			out = append(out, recs[i].raw)
		}
	}
	return out
}

// page returns the index-th (0-based) page of records in cycles [start, end].
func (f *FakeDistributor) page(kind models.Kind, start, end int64, index, size int) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matching []json.RawMessage
	for _, rec := range f.records[kind] {
		if rec.cycle >= start && rec.cycle <= end {
			matching = append(matching, rec.raw)
		}
	}
	out := []json.RawMessage{}
	from := index * size
	for i := from; i < from+size && i < len(matching); i++ {
		out = append(out, matching[i])
	}
	return out
}

func (f *FakeDistributor) tally(kind models.Kind, start, end int64) []models.Tally {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[int64]int64)
	for _, rec := range f.records[kind] {
		if rec.cycle >= start && rec.cycle <= end {
			counts[rec.cycle]++
		}
	}
	for cycle, n := range f.tallies[kind] {
		if cycle >= start && cycle <= end {
			counts[cycle] = n
		}
	}
	out := make([]models.Tally, 0, len(counts))
	for cycle, n := range counts {
		out = append(out, models.Tally{Cycle: cycle, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cycle < out[j].Cycle })
	return out
}

func queryInt(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
