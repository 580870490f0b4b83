// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package testinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

type originalTxKey struct {
	id string
	ts int64
}

type historyKey struct {
	account string
	ts      int64
}

// MemStore is an in-memory storage collaborator.
type MemStore struct {
	mu sync.Mutex

	cycles       map[string]*models.Cycle
	receipts     map[string]*models.Receipt
	originalTxs  map[originalTxKey]*models.OriginalTx
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	history      map[historyKey]*models.AccountHistoryState

	writes map[models.Kind]int

	// Fail, when set, is consulted before every write with the operation
	// name. A non-nil result aborts the write.
	Fail func(op string) error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		cycles:       make(map[string]*models.Cycle),
		receipts:     make(map[string]*models.Receipt),
		originalTxs:  make(map[originalTxKey]*models.OriginalTx),
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
		history:      make(map[historyKey]*models.AccountHistoryState),
		writes:       make(map[models.Kind]int),
	}
}

func (s *MemStore) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	if err := s.Fail(op); err != nil {
		return syncerr.Storage(op, err)
	}
	return nil
}

// Writes returns how many rows of kind were written, including no-op upserts.
func (s *MemStore) Writes(kind models.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[kind]
}

// HistoryStates returns the number of stored account history states.
func (s *MemStore) HistoryStates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// UpsertCycle stores c under its marker.
func (s *MemStore) UpsertCycle(ctx context.Context, c *models.Cycle) error {
	return s.UpsertCycleBatch(ctx, []*models.Cycle{c})
}

// UpsertCycleBatch stores every cycle or none.
func (s *MemStore) UpsertCycleBatch(_ context.Context, cycles []*models.Cycle) error {
	if err := s.fail("upsert_cycles"); err != nil {
		return err
	}
	for _, c := range cycles {
		if err := c.Validate(); err != nil {
			return syncerr.Storage("upsert_cycles", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cycles {
		cp := *c
		s.cycles[c.CycleMarker] = &cp
		s.writes[models.KindCycle]++
	}
	return nil
}

// GetCycleByMarker returns the cycle stored under marker.
func (s *MemStore) GetCycleByMarker(_ context.Context, marker string) (*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[marker]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetCycleByCounter returns the cycle with counter.
func (s *MemStore) GetCycleByCounter(_ context.Context, counter int64) (*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cycles {
		if c.Counter == counter {
			cp := *c
			return &cp, nil
		}
	}
	return nil, syncerr.ErrNotFound
}

// CyclesBetween returns cycles with counter in [start, end], ascending.
func (s *MemStore) CyclesBetween(_ context.Context, start, end int64) ([]*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Cycle
	for _, c := range s.cycles {
		if c.Counter >= start && c.Counter <= end {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Counter < out[j].Counter })
	return out, nil
}

// LatestCycle returns the cycle with the highest counter.
func (s *MemStore) LatestCycle(_ context.Context) (*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Cycle
	for _, c := range s.cycles {
		if latest == nil || c.Counter > latest.Counter {
			latest = c
		}
	}
	if latest == nil {
		return nil, syncerr.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// UpsertReceiptBatch stores receipts, replacing a stored row only when the
// incoming timestamp is strictly newer.
func (s *MemStore) UpsertReceiptBatch(_ context.Context, receipts []*models.Receipt) error {
	if err := s.fail("upsert_receipts"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range receipts {
		s.writes[models.KindReceipt]++
		if prev, ok := s.receipts[r.ID()]; ok && prev.Timestamp >= r.Timestamp {
			continue
		}
		cp := *r
		s.receipts[r.ID()] = &cp
	}
	return nil
}

// UpsertOriginalTxBatch stores OriginalTx records once per (txId, timestamp).
func (s *MemStore) UpsertOriginalTxBatch(_ context.Context, txs []*models.OriginalTx) error {
	if err := s.fail("upsert_original_txs"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range txs {
		s.writes[models.KindOriginalTx]++
		key := originalTxKey{o.TxID, o.Timestamp}
		if _, ok := s.originalTxs[key]; ok {
			continue
		}
		cp := *o
		s.originalTxs[key] = &cp
	}
	return nil
}

// GetReceiptByID returns the stored receipt.
func (s *MemStore) GetReceiptByID(_ context.Context, id string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// OriginalTx returns the stored OriginalTx for a (txId, timestamp) pair.
func (s *MemStore) OriginalTx(id string, ts int64) (*models.OriginalTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.originalTxs[originalTxKey{id, ts}]
	return o, ok
}

// UpsertAccountBatch keeps the newest row per account.
func (s *MemStore) UpsertAccountBatch(_ context.Context, accounts []*models.Account) error {
	if err := s.fail("upsert_accounts"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.writes[models.KindAccount]++
		if prev, ok := s.accounts[a.AccountID]; ok && prev.Timestamp > a.Timestamp {
			continue
		}
		cp := *a
		s.accounts[a.AccountID] = &cp
	}
	return nil
}

// Account returns the stored account.
func (s *MemStore) Account(id string) (*models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok
}

// UpsertTransactionBatch keeps the newest row per transaction.
func (s *MemStore) UpsertTransactionBatch(_ context.Context, txs []*models.Transaction) error {
	if err := s.fail("upsert_transactions"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.writes[models.KindTransaction]++
		if prev, ok := s.transactions[tx.TxID]; ok && prev.Timestamp > tx.Timestamp {
			continue
		}
		cp := *tx
		s.transactions[tx.TxID] = &cp
	}
	return nil
}

// Transaction returns the stored transaction.
func (s *MemStore) Transaction(id string) (*models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	return tx, ok
}

// InsertAccountHistoryStates stores history states once per (account, timestamp).
func (s *MemStore) InsertAccountHistoryStates(_ context.Context, states []*models.AccountHistoryState) error {
	if err := s.fail("insert_history"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range states {
		key := historyKey{h.AccountID, h.Timestamp}
		if _, ok := s.history[key]; ok {
			continue
		}
		cp := *h
		s.history[key] = &cp
	}
	return nil
}

// cyclesOf returns the cycle number of every stored row of kind.
func (s *MemStore) cyclesOf(kind models.Kind) ([]int64, error) {
	var out []int64
	switch kind {
	case models.KindCycle:
		for _, c := range s.cycles {
			out = append(out, c.Counter)
		}
	case models.KindReceipt:
		for _, r := range s.receipts {
			out = append(out, r.Cycle)
		}
	case models.KindOriginalTx:
		for _, o := range s.originalTxs {
			out = append(out, o.Cycle)
		}
	case models.KindAccount:
		for _, a := range s.accounts {
			out = append(out, a.CycleNumber)
		}
	case models.KindTransaction:
		for _, tx := range s.transactions {
			out = append(out, tx.CycleNumber)
		}
	default:
		return nil, syncerr.Storage("count", errUnknownKind(kind))
	}
	return out, nil
}

// CountsByCycleRange returns per-cycle counts for cycles in [start, end].
func (s *MemStore) CountsByCycleRange(_ context.Context, kind models.Kind, start, end int64) ([]models.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles, err := s.cyclesOf(kind)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int64)
	for _, c := range cycles {
		if c >= start && c <= end {
			counts[c]++
		}
	}
	tallies := make([]models.Tally, 0, len(counts))
	for c, n := range counts {
		tallies = append(tallies, models.Tally{Cycle: c, Count: n})
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].Cycle < tallies[j].Cycle })
	return tallies, nil
}

// CountBetweenCycles counts rows of kind in cycles [start, end].
func (s *MemStore) CountBetweenCycles(ctx context.Context, kind models.Kind, start, end int64) (int64, error) {
	tallies, err := s.CountsByCycleRange(ctx, kind, start, end)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, t := range tallies {
		n += t.Count
	}
	return n, nil
}

// TotalCount counts every row of kind.
func (s *MemStore) TotalCount(_ context.Context, kind models.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles, err := s.cyclesOf(kind)
	return int64(len(cycles)), err
}

// LastCycleOf returns the highest cycle of kind.
func (s *MemStore) LastCycleOf(_ context.Context, kind models.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles, err := s.cyclesOf(kind)
	if err != nil {
		return 0, err
	}
	if len(cycles) == 0 {
		return 0, syncerr.ErrNotFound
	}
	last := cycles[0]
	for _, c := range cycles[1:] {
		if c > last {
			last = c
		}
	}
	return last, nil
}

// Totals counts every kind.
func (s *MemStore) Totals(ctx context.Context) (models.Totals, error) {
	var t models.Totals
	var err error
	if t.Cycles, err = s.TotalCount(ctx, models.KindCycle); err != nil {
		return t, err
	}
	t.Receipts, _ = s.TotalCount(ctx, models.KindReceipt)
	t.OriginalTxs, _ = s.TotalCount(ctx, models.KindOriginalTx)
	t.Accounts, _ = s.TotalCount(ctx, models.KindAccount)
	t.Transactions, _ = s.TotalCount(ctx, models.KindTransaction)
	return t, nil
}
