// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package ingest

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/cache"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/signature"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

const (
	pathPush    = "push"
	pathTrusted = "trusted"
)

// ApplyResult counts what a batch apply did.
type ApplyResult struct {
	Applied int
	Skipped int
}

// Add accumulates another result.
func (r *ApplyResult) Add(o ApplyResult) {
	r.Applied += o.Applied
	r.Skipped += o.Skipped
}

// ApplyCycles writes trusted cycles. Cycles whose stored record is already
// identical are not rewritten. Every valid cycle is reported to the observer.
func (p *Pipeline) ApplyCycles(ctx context.Context, cycles []*models.Cycle) (ApplyResult, error) {
	var res ApplyResult
	valid := make([]*models.Cycle, 0, len(cycles))
	minC, maxC := int64(-1), int64(-1)
	for _, c := range cycles {
		if err := c.Validate(); err != nil {
			skipInvalid(models.KindCycle, "", syncerr.Consistency(models.KindCycle.String(), "", "invalid cycle", err))
			res.Skipped++
			continue
		}
		valid = append(valid, c)
		if minC < 0 || c.Counter < minC {
			minC = c.Counter
		}
		if c.Counter > maxC {
			maxC = c.Counter
		}
	}
	if len(valid) == 0 {
		return res, nil
	}

	existing, err := p.store.CyclesBetween(ctx, minC, maxC)
	if err != nil {
		return res, err
	}
	stored := make(map[string]json.RawMessage, len(existing))
	for _, c := range existing {
		stored[c.CycleMarker] = c.CycleRecord
	}

	changed := make([]*models.Cycle, 0, len(valid))
	inserted := false
	for _, c := range valid {
		prev, ok := stored[c.CycleMarker]
		if ok && sameRecord(prev, c.CycleRecord) {
			metrics.CycleWrites.WithLabelValues("unchanged").Inc()
			res.Skipped++
			continue
		}
		if !ok {
			inserted = true
		}
		changed = append(changed, c)
	}

	if len(changed) > 0 {
		if err := p.store.UpsertCycleBatch(ctx, changed); err != nil {
			return res, err
		}
		metrics.CycleWrites.WithLabelValues("upserted").Add(float64(len(changed)))
		metrics.RecordsApplied.WithLabelValues(models.KindCycle.String(), pathTrusted).Add(float64(len(changed)))
		res.Applied = len(changed)
	}
	if inserted {
		p.sweepCaches(maxC)
	}

	for _, c := range valid {
		p.observeCycle(c.Counter)
	}
	return res, nil
}

// applyPushedCycles writes cycles from a pushed envelope one at a time. A
// cycle with a new marker also sweeps the dedup caches.
func (p *Pipeline) applyPushedCycles(ctx context.Context, records []json.RawMessage) error {
	var errs []error
	for _, raw := range records {
		c, err := decodePushedCycle(raw)
		if err != nil {
			skipInvalid(models.KindCycle, "", err)
			continue
		}
		if err := p.writeCycle(ctx, c); err != nil {
			errs = append(errs, err)
			continue
		}
		p.observeCycle(c.Counter)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) writeCycle(ctx context.Context, c *models.Cycle) error {
	prev, err := p.store.GetCycleByMarker(ctx, c.CycleMarker)
	switch {
	case errors.Is(err, syncerr.ErrNotFound):
		if err := p.store.UpsertCycle(ctx, c); err != nil {
			return err
		}
		metrics.CycleWrites.WithLabelValues("inserted").Inc()
		metrics.RecordsApplied.WithLabelValues(models.KindCycle.String(), pathPush).Inc()
		p.sweepCaches(c.Counter)
		return nil
	case err != nil:
		return err
	}

	if sameRecord(prev.CycleRecord, c.CycleRecord) {
		metrics.CycleWrites.WithLabelValues("unchanged").Inc()
		return nil
	}
	if err := p.store.UpsertCycle(ctx, c); err != nil {
		return err
	}
	metrics.CycleWrites.WithLabelValues("updated").Inc()
	metrics.RecordsApplied.WithLabelValues(models.KindCycle.String(), pathPush).Inc()
	return nil
}

// sweepCaches runs after a new cycle marker is stored.
func (p *Pipeline) sweepCaches(counter int64) {
	horizon := p.now().Add(-p.lookback).UnixMilli()
	if n := p.Sweep(horizon); n > 0 {
		logging.Debug().Int("swept", n).Int64("cycle", counter).Msg("Swept dedup caches")
	}
}

// remember caches ts for id unless a newer timestamp is already cached.
func remember(c *cache.DedupCache, id string, ts int64) {
	if cached, ok := c.Get(id); ok && cached > ts {
		return
	}
	c.Set(id, ts)
}

// sameRecord compares two cycle records by their canonical encoding.
func sameRecord(a, b json.RawMessage) bool {
	ca, errA := signature.Canonicalize(a)
	cb, errB := signature.Canonicalize(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

// ApplyReceipts writes trusted receipts and their projections.
func (p *Pipeline) ApplyReceipts(ctx context.Context, receipts []*models.Receipt) (ApplyResult, error) {
	return p.applyReceipts(ctx, receipts, pathTrusted)
}

func (p *Pipeline) applyReceipts(ctx context.Context, receipts []*models.Receipt, path string) (ApplyResult, error) {
	var res ApplyResult
	batch := make([]*models.Receipt, 0, len(receipts))
	index := make(map[string]int, len(receipts))
	for _, r := range receipts {
		if err := r.Validate(); err != nil {
			skipInvalid(models.KindReceipt, "", syncerr.Consistency(models.KindReceipt.String(), "", "invalid receipt", err))
			res.Skipped++
			continue
		}
		id := r.ID()
		if p.receipts.Seen(id, r.Timestamp) {
			metrics.RecordsSkipped.WithLabelValues(models.KindReceipt.String(), "duplicate").Inc()
			res.Skipped++
			continue
		}
		if i, ok := index[id]; ok {
			res.Skipped++
			if r.Timestamp > batch[i].Timestamp {
				batch[i] = r
			}
			continue
		}
		index[id] = len(batch)
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		return res, nil
	}

	if !p.opts.StoreReceiptBeforeStates {
		for _, r := range batch {
			r.BeforeStates = nil
		}
	}

	if err := p.store.UpsertReceiptBatch(ctx, batch); err != nil {
		return res, err
	}
	if err := p.writeProjections(ctx, batch); err != nil {
		return res, err
	}

	for _, r := range batch {
		remember(p.receipts, r.ID(), r.Timestamp)
	}
	metrics.DedupCacheSize.WithLabelValues(models.KindReceipt.String()).Set(float64(p.receipts.Len()))
	metrics.RecordsApplied.WithLabelValues(models.KindReceipt.String(), path).Add(float64(len(batch)))
	res.Applied = len(batch)
	return res, nil
}

// writeProjections derives accounts, transactions and history states from
// stored receipts.
func (p *Pipeline) writeProjections(ctx context.Context, receipts []*models.Receipt) error {
	if p.opts.IndexReceipt {
		accounts := make(map[string]*models.Account)
		var txs []*models.Transaction
		for _, r := range receipts {
			for _, ac := range r.AfterStates {
				if ac.AccountID == "" {
					continue
				}
				a := models.AccountFromCopy(ac, r.Cycle)
				if prev, ok := accounts[a.AccountID]; ok && prev.Timestamp >= a.Timestamp {
					continue
				}
				accounts[a.AccountID] = a
			}
			tx, err := models.TransactionFromReceipt(r)
			if err != nil {
				skipInvalid(models.KindTransaction, r.ID(), syncerr.Consistency(models.KindTransaction.String(), r.ID(), "invalid appReceiptData", err))
				continue
			}
			if tx != nil {
				txs = append(txs, tx)
			}
		}
		if len(accounts) > 0 {
			batch := make([]*models.Account, 0, len(accounts))
			for _, a := range accounts {
				batch = append(batch, a)
			}
			if err := p.store.UpsertAccountBatch(ctx, batch); err != nil {
				return err
			}
			metrics.RecordsApplied.WithLabelValues(models.KindAccount.String(), "projection").Add(float64(len(batch)))
		}
		if len(txs) > 0 {
			if err := p.store.UpsertTransactionBatch(ctx, txs); err != nil {
				return err
			}
			metrics.RecordsApplied.WithLabelValues(models.KindTransaction.String(), "projection").Add(float64(len(txs)))
		}
	}

	if p.opts.SaveAccountHistoryState {
		var states []*models.AccountHistoryState
		for _, r := range receipts {
			states = append(states, models.HistoryStatesFromReceipt(r)...)
		}
		if len(states) > 0 {
			if err := p.store.InsertAccountHistoryStates(ctx, states); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyOriginalTxs writes trusted OriginalTx records.
func (p *Pipeline) ApplyOriginalTxs(ctx context.Context, txs []*models.OriginalTx) (ApplyResult, error) {
	return p.applyOriginalTxs(ctx, txs, pathTrusted)
}

func (p *Pipeline) applyOriginalTxs(ctx context.Context, txs []*models.OriginalTx, path string) (ApplyResult, error) {
	var res ApplyResult
	batch := make([]*models.OriginalTx, 0, len(txs))
	seen := make(map[string]struct{}, len(txs))
	for _, o := range txs {
		if err := o.Validate(); err != nil {
			skipInvalid(models.KindOriginalTx, "", syncerr.Consistency(models.KindOriginalTx.String(), "", "invalid original tx", err))
			res.Skipped++
			continue
		}
		if p.originalTxs.Seen(o.TxID, o.Timestamp) {
			metrics.RecordsSkipped.WithLabelValues(models.KindOriginalTx.String(), "duplicate").Inc()
			res.Skipped++
			continue
		}
		key := o.TxID + "|" + strconv.FormatInt(o.Timestamp, 10)
		if _, dup := seen[key]; dup {
			res.Skipped++
			continue
		}
		seen[key] = struct{}{}
		if p.opts.IndexOriginalTx {
			o.IndexFields()
		}
		batch = append(batch, o)
	}
	if len(batch) == 0 {
		return res, nil
	}

	if err := p.store.UpsertOriginalTxBatch(ctx, batch); err != nil {
		return res, err
	}
	for _, o := range batch {
		remember(p.originalTxs, o.TxID, o.Timestamp)
	}
	metrics.DedupCacheSize.WithLabelValues(models.KindOriginalTx.String()).Set(float64(p.originalTxs.Len()))
	metrics.RecordsApplied.WithLabelValues(models.KindOriginalTx.String(), path).Add(float64(len(batch)))
	res.Applied = len(batch)
	return res, nil
}

// ApplyAccounts writes genesis accounts.
func (p *Pipeline) ApplyAccounts(ctx context.Context, accounts []*models.Account) (ApplyResult, error) {
	var res ApplyResult
	batch := make([]*models.Account, 0, len(accounts))
	for _, a := range accounts {
		if a == nil || a.AccountID == "" {
			skipInvalid(models.KindAccount, "", syncerr.Consistency(models.KindAccount.String(), "", "account has no id", models.ErrInvalidRecord))
			res.Skipped++
			continue
		}
		batch = append(batch, a)
	}
	if len(batch) == 0 {
		return res, nil
	}
	if err := p.store.UpsertAccountBatch(ctx, batch); err != nil {
		return res, err
	}
	metrics.RecordsApplied.WithLabelValues(models.KindAccount.String(), pathTrusted).Add(float64(len(batch)))
	res.Applied = len(batch)
	return res, nil
}

// ApplyTransactions writes genesis transactions.
func (p *Pipeline) ApplyTransactions(ctx context.Context, txs []*models.Transaction) (ApplyResult, error) {
	var res ApplyResult
	batch := make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx == nil || tx.TxID == "" {
			skipInvalid(models.KindTransaction, "", syncerr.Consistency(models.KindTransaction.String(), "", "transaction has no id", models.ErrInvalidRecord))
			res.Skipped++
			continue
		}
		if len(tx.OriginalTxData) == 0 {
			tx.OriginalTxData = json.RawMessage(`{}`)
		}
		batch = append(batch, tx)
	}
	if len(batch) == 0 {
		return res, nil
	}
	if err := p.store.UpsertTransactionBatch(ctx, batch); err != nil {
		return res, err
	}
	metrics.RecordsApplied.WithLabelValues(models.KindTransaction.String(), pathTrusted).Add(float64(len(batch)))
	res.Applied = len(batch)
	return res, nil
}
