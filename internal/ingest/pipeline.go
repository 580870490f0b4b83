// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package ingest turns distributor payloads into stored records.
//
// Two entry points share the same write logic:
//
//   - Process / Ingest: the push path. Envelopes are shape-checked, their
//     owner and signature verified, appended to the audit log and applied.
//   - Apply*: the trusted path used by backfill and repair. Records fetched
//     from the distributor API are applied without signature checks.
//
// Receipts and OriginalTx records consult a per-kind dedup cache first; the
// cache is only updated after the write succeeded.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/cache"
	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/signature"
	"github.com/tomtom215/cyclesync/internal/syncerr"
	"github.com/tomtom215/cyclesync/internal/validation"
)

// Store is the storage collaborator of the pipeline and the sync engine.
type Store interface {
	UpsertCycle(ctx context.Context, c *models.Cycle) error
	UpsertCycleBatch(ctx context.Context, cycles []*models.Cycle) error
	GetCycleByMarker(ctx context.Context, marker string) (*models.Cycle, error)
	GetCycleByCounter(ctx context.Context, counter int64) (*models.Cycle, error)
	CyclesBetween(ctx context.Context, start, end int64) ([]*models.Cycle, error)
	LatestCycle(ctx context.Context) (*models.Cycle, error)

	UpsertReceiptBatch(ctx context.Context, receipts []*models.Receipt) error
	UpsertOriginalTxBatch(ctx context.Context, txs []*models.OriginalTx) error
	GetReceiptByID(ctx context.Context, id string) (*models.Receipt, error)

	UpsertAccountBatch(ctx context.Context, accounts []*models.Account) error
	UpsertTransactionBatch(ctx context.Context, txs []*models.Transaction) error
	InsertAccountHistoryStates(ctx context.Context, states []*models.AccountHistoryState) error

	CountsByCycleRange(ctx context.Context, kind models.Kind, start, end int64) ([]models.Tally, error)
	CountBetweenCycles(ctx context.Context, kind models.Kind, start, end int64) (int64, error)
	TotalCount(ctx context.Context, kind models.Kind) (int64, error)
	LastCycleOf(ctx context.Context, kind models.Kind) (int64, error)
}

// AuditLog receives the canonical payload of every accepted envelope.
type AuditLog interface {
	Append(kind models.Kind, line []byte) error
}

// CycleObserver is told about every valid cycle the pipeline sees.
type CycleObserver interface {
	ObserveCycle(counter int64)
}

// Forwarder relays accepted payloads to downstream subscribers.
type Forwarder interface {
	Forward(kind models.Kind, payload []byte)
}

// Options configures a Pipeline.
type Options struct {
	// PublicKey is the distributor key pushed envelopes must be signed with.
	PublicKey string

	Ingest config.IngestConfig

	// CacheSize bounds each dedup cache.
	CacheSize int

	// SweepLookback is subtracted from now when a new cycle sweeps the caches.
	SweepLookback time.Duration

	AuditLog  AuditLog
	Forwarder Forwarder
}

// Pipeline validates and applies distributor payloads.
type Pipeline struct {
	store     Store
	verifier  *signature.Verifier
	publicKey string
	opts      config.IngestConfig
	lookback  time.Duration
	audit     AuditLog
	forwarder Forwarder

	receipts    *cache.DedupCache
	originalTxs *cache.DedupCache

	mu       sync.RWMutex
	observer CycleObserver

	now func() time.Time
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store Store, verifier *signature.Verifier, opts Options) *Pipeline {
	lookback := opts.SweepLookback
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	return &Pipeline{
		store:       store,
		verifier:    verifier,
		publicKey:   strings.ToLower(opts.PublicKey),
		opts:        opts.Ingest,
		lookback:    lookback,
		audit:       opts.AuditLog,
		forwarder:   opts.Forwarder,
		receipts:    cache.NewDedupCache(opts.CacheSize),
		originalTxs: cache.NewDedupCache(opts.CacheSize),
		now:         time.Now,
	}
}

// SetCycleObserver registers the observer told about every valid cycle.
func (p *Pipeline) SetCycleObserver(o CycleObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

func (p *Pipeline) observeCycle(counter int64) {
	p.mu.RLock()
	o := p.observer
	p.mu.RUnlock()
	if o != nil {
		o.ObserveCycle(counter)
	}
}

// Cache returns the dedup cache of a tx kind, or nil for other kinds.
func (p *Pipeline) Cache(kind models.Kind) *cache.DedupCache {
	switch kind {
	case models.KindReceipt:
		return p.receipts
	case models.KindOriginalTx:
		return p.originalTxs
	}
	return nil
}

// Sweep drops dedup entries older than horizon (unix ms) from both caches.
func (p *Pipeline) Sweep(horizon int64) int {
	total := 0
	for _, kind := range models.TxKinds {
		c := p.Cache(kind)
		n := c.Sweep(horizon)
		total += n
		metrics.DedupCacheSwept.WithLabelValues(kind.String()).Add(float64(n))
		metrics.DedupCacheSize.WithLabelValues(kind.String()).Set(float64(c.Len()))
	}
	return total
}

// Process handles one pushed envelope and reports whether it was accepted.
// Storage failures after acceptance are logged and do not change the result.
func (p *Pipeline) Process(ctx context.Context, raw []byte) bool {
	accepted, err := p.Ingest(ctx, raw)
	if err != nil && !syncerr.IsValidation(err) {
		logging.Ctx(ctx).Error().Err(err).Bool("accepted", accepted).Msg("Failed to ingest envelope")
	}
	return accepted
}

// Ingest validates and applies one pushed envelope. A ValidationError means
// it was rejected; a StorageError means it was accepted but not fully written.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) (bool, error) {
	kind, records, err := p.validate(raw)
	if err != nil {
		return false, err
	}
	metrics.EnvelopesAccepted.WithLabelValues(kind.String()).Inc()

	p.appendAudit(kind, records)

	switch kind {
	case models.KindCycle:
		err = p.applyPushedCycles(ctx, records)
	case models.KindReceipt:
		_, err = p.applyReceipts(ctx, DecodeReceipts(records), pathPush)
	case models.KindOriginalTx:
		_, err = p.applyOriginalTxs(ctx, DecodeOriginalTxs(records), pathPush)
	}

	if p.forwarder != nil && p.opts.ForwardEnvelopes {
		p.forward(kind, records)
	}
	return true, err
}

// validate runs the push-path checks and returns the single payload kind.
func (p *Pipeline) validate(raw []byte) (models.Kind, []json.RawMessage, error) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, p.reject("malformed", err)
	}
	if se := validation.ValidateStruct(&env); se != nil {
		return "", nil, p.reject("shape", se)
	}
	if !strings.EqualFold(env.Sign.Owner, p.publicKey) {
		return "", nil, p.reject("unknown_owner", nil)
	}
	if _, err := p.verifier.Verify(raw); err != nil {
		return "", nil, p.reject("bad_signature", err)
	}
	kinds := env.PayloadKinds()
	if len(kinds) != 1 {
		return "", nil, p.reject("payload_count", nil)
	}
	return kinds[0], env.Payload(kinds[0]), nil
}

func (p *Pipeline) reject(reason string, err error) error {
	metrics.EnvelopesRejected.WithLabelValues(reason).Inc()
	logging.Warn().Err(err).Str("reason", reason).Msg("Rejected envelope")
	return syncerr.Validation(reason, err)
}

// appendAudit writes one line per cycle, or one line per receipt or
// OriginalTx batch.
func (p *Pipeline) appendAudit(kind models.Kind, records []json.RawMessage) {
	if p.audit == nil {
		return
	}

	var lines [][]byte
	if kind == models.KindCycle {
		for _, r := range records {
			if line, err := signature.Canonicalize(r); err == nil {
				lines = append(lines, line)
			}
		}
	} else if batch, err := json.Marshal(records); err == nil {
		if line, err := signature.Canonicalize(batch); err == nil {
			lines = append(lines, line)
		}
	}

	for _, line := range lines {
		if err := p.audit.Append(kind, line); err != nil {
			logging.Warn().Err(err).Str("kind", kind.String()).Msg("Audit log append failed")
		}
	}
}

func (p *Pipeline) forward(kind models.Kind, records []json.RawMessage) {
	payload, err := json.Marshal(map[string][]json.RawMessage{models.EnvelopeField(kind): records})
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to encode forwarded payload")
		return
	}
	p.forwarder.Forward(kind, payload)
}
