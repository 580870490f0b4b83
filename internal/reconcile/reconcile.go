// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package reconcile compares local per-cycle counts and cycle records with
// the distributor.
//
// CompareTallies drives the periodic sync round. VerifyRecentHistory and
// VerifyCycleHistory are used at startup to find the newest cycle up to which
// the local replica still agrees with the distributor.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/signature"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// DefaultHistoryWindow is the number of cycles the verify walks inspect.
const DefaultHistoryWindow = 10

// Remote is the part of the distributor client the engine reads.
type Remote interface {
	Tally(ctx context.Context, kind models.Kind, startCycle, endCycle int64) ([]models.Tally, error)
	Cycles(ctx context.Context, start, end int64) ([]json.RawMessage, error)
}

// Local is the part of the store the engine reads.
type Local interface {
	CountsByCycleRange(ctx context.Context, kind models.Kind, start, end int64) ([]models.Tally, error)
	CyclesBetween(ctx context.Context, start, end int64) ([]*models.Cycle, error)
}

// VerifyResult reports how far a verify walk got.
type VerifyResult struct {
	Success      bool  `json:"success"`
	MatchedCycle int64 `json:"matchedCycle"`
}

// Engine runs count and content comparisons.
type Engine struct {
	remote Remote
	local  Local
	window int64
}

// NewEngine creates an engine. A non-positive window uses DefaultHistoryWindow.
func NewEngine(remote Remote, local Local, window int64) *Engine {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Engine{remote: remote, local: local, window: window}
}

// CompareTallies returns one mismatch for every cycle in [start, end] whose
// remote and local counts differ, ascending by cycle.
func (e *Engine) CompareTallies(ctx context.Context, kind models.Kind, start, end int64) ([]models.Mismatch, error) {
	if end < start {
		return nil, nil
	}
	remote, err := e.remote.Tally(ctx, kind, start, end)
	if err != nil {
		return nil, fmt.Errorf("remote %s tally [%d, %d]: %w", kind, start, end, err)
	}
	local, err := e.local.CountsByCycleRange(ctx, kind, start, end)
	if err != nil {
		return nil, fmt.Errorf("local %s tally [%d, %d]: %w", kind, start, end, err)
	}

	mismatches := Diff(remote, local, start, end)
	if len(mismatches) > 0 {
		metrics.ReconcileMismatches.WithLabelValues(kind.String()).Add(float64(len(mismatches)))
		logging.Ctx(ctx).Info().
			Str("kind", kind.String()).
			Int64("start", start).
			Int64("end", end).
			Int("mismatches", len(mismatches)).
			Msg("Tally mismatch")
	}
	return mismatches, nil
}

// Diff compares two tallies over [start, end]. A cycle missing on one side
// counts as zero there; LocalCount is nil when the local side has no entry.
func Diff(remote, local []models.Tally, start, end int64) []models.Mismatch {
	remoteBy := make(map[int64]int64, len(remote))
	localBy := make(map[int64]int64, len(local))
	cycles := make([]int64, 0, len(remote)+len(local))

	for _, t := range remote {
		if t.Cycle < start || t.Cycle > end {
			continue
		}
		if _, dup := remoteBy[t.Cycle]; !dup {
			cycles = append(cycles, t.Cycle)
		}
		remoteBy[t.Cycle] = t.Count
	}
	for _, t := range local {
		if t.Cycle < start || t.Cycle > end {
			continue
		}
		_, inRemote := remoteBy[t.Cycle]
		_, dup := localBy[t.Cycle]
		if !inRemote && !dup {
			cycles = append(cycles, t.Cycle)
		}
		localBy[t.Cycle] = t.Count
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i] < cycles[j] })

	var out []models.Mismatch
	for _, c := range cycles {
		r := remoteBy[c]
		l, ok := localBy[c]
		if ok && l == r {
			continue
		}
		if !ok && r == 0 {
			continue
		}
		m := models.Mismatch{Cycle: c, RemoteCount: r}
		if ok {
			lc := l
			m.LocalCount = &lc
		}
		out = append(out, m)
	}
	return out
}

// historyWindow returns the cycles [max(0, last-window), last-1].
func (e *Engine) historyWindow(last int64) (int64, int64) {
	start := last - e.window
	if start < 0 {
		start = 0
	}
	return start, last - 1
}

// VerifyRecentHistory walks the cycles preceding lastStoredCycle and compares
// per-cycle counts. The walk stops at the first divergent cycle.
func (e *Engine) VerifyRecentHistory(ctx context.Context, kind models.Kind, lastStoredCycle int64) (VerifyResult, error) {
	start, end := e.historyWindow(lastStoredCycle)
	if end < start {
		return VerifyResult{Success: true, MatchedCycle: lastStoredCycle}, nil
	}

	remote, err := e.remote.Tally(ctx, kind, start, end)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("remote %s tally [%d, %d]: %w", kind, start, end, err)
	}
	local, err := e.local.CountsByCycleRange(ctx, kind, start, end)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("local %s tally [%d, %d]: %w", kind, start, end, err)
	}
	remoteBy := tallyMap(remote)
	localBy := tallyMap(local)

	var matched int64
	for c := start; c <= end; c++ {
		if remoteBy[c] != localBy[c] {
			logging.Ctx(ctx).Warn().
				Str("kind", kind.String()).
				Int64("cycle", c).
				Int64("remote", remoteBy[c]).
				Int64("local", localBy[c]).
				Int64("matched_cycle", matched).
				Msg("Recent history diverges")
			return VerifyResult{Success: false, MatchedCycle: matched}, nil
		}
		matched = c
	}
	return VerifyResult{Success: true, MatchedCycle: lastStoredCycle}, nil
}

// VerifyCycleHistory walks the cycles preceding lastCounter and requires the
// stored record to equal the distributor's in canonical form.
func (e *Engine) VerifyCycleHistory(ctx context.Context, lastCounter int64) (VerifyResult, error) {
	start, end := e.historyWindow(lastCounter)
	if end < start {
		return VerifyResult{Success: true, MatchedCycle: lastCounter}, nil
	}

	raws, err := e.remote.Cycles(ctx, start, end+1)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("remote cycles [%d, %d]: %w", start, end, err)
	}
	stored, err := e.local.CyclesBetween(ctx, start, end)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("local cycles [%d, %d]: %w", start, end, err)
	}
	localBy := make(map[int64]*models.Cycle, len(stored))
	for _, c := range stored {
		localBy[c.Counter] = c
	}

	remote := make([]*models.Cycle, 0, len(raws))
	for _, raw := range raws {
		c, err := models.CycleFromPayload(raw)
		if err != nil {
			return VerifyResult{}, syncerr.Consistency(models.KindCycle.String(), "", "invalid remote cycle", err)
		}
		remote = append(remote, c)
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].Counter < remote[j].Counter })

	var matched int64
	for _, rc := range remote {
		lc, ok := localBy[rc.Counter]
		var cerr error
		switch {
		case !ok:
			cerr = syncerr.Consistency(models.KindCycle.String(), rc.CycleMarker, "cycle missing locally", nil)
		case !canonicalEqual(lc.CycleRecord, rc.CycleRecord):
			cerr = syncerr.Consistency(models.KindCycle.String(), rc.CycleMarker, "cycle record diverges", nil)
		}
		if cerr != nil {
			logging.Ctx(ctx).Error().Err(cerr).
				Int64("counter", rc.Counter).
				Int64("matched_cycle", matched).
				Msg("Cycle history diverges")
			return VerifyResult{Success: false, MatchedCycle: matched}, nil
		}
		matched = rc.Counter
	}
	return VerifyResult{Success: true, MatchedCycle: lastCounter}, nil
}

func tallyMap(tallies []models.Tally) map[int64]int64 {
	m := make(map[int64]int64, len(tallies))
	for _, t := range tallies {
		m[t.Cycle] = t.Count
	}
	return m
}

func canonicalEqual(a, b json.RawMessage) bool {
	ca, err := signature.Canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := signature.Canonicalize(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
