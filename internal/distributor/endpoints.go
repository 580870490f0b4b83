// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package distributor

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// Genesis records live in the first cycles of the network.
const (
	GenesisStartCycle = 0
	GenesisEndCycle   = 5
)

// Totals reads the distributor's record totals.
func (c *Client) Totals(ctx context.Context) (models.Totals, error) {
	var totals models.Totals
	body, err := c.get(ctx, "totals", newAPIRequest("/totalData"))
	if err != nil {
		return totals, err
	}
	if err := json.Unmarshal(body, &totals); err != nil {
		return totals, syncerr.Transport("totals", http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	return totals, nil
}

// Cycles returns cycle payloads with counter in [start, end).
func (c *Client) Cycles(ctx context.Context, start, end int64) ([]json.RawMessage, error) {
	return c.Range(ctx, models.KindCycle, start, end)
}

// Range returns records of kind by storage index in [start, end).
func (c *Client) Range(ctx context.Context, kind models.Kind, start, end int64) ([]json.RawMessage, error) {
	path, err := endpointFor(kind)
	if err != nil {
		return nil, err
	}
	op := kind.String() + "_range"
	body, err := c.get(ctx, op, newAPIRequest(path).addInt("start", start).addInt("end", end))
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := decodeField(op, body, listField(kind), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Tally returns per-cycle record counts for cycles in [startCycle, endCycle],
// sorted by cycle.
func (c *Client) Tally(ctx context.Context, kind models.Kind, startCycle, endCycle int64) ([]models.Tally, error) {
	path, err := txEndpoint(kind)
	if err != nil {
		return nil, err
	}
	op := kind.String() + "_tally"
	req := newAPIRequest(path).
		addInt("startCycle", startCycle).
		addInt("endCycle", endCycle).
		addParam("type", "tally")
	body, err := c.get(ctx, op, req)
	if err != nil {
		return nil, err
	}

	var entries []tallyEntry
	if err := decodeField(op, body, listField(kind), &entries); err != nil {
		return nil, err
	}
	tallies := make([]models.Tally, 0, len(entries))
	for _, e := range entries {
		tallies = append(tallies, models.Tally{Cycle: e.Cycle, Count: e.count()})
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].Cycle < tallies[j].Cycle })
	return tallies, nil
}

// Count returns the number of records of kind in cycles [startCycle, endCycle].
func (c *Client) Count(ctx context.Context, kind models.Kind, startCycle, endCycle int64) (int64, error) {
	path, err := txEndpoint(kind)
	if err != nil {
		return 0, err
	}
	op := kind.String() + "_count"
	req := newAPIRequest(path).
		addInt("startCycle", startCycle).
		addInt("endCycle", endCycle).
		addParam("type", "count")
	body, err := c.get(ctx, op, req)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := decodeField(op, body, listField(kind), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Page returns one page (1-based) of records of kind in cycles
// [startCycle, endCycle].
func (c *Client) Page(ctx context.Context, kind models.Kind, startCycle, endCycle int64, page int) ([]json.RawMessage, error) {
	path, err := txEndpoint(kind)
	if err != nil {
		return nil, err
	}
	op := kind.String() + "_page"
	req := newAPIRequest(path).
		addInt("startCycle", startCycle).
		addInt("endCycle", endCycle).
		addInt("page", int64(page))
	body, err := c.get(ctx, op, req)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := decodeField(op, body, listField(kind), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GenesisCount returns the number of genesis accounts or transactions.
func (c *Client) GenesisCount(ctx context.Context, kind models.Kind) (int64, error) {
	path, err := genesisEndpoint(kind)
	if err != nil {
		return 0, err
	}
	op := kind.String() + "_genesis_count"
	req := newAPIRequest(path).
		addInt("startCycle", GenesisStartCycle).
		addInt("endCycle", GenesisEndCycle)
	body, err := c.get(ctx, op, req)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := decodeField(op, body, countField(kind), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// GenesisPage returns one page (0-based) of genesis accounts or transactions.
func (c *Client) GenesisPage(ctx context.Context, kind models.Kind, page int) ([]json.RawMessage, error) {
	path, err := genesisEndpoint(kind)
	if err != nil {
		return nil, err
	}
	op := kind.String() + "_genesis_page"
	req := newAPIRequest(path).
		addInt("startCycle", GenesisStartCycle).
		addInt("endCycle", GenesisEndCycle).
		addInt("page", int64(page))
	body, err := c.get(ctx, op, req)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := decodeField(op, body, listField(kind), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func txEndpoint(kind models.Kind) (string, error) {
	if kind != models.KindReceipt && kind != models.KindOriginalTx {
		return "", fmt.Errorf("kind %q has no per-cycle queries", kind)
	}
	return endpointFor(kind)
}

func genesisEndpoint(kind models.Kind) (string, error) {
	if kind != models.KindAccount && kind != models.KindTransaction {
		return "", fmt.Errorf("kind %q has no genesis data", kind)
	}
	return endpointFor(kind)
}
