// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrInvalidRecord is wrapped by every structural record check in this package.
var ErrInvalidRecord = errors.New("invalid record")

// Cycle is a consensus cycle record as stored by the collector.
// CycleRecord holds the distributor payload untouched.
type Cycle struct {
	CycleMarker string          `json:"cycleMarker"`
	Counter     int64           `json:"counter"`
	CycleRecord json.RawMessage `json:"cycleRecord"`
}

// cyclePayloadKeys are the payload fields the service reads.
type cyclePayloadKeys struct {
	Marker  string `json:"marker"`
	Counter *int64 `json:"counter"`
	Start   int64  `json:"start"`
}

// CycleFromPayload wraps a bare /cycleinfo payload into a Cycle.
func CycleFromPayload(payload json.RawMessage) (*Cycle, error) {
	var keys cyclePayloadKeys
	if err := json.Unmarshal(payload, &keys); err != nil {
		return nil, fmt.Errorf("%w: decode cycle payload: %v", ErrInvalidRecord, err)
	}
	if keys.Counter == nil {
		return nil, fmt.Errorf("%w: cycle payload has no counter", ErrInvalidRecord)
	}
	c := &Cycle{
		CycleMarker: keys.Marker,
		Counter:     *keys.Counter,
		CycleRecord: payload,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that make a cycle record usable.
func (c *Cycle) Validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil cycle", ErrInvalidRecord)
	case c.CycleMarker == "":
		return fmt.Errorf("%w: cycle %d has no marker", ErrInvalidRecord, c.Counter)
	case c.Counter < 0:
		return fmt.Errorf("%w: cycle %s has negative counter %d", ErrInvalidRecord, c.CycleMarker, c.Counter)
	case len(c.CycleRecord) == 0 || string(c.CycleRecord) == "null":
		return fmt.Errorf("%w: cycle %s has no cycle record", ErrInvalidRecord, c.CycleMarker)
	}
	return nil
}

// StartTimestamp returns the cycle start in unix milliseconds, or 0 when the
// payload does not carry a start time.
func (c *Cycle) StartTimestamp() int64 {
	var keys cyclePayloadKeys
	if err := json.Unmarshal(c.CycleRecord, &keys); err != nil {
		return 0
	}
	return keys.Start * 1000
}
