// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package ingest

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// ReplayLine applies one audit log line through the trusted path. Cycle
// lines hold a single pushed cycle; receipt and OriginalTx lines hold the
// whole accepted batch.
func (p *Pipeline) ReplayLine(ctx context.Context, kind models.Kind, line []byte) error {
	switch kind {
	case models.KindCycle:
		c, err := decodePushedCycle(line)
		if err != nil {
			skipInvalid(kind, "", err)
			return nil
		}
		_, err = p.ApplyCycles(ctx, []*models.Cycle{c})
		return err
	case models.KindReceipt, models.KindOriginalTx:
		var records []json.RawMessage
		if err := json.Unmarshal(line, &records); err != nil {
			skipInvalid(kind, "", syncerr.Consistency(kind.String(), "", "undecodable audit line", err))
			return nil
		}
		var err error
		if kind == models.KindReceipt {
			_, err = p.ApplyReceipts(ctx, DecodeReceipts(records))
		} else {
			_, err = p.ApplyOriginalTxs(ctx, DecodeOriginalTxs(records))
		}
		return err
	}
	return fmt.Errorf("replay: unsupported kind %q", kind)
}
