// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package eventprocessor

import (
	"context"

	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// Handler ingests one envelope and reports whether it was accepted.
// Pipeline.Ingest satisfies it.
type Handler func(ctx context.Context, raw []byte) (bool, error)

// shouldAck reports whether a message handled with err is done. Only
// storage failures are worth a redelivery.
func shouldAck(err error) bool {
	return err == nil || !syncerr.IsStorage(err)
}
