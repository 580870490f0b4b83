// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package auditlog

import (
	"context"
	"errors"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
)

// ErrBufferFull is returned by Writer.Append when the buffer is saturated.
var ErrBufferFull = errors.New("audit log buffer full")

// Appender persists audit lines.
type Appender interface {
	Append(kind models.Kind, line []byte) error
}

type entry struct {
	kind models.Kind
	line []byte
}

// Writer decouples the push path from disk latency: Append only enqueues,
// Serve drains the queue into the underlying Appender.
type Writer struct {
	store Appender
	queue chan entry
}

// NewWriter creates a writer with the given buffer size.
func NewWriter(store Appender, bufferSize int) *Writer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Writer{
		store: store,
		queue: make(chan entry, bufferSize),
	}
}

// Append enqueues a line without blocking. When the buffer is full the line is
// dropped and ErrBufferFull returned.
func (w *Writer) Append(kind models.Kind, line []byte) error {
	select {
	case w.queue <- entry{kind: kind, line: line}:
		return nil
	default:
		metrics.AuditLogDropped.Inc()
		logging.Warn().Str("kind", kind.String()).Msg("Audit log buffer full, dropping entry")
		return ErrBufferFull
	}
}

// Serve writes queued entries until ctx is cancelled, then drains what
// is left. It implements suture.Service.
func (w *Writer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case e := <-w.queue:
			w.write(e)
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		default:
			return
		}
	}
}

func (w *Writer) write(e entry) {
	if err := w.store.Append(e.kind, e.line); err != nil {
		logging.Error().Err(err).Str("kind", e.kind.String()).Msg("Failed to write audit log entry")
		return
	}
	metrics.AuditLogAppends.WithLabelValues(e.kind.String()).Inc()
}

// Pending returns the number of queued entries.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// String implements fmt.Stringer for supervisor logs.
func (w *Writer) String() string {
	return "audit-log-writer"
}
