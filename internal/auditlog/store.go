// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package auditlog keeps a bounded, replayable log of every payload accepted
// from the push path, one canonical JSON line per record batch.
//
// Entries are stored in BadgerDB under "log:<kind>:<seq>" with a zero-padded
// sequence so that key order is append order. Each kind keeps at most
// Retention entries; older ones are deleted as new ones arrive.
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/models"
)

const (
	keyPrefix = "log:"
	seqPrefix = "seq:"

	// seqBandwidth is how many sequence numbers Badger leases at a time.
	seqBandwidth = 1000
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("audit log closed")

// Store is the Badger-backed audit log.
type Store struct {
	db        *badger.DB
	retention int

	mu     sync.Mutex
	seqs   map[models.Kind]*badger.Sequence
	counts map[models.Kind]int
	closed bool
}

// Open opens (or creates) the audit log in dir. An empty dir keeps the log in
// memory, which tests use.
func Open(dir string, retention int) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{
		db:        db,
		retention: retention,
		seqs:      make(map[models.Kind]*badger.Sequence),
		counts:    make(map[models.Kind]int),
	}

	for _, kind := range []models.Kind{models.KindCycle, models.KindReceipt, models.KindOriginalTx} {
		n, err := s.countKeys(kind)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.counts[kind] = n
	}

	logging.Info().
		Str("dir", dir).
		Int("retention", retention).
		Msg("Audit log opened")
	return s, nil
}

func kindPrefix(kind models.Kind) []byte {
	return []byte(keyPrefix + kind.String() + ":")
}

func entryKey(kind models.Kind, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", keyPrefix, kind, seq))
}

func (s *Store) countKeys(kind models.Kind) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := kindPrefix(kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s entries: %w", kind, err)
	}
	return n, nil
}

// sequence returns the lease for kind. Caller holds s.mu.
func (s *Store) sequence(kind models.Kind) (*badger.Sequence, error) {
	if seq, ok := s.seqs[kind]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte(seqPrefix+kind.String()), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("get %s sequence: %w", kind, err)
	}
	s.seqs[kind] = seq
	return seq, nil
}

// Append stores one line for kind and trims the oldest entries beyond the
// retention bound.
func (s *Store) Append(kind models.Kind, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	seq, err := s.sequence(kind)
	if err != nil {
		return err
	}
	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("next %s sequence: %w", kind, err)
	}

	value := append([]byte(nil), line...)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(kind, n), value)
	}); err != nil {
		return fmt.Errorf("write %s entry: %w", kind, err)
	}
	s.counts[kind]++

	if s.retention > 0 && s.counts[kind] > s.retention {
		removed, err := s.trim(kind, s.counts[kind]-s.retention)
		if err != nil {
			return err
		}
		s.counts[kind] -= removed
	}
	return nil
}

// trim deletes the n oldest entries of kind. Caller holds s.mu.
func (s *Store) trim(kind models.Kind, n int) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := kindPrefix(kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < n; it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s entries: %w", kind, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete %s entry: %w", kind, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush %s trim: %w", kind, err)
	}
	return len(keys), nil
}

// Replay calls fn for every stored line of kind, oldest first.
// It stops at the first error returned by fn.
func (s *Store) Replay(ctx context.Context, kind models.Kind, fn func(ctx context.Context, line []byte) error) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	replayed := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := kindPrefix(kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			line, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s entry: %w", kind, err)
			}
			if err := fn(ctx, line); err != nil {
				return err
			}
			replayed++
		}
		return nil
	})
	return replayed, err
}

// Len returns the number of retained entries for kind.
func (s *Store) Len(kind models.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Close releases sequence leases and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for kind, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			logging.Warn().Err(err).Str("kind", kind.String()).Msg("Failed to release audit log sequence")
		}
	}
	return s.db.Close()
}
