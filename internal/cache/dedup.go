// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package cache provides the bounded dedup cache used by the ingestion pipeline.
//
// One DedupCache exists per transaction kind (receipts and OriginalTx). It maps
// a record id to the last timestamp written for it. A pushed record whose
// timestamp equals the cached one is a redelivery and is skipped before any
// storage work. The cache is an optimization only: storage upserts are
// idempotent, so an evicted or swept entry costs one redundant write.
package cache

import (
	"sync"
)

type dedupEntry struct {
	id   string
	ts   int64
	prev *dedupEntry
	next *dedupEntry
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Swept     int64
	Size      int
	Capacity  int
}

// DedupCache maps record ids to their last-seen timestamp with a hard capacity.
//
// Entries live in a doubly-linked list ordered by the time they were last Set;
// when capacity is exceeded the least recently set entry is evicted. All
// operations except Sweep are O(1).
type DedupCache struct {
	mu sync.Mutex

	capacity int
	items    map[string]*dedupEntry

	// head.next is the most recently set entry, tail.prev the least.
	head *dedupEntry
	tail *dedupEntry

	hits      int64
	misses    int64
	evictions int64
	swept     int64
}

// DefaultCapacity applies when NewDedupCache is given a non-positive capacity.
const DefaultCapacity = 100000

// NewDedupCache creates an empty cache holding at most capacity entries.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &DedupCache{
		capacity: capacity,
		items:    make(map[string]*dedupEntry),
		head:     &dedupEntry{},
		tail:     &dedupEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Seen reports whether id was last set with exactly ts.
func (c *DedupCache) Seen(id string, ts int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok && e.ts == ts {
		c.hits++
		return true
	}
	c.misses++
	return false
}

// Get returns the cached timestamp for id.
func (c *DedupCache) Get(id string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		return e.ts, true
	}
	return 0, false
}

// Set records ts for id, evicting the least recently set entry when full.
func (c *DedupCache) Set(id string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		e.ts = ts
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &dedupEntry{id: id, ts: ts}
	c.pushFront(e)
	c.items[id] = e

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		if oldest == c.head {
			break
		}
		c.remove(oldest)
		c.evictions++
	}
}

// Remove deletes id. Returns true if it was present.
func (c *DedupCache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		c.remove(e)
		return true
	}
	return false
}

// Sweep removes every entry with ts < horizon and returns how many were removed.
// An entry with ts == horizon is kept.
func (c *DedupCache) Sweep(horizon int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if e.ts < horizon {
			c.remove(e)
			removed++
		}
		e = prev
	}
	c.swept += int64(removed)
	return removed
}

// Len returns the number of cached entries.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns activity counters.
func (c *DedupCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Swept:     c.swept,
		Size:      len(c.items),
		Capacity:  c.capacity,
	}
}

// list helpers; callers hold mu.

func (c *DedupCache) pushFront(e *dedupEntry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *DedupCache) unlink(e *dedupEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *DedupCache) remove(e *dedupEntry) {
	c.unlink(e)
	delete(c.items, e.id)
}
