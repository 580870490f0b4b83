// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestSeenRequiresEqualTimestamp(t *testing.T) {
	c := NewDedupCache(10)
	if c.Seen("tx1", 100) {
		t.Fatal("empty cache should not report seen")
	}
	c.Set("tx1", 100)
	if !c.Seen("tx1", 100) {
		t.Error("expected seen for equal timestamp")
	}
	if c.Seen("tx1", 101) {
		t.Error("newer timestamp must not count as seen")
	}
	if c.Seen("tx1", 99) {
		t.Error("older timestamp must not count as seen")
	}
}

func TestSetOverwrites(t *testing.T) {
	c := NewDedupCache(10)
	c.Set("a", 1)
	c.Set("a", 2)
	if ts, ok := c.Get("a"); !ok || ts != 2 {
		t.Errorf("Get = %d,%v, want 2,true", ts, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestSweepBoundaries(t *testing.T) {
	c := NewDedupCache(10)
	c.Set("old", 999)
	c.Set("edge", 1000)
	c.Set("new", 1001)

	if removed := c.Sweep(1000); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := c.Get("old"); ok {
		t.Error("entry below horizon should be removed")
	}
	if _, ok := c.Get("edge"); !ok {
		t.Error("entry at horizon should be kept")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("entry above horizon should be kept")
	}
	if c.Stats().Swept != 1 {
		t.Errorf("Swept = %d, want 1", c.Stats().Swept)
	}
}

func TestSweepEmpty(t *testing.T) {
	c := NewDedupCache(10)
	if removed := c.Sweep(1 << 40); removed != 0 {
		t.Errorf("Sweep on empty cache removed %d", removed)
	}
}

func TestCapacityEvictsLeastRecentlySet(t *testing.T) {
	c := NewDedupCache(3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("a", 4) // refresh a
	c.Set("d", 5) // evicts b

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, id := range []string{"a", "c", "d"} {
		if _, ok := c.Get(id); !ok {
			t.Errorf("%s should be present", id)
		}
	}
	st := c.Stats()
	if st.Evictions != 1 || st.Size != 3 || st.Capacity != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRemove(t *testing.T) {
	c := NewDedupCache(10)
	c.Set("a", 1)
	if !c.Remove("a") {
		t.Error("Remove should report present entry")
	}
	if c.Remove("a") {
		t.Error("second Remove should report absent")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestHitMissCounters(t *testing.T) {
	c := NewDedupCache(10)
	c.Set("a", 1)
	c.Seen("a", 1)
	c.Seen("a", 2)
	c.Seen("b", 1)
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 2 {
		t.Errorf("hits/misses = %d/%d, want 1/2", st.Hits, st.Misses)
	}
}

func TestDefaultCapacity(t *testing.T) {
	if c := NewDedupCache(0); c.Stats().Capacity != DefaultCapacity {
		t.Errorf("Capacity = %d", c.Stats().Capacity)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewDedupCache(500)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				c.Set(id, int64(i))
				c.Seen(id, int64(i))
				if i%100 == 0 {
					c.Sweep(int64(i - 50))
				}
			}
		}(w)
	}
	wg.Wait()
	if c.Len() > 500 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
