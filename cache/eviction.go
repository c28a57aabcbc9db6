package cache

import "sort"

// Policy selects which entries are evicted when the memory tier is at
// capacity.
type Policy string

const (
	// LRU evicts the entries least recently read.
	LRU Policy = "lru"
	// FIFO evicts the oldest-inserted entries regardless of reads.
	FIFO Policy = "fifo"
	// LFU evicts the entries read the fewest times.
	LFU Policy = "lfu"
)

func (p Policy) valid() bool {
	switch p {
	case LRU, FIFO, LFU:
		return true
	}
	return false
}

// victimCount is the eviction batch size: 10% of capacity, at least one.
func victimCount(maxSize int) int {
	n := maxSize / 10
	if n < 1 {
		n = 1
	}
	return n
}

// victims selects the keys to evict from a metadata snapshot. It is a
// pure function over the snapshot: no storage access, no mutation of the
// caller's slice beyond reordering. Entries sort ascending by the
// policy's criterion (LastAccessedAt for LRU, CreatedAt for FIFO,
// AccessCount for LFU); ties break on key order so selection is
// deterministic.
func victims(policy Policy, entries []Entry, maxSize int) []string {
	if len(entries) == 0 {
		return nil
	}
	count := victimCount(maxSize)
	if count > len(entries) {
		count = len(entries)
	}

	var before func(a, b Entry) bool
	switch policy {
	case FIFO:
		before = func(a, b Entry) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case LFU:
		before = func(a, b Entry) bool { return a.AccessCount < b.AccessCount }
	default: // LRU
		before = func(a, b Entry) bool { return a.LastAccessedAt.Before(b.LastAccessedAt) }
	}

	sort.Slice(entries, func(i, j int) bool {
		if before(entries[i], entries[j]) {
			return true
		}
		if before(entries[j], entries[i]) {
			return false
		}
		return entries[i].Key < entries[j].Key
	})

	keys := make([]string, count)
	for i := range keys {
		keys[i] = entries[i].Key
	}
	return keys
}
