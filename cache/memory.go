package cache

import (
	"context"
	"sync"
	"time"
)

// memoryBackend is an in-process map guarded by a mutex. Values are
// stored as-is with no serialization, so mutations through stored
// pointers are visible to later readers. Size is bounded by the Service,
// which evicts before inserting when the tier is at capacity.
type memoryBackend struct {
	mu    sync.Mutex
	items map[string]*Item
}

var _ Backend = (*memoryBackend)(nil)

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{items: make(map[string]*Item)}
}

func (b *memoryBackend) Kind() Storage { return StorageMemory }

func (b *memoryBackend) Read(_ context.Context, key string) (*Item, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[key]
	if !ok {
		return nil, false, nil
	}
	now := time.Now()
	if !it.Live(now) {
		delete(b.items, key)
		return nil, false, nil
	}
	it.LastAccessedAt = now
	it.AccessCount++
	cp := *it
	return &cp, true, nil
}

func (b *memoryBackend) Write(_ context.Context, key string, item *Item) (bool, error) {
	cp := *item
	b.mu.Lock()
	_, existed := b.items[key]
	b.items[key] = &cp
	b.mu.Unlock()
	return !existed, nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	_, ok := b.items[key]
	if ok {
		delete(b.items, key)
	}
	b.mu.Unlock()
	return ok, nil
}

// ScanAll snapshots metadata under the lock, then visits without it, so
// a sweep never blocks concurrent reads and writes.
func (b *memoryBackend) ScanAll(_ context.Context, visit func(Entry) bool) error {
	b.mu.Lock()
	entries := make([]Entry, 0, len(b.items))
	for key, it := range b.items {
		entries = append(entries, Entry{
			Key:            key,
			CreatedAt:      it.CreatedAt,
			ExpiresAt:      it.ExpiresAt,
			LastAccessedAt: it.LastAccessedAt,
			AccessCount:    it.AccessCount,
		})
	}
	b.mu.Unlock()
	for _, e := range entries {
		if !visit(e) {
			return nil
		}
	}
	return nil
}

func (b *memoryBackend) Len(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items), nil
}

func (b *memoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	b.items = make(map[string]*Item)
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Close() error { return nil }
