package cache

import (
	"context"
	"time"
)

// Storage identifies which tier backs a Service.
type Storage string

const (
	// StorageMemory is an in-process map. Fastest tier, bounded by
	// MaxSize with eviction, lost on restart.
	StorageMemory Storage = "memory"
	// StoragePersistent is a synchronous key-value store backed by
	// SQLite. Survives restarts, unbounded, best-effort on write failure.
	StoragePersistent Storage = "persistent"
	// StorageTransactional is an asynchronous object store backed by
	// Redis. Initialized lazily; unavailable environments downgrade to
	// StoragePersistent for the lifetime of the Service.
	StorageTransactional Storage = "transactional"
)

func (s Storage) valid() bool {
	switch s {
	case StorageMemory, StoragePersistent, StorageTransactional:
		return true
	}
	return false
}

// Item is a single cached value with its expiry and access metadata.
// For the memory tier Value holds the stored value as-is; for persisted
// tiers it holds the raw msgpack bytes, which GetAs decodes.
type Item struct {
	Value          any
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
}

// Live reports whether the item has not expired as of now.
func (it *Item) Live(now time.Time) bool {
	return !it.ExpiresAt.Before(now)
}

// Entry is the metadata-only view of a stored item yielded by ScanAll.
// Values are elided: the pruner and the eviction policies only need
// timestamps and counts.
type Entry struct {
	Key            string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
}

// Backend is the uniform capability set over one storage tier.
//
// Read performs lazy expiry: an expired entry is deleted as a side effect
// and reported as a miss. A hit updates LastAccessedAt and AccessCount.
// Write reports whether the key was newly created. Delete is idempotent
// and reports whether the key existed. ScanAll visits every live entry's
// metadata; implementations must not hold a lock across the whole visit
// that would block Read or Write for longer than a single entry.
type Backend interface {
	Kind() Storage
	Read(ctx context.Context, key string) (*Item, bool, error)
	Write(ctx context.Context, key string, item *Item) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	ScanAll(ctx context.Context, visit func(Entry) bool) error
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}
