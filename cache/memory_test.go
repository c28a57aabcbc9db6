package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestItem(value any, ttl time.Duration) *Item {
	now := time.Now()
	return &Item{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	created, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)
	assert.True(t, created)

	it, found, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", it.Value)
	assert.Equal(t, uint64(1), it.AccessCount)

	// Overwrite is not a create.
	created, err = b.Write(ctx, "ns:key", newTestItem("other", time.Minute))
	assert.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	_, err := b.Write(ctx, "ns:key", newTestItem("value", 10*time.Millisecond))
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, found, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.False(t, found)

	// The expired entry was deleted by the read itself.
	n, err := b.Len(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	_, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)

	found, err := b.Delete(ctx, "ns:key")
	assert.NoError(t, err)
	assert.True(t, found)

	found, err = b.Delete(ctx, "ns:key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryScanAll(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	for _, k := range []string{"ns:a", "ns:b", "ns:c"} {
		_, err := b.Write(ctx, k, newTestItem(k, time.Minute))
		assert.NoError(t, err)
	}

	seen := map[string]bool{}
	err := b.ScanAll(ctx, func(e Entry) bool {
		seen[e.Key] = true
		return true
	})
	assert.NoError(t, err)
	assert.Len(t, seen, 3)

	// Visitor returning false stops the scan.
	visited := 0
	err = b.ScanAll(ctx, func(e Entry) bool {
		visited++
		return false
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	_, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)
	assert.NoError(t, b.Clear(ctx))

	n, err := b.Len(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryReadCopiesItem(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	defer b.Close()

	_, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)

	it1, _, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	it1.Value = "mutated"

	it2, _, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.Equal(t, "value", it2.Value)
	assert.Equal(t, uint64(2), it2.AccessCount)
}
