package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestSQLite(t *testing.T, namespace string) *sqliteBackend {
	t.Helper()
	b, err := newSQLiteBackend(context.Background(), ":memory:", namespace, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t, "ns")

	created, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)
	assert.True(t, created)

	it, found, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.True(t, found)

	// Persisted tiers return raw msgpack bytes.
	data, ok := it.Value.([]byte)
	require.True(t, ok)
	var s string
	assert.NoError(t, msgpack.Unmarshal(data, &s))
	assert.Equal(t, "value", s)
	assert.Equal(t, uint64(1), it.AccessCount)

	created, err = b.Write(ctx, "ns:key", newTestItem("other", time.Minute))
	assert.NoError(t, err)
	assert.False(t, created)
}

func TestSQLiteLazyExpiry(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t, "ns")

	_, err := b.Write(ctx, "ns:key", newTestItem("value", 10*time.Millisecond))
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, found, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.False(t, found)

	n, err := b.Len(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteCorruptEntryIsDeletedMiss(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t, "ns")

	_, err := b.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)

	// Flip the stored bytes out from under the checksum.
	_, err = b.db.ExecContext(ctx, `UPDATE cache_items SET value = ? WHERE key = ?`,
		[]byte{0x00, 0xff}, "ns:key")
	require.NoError(t, err)

	_, found, err := b.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.False(t, found)

	// The corrupt row is gone, not just skipped.
	n, err := b.Len(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteScanAllAndDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t, "ns")

	for _, k := range []string{"ns:a", "ns:b", "ns:c"} {
		_, err := b.Write(ctx, k, newTestItem(k, time.Minute))
		assert.NoError(t, err)
	}

	var keys []string
	err := b.ScanAll(ctx, func(e Entry) bool {
		keys = append(keys, e.Key)
		return true
	})
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns:a", "ns:b", "ns:c"}, keys)

	found, err := b.Delete(ctx, "ns:b")
	assert.NoError(t, err)
	assert.True(t, found)
	found, err = b.Delete(ctx, "ns:b")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteNamespaceScoping(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b1, err := newSQLiteBackend(ctx, path, "one", time.Second)
	require.NoError(t, err)
	defer b1.Close()
	b2, err := newSQLiteBackend(ctx, path, "two", time.Second)
	require.NoError(t, err)
	defer b2.Close()

	_, err = b1.Write(ctx, "one:key", newTestItem("v1", time.Minute))
	assert.NoError(t, err)
	_, err = b2.Write(ctx, "two:key", newTestItem("v2", time.Minute))
	assert.NoError(t, err)

	// Clear on one namespace leaves the other intact.
	assert.NoError(t, b1.Clear(ctx))

	n, err := b1.Len(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
	n, err = b2.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteFileBackedSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b1, err := newSQLiteBackend(ctx, path, "ns", time.Second)
	require.NoError(t, err)
	_, err = b1.Write(ctx, "ns:key", newTestItem("value", time.Minute))
	assert.NoError(t, err)
	assert.NoError(t, b1.Close())

	b2, err := newSQLiteBackend(ctx, path, "ns", time.Second)
	require.NoError(t, err)
	defer b2.Close()

	_, found, err := b2.Read(ctx, "ns:key")
	assert.NoError(t, err)
	assert.True(t, found)
}
