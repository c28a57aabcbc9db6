package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash field names for a stored item.
const (
	fieldValue      = "v"
	fieldChecksum   = "s"
	fieldCreated    = "c"
	fieldExpires    = "x"
	fieldLastAccess = "a"
	fieldHits       = "h"
)

// redisBackend is the transactional tier. Items live in Redis hashes
// with a native TTL plus an explicit expires field so sweeps and lazy
// expiry use the same clock as the other tiers. Every operation carries
// a per-query timeout so a hung server degrades to a miss instead of
// blocking callers indefinitely.
type redisBackend struct {
	client     *redis.Client
	namespace  string
	timeout    time.Duration
	ownsClient bool
}

var _ Backend = (*redisBackend)(nil)

func newRedisBackend(client *redis.Client, namespace string, timeout time.Duration, ownsClient bool) *redisBackend {
	return &redisBackend{
		client:     client,
		namespace:  namespace,
		timeout:    timeout,
		ownsClient: ownsClient,
	}
}

func (b *redisBackend) Kind() Storage { return StorageTransactional }

func (b *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.timeout)
}

// matchPattern is the SCAN glob for this backend's namespace, with glob
// metacharacters in the namespace escaped.
func (b *redisBackend) matchPattern() string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(b.namespace) + ":*"
}

func (b *redisBackend) Read(ctx context.Context, key string) (*Item, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()

	vals, err := b.client.HGetAll(qctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}

	it, ok := decodeHash(vals)
	if !ok {
		// Corrupt or truncated hash: forced delete-and-miss.
		_ = b.client.Del(qctx, key).Err()
		return nil, false, nil
	}

	now := time.Now()
	if !it.Live(now) {
		_ = b.client.Del(qctx, key).Err()
		return nil, false, nil
	}

	pipe := b.client.Pipeline()
	pipe.HIncrBy(qctx, key, fieldHits, 1)
	pipe.HSet(qctx, key, fieldLastAccess, now.UnixNano())
	_, _ = pipe.Exec(qctx)

	it.LastAccessedAt = now
	it.AccessCount++
	return it, true, nil
}

// decodeHash rebuilds an Item from hash fields, verifying the checksum.
// Any missing or unparseable field means the entry is corrupt.
func decodeHash(vals map[string]string) (*Item, bool) {
	data, ok := vals[fieldValue]
	if !ok {
		return nil, false
	}
	sum, err := strconv.ParseUint(vals[fieldChecksum], 10, 64)
	if err != nil || !verifyChecksum([]byte(data), sum) {
		return nil, false
	}
	created, err := strconv.ParseInt(vals[fieldCreated], 10, 64)
	if err != nil {
		return nil, false
	}
	expires, err := strconv.ParseInt(vals[fieldExpires], 10, 64)
	if err != nil {
		return nil, false
	}
	lastAccess, err := strconv.ParseInt(vals[fieldLastAccess], 10, 64)
	if err != nil {
		return nil, false
	}
	hits, err := strconv.ParseUint(vals[fieldHits], 10, 64)
	if err != nil {
		return nil, false
	}
	return &Item{
		Value:          []byte(data),
		CreatedAt:      time.Unix(0, created),
		ExpiresAt:      time.Unix(0, expires),
		LastAccessedAt: time.Unix(0, lastAccess),
		AccessCount:    hits,
	}, true
}

func (b *redisBackend) Write(ctx context.Context, key string, item *Item) (bool, error) {
	data, sum, err := encodeValue(item.Value)
	if err != nil {
		return false, err
	}

	qctx, cancel := b.queryCtx(ctx)
	defer cancel()

	exists, err := b.client.Exists(qctx, key).Result()
	if err != nil {
		return false, err
	}

	pipe := b.client.Pipeline()
	pipe.HSet(qctx, key,
		fieldValue, data,
		fieldChecksum, strconv.FormatUint(sum, 10),
		fieldCreated, item.CreatedAt.UnixNano(),
		fieldExpires, item.ExpiresAt.UnixNano(),
		fieldLastAccess, item.LastAccessedAt.UnixNano(),
		fieldHits, item.AccessCount,
	)
	pipe.ExpireAt(qctx, key, item.ExpiresAt)
	if _, err := pipe.Exec(qctx); err != nil {
		return false, err
	}
	return exists == 0, nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	n, err := b.client.Del(qctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanAll walks the namespace with a SCAN cursor, fetching metadata per
// key. Entries that vanish mid-scan are skipped; corrupt metadata stops
// the visit for that key only.
func (b *redisBackend) ScanAll(ctx context.Context, visit func(Entry) bool) error {
	var cursor uint64
	for {
		qctx, cancel := b.queryCtx(ctx)
		keys, next, err := b.client.Scan(qctx, cursor, b.matchPattern(), 100).Result()
		cancel()
		if err != nil {
			return err
		}
		for _, key := range keys {
			qctx, cancel := b.queryCtx(ctx)
			vals, err := b.client.HGetAll(qctx, key).Result()
			cancel()
			if err != nil {
				return err
			}
			if len(vals) == 0 {
				continue
			}
			it, ok := decodeHash(vals)
			if !ok {
				continue
			}
			e := Entry{
				Key:            key,
				CreatedAt:      it.CreatedAt,
				ExpiresAt:      it.ExpiresAt,
				LastAccessedAt: it.LastAccessedAt,
				AccessCount:    it.AccessCount,
			}
			if !visit(e) {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (b *redisBackend) Len(ctx context.Context) (int, error) {
	n := 0
	err := b.ScanAll(ctx, func(Entry) bool {
		n++
		return true
	})
	return n, err
}

func (b *redisBackend) Clear(ctx context.Context) error {
	var keys []string
	if err := b.ScanAll(ctx, func(e Entry) bool {
		keys = append(keys, e.Key)
		return true
	}); err != nil {
		return err
	}
	for _, key := range keys {
		qctx, cancel := b.queryCtx(ctx)
		err := b.client.Del(qctx, key).Err()
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the client only when the backend created it; an injected
// client belongs to the caller.
func (b *redisBackend) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
