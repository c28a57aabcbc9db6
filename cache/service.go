package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service is the cache facade. It composes one active storage tier with
// eviction, pruning, and statistics behind six operations, and owns the
// downgrade chain when a preferred tier is unavailable:
// transactional → persistent → memory, one-directional for the lifetime
// of the instance.
//
// All failure modes below the facade degrade to "item not cached": reads
// that fail report a miss, writes that cannot land are dropped and
// counted. Only ErrClosed ever reaches callers.
type Service struct {
	mu   sync.Mutex
	opts Options
	id   string
	log  *zap.Logger

	active Backend
	opened []Backend

	// One-directional downgrade markers, kept across Configure.
	downTransactional bool
	downPersistent    bool

	stats statsTracker
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New constructs a Service and starts its background pruner. The parent
// context bounds the pruner's lifetime; Close stops it explicitly.
func New(parent context.Context, opts ...Option) (*Service, error) {
	o := defaultOptions()
	o.apply(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		opts:   o,
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.log = o.logger.With(
		zap.String("cache_id", s.id),
		zap.String("namespace", o.Namespace),
	)

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// backendLocked resolves the active backend, initializing it lazily on
// first use. Callers must hold s.mu. An unavailable transactional tier
// downgrades to persistent, an unavailable persistent tier to memory;
// each downgrade is logged once and never retried for this instance.
func (s *Service) backendLocked(ctx context.Context) (Backend, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.active != nil {
		return s.active, nil
	}
	if s.opts.backend != nil {
		s.active = s.opts.backend
		return s.active, nil
	}

	want := s.opts.Storage
	if want == StorageTransactional && s.downTransactional {
		want = StoragePersistent
	}
	if want == StoragePersistent && s.downPersistent {
		want = StorageMemory
	}

	if want == StorageTransactional {
		b, err := s.openTransactional(ctx)
		if err != nil {
			s.downTransactional = true
			s.log.Warn("transactional tier unavailable, downgrading to persistent",
				zap.Error(err))
			want = StoragePersistent
		} else {
			s.active = b
		}
	}

	if s.active == nil && want == StoragePersistent {
		b, err := newSQLiteBackend(ctx, s.opts.SQLitePath, s.opts.Namespace, s.opts.QueryTimeout)
		if err != nil {
			s.downPersistent = true
			s.log.Warn("persistent tier unavailable, downgrading to memory",
				zap.Error(err))
		} else {
			s.active = b
		}
	}

	if s.active == nil {
		s.active = newMemoryBackend()
	}

	s.opened = append(s.opened, s.active)
	if n, err := s.active.Len(ctx); err == nil {
		s.stats.resyncSize(n)
	}
	s.log.Debug("cache backend initialized", zap.String("tier", string(s.active.Kind())))
	return s.active, nil
}

// openTransactional builds the redis-backed tier. No configured client
// or URL means the environment has no transactional support.
func (s *Service) openTransactional(ctx context.Context) (Backend, error) {
	client := s.opts.redisClient
	owns := false
	if client == nil {
		if s.opts.RedisURL == "" {
			return nil, fmt.Errorf("%w: no transactional store configured", ErrBackendUnavailable)
		}
		ropts, err := redis.ParseURL(s.opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		client = redis.NewClient(ropts)
		owns = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if owns {
			client.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return newRedisBackend(client, s.opts.Namespace, s.opts.QueryTimeout, owns), nil
}

func (s *Service) namespacedLocked(key string) string {
	return s.opts.Namespace + ":" + key
}

// Set stores a value under key. A ttl <= 0 uses the configured default.
// When the memory tier is at capacity the eviction policy removes a
// batch of victims first, under the service lock, so the size bound
// holds. A rejected persistent write triggers one prune-and-retry; if it
// still fails the write is dropped, counted, and Set returns nil — the
// cache is advisory, not a system of record.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := startSpan(ctx, "cache.set", key)
	defer span.End()

	s.mu.Lock()
	b, err := s.backendLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if ttl <= 0 {
		ttl = s.opts.TTL
	}
	now := time.Now()
	item := &Item{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
	k := s.namespacedLocked(key)
	maxSize := s.opts.MaxSize
	policy := s.opts.Eviction

	if b.Kind() == StorageMemory {
		// Check-then-evict-then-insert stays under the lock so
		// concurrent Sets cannot both pass the size check.
		defer s.mu.Unlock()
		if maxSize > 0 {
			if n, err := b.Len(ctx); err == nil && n >= maxSize {
				s.evict(ctx, b, policy, maxSize)
			}
		}
		created, err := b.Write(ctx, k, item)
		if err != nil {
			// Memory writes do not fail in practice; treat like any
			// other unlandable write.
			s.dropWrite(key, err)
			return nil
		}
		s.stats.recordInsert(created, now)
		return nil
	}
	s.mu.Unlock()

	created, err := b.Write(ctx, k, item)
	if err != nil && b.Kind() == StoragePersistent {
		// Storage full or otherwise rejected: free space once, retry
		// once.
		s.sweep(ctx, b)
		created, err = b.Write(ctx, k, item)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrStorageFull, err)
		}
	}
	if err != nil {
		s.dropWrite(key, err)
		return nil
	}
	s.stats.recordInsert(created, now)
	return nil
}

func (s *Service) dropWrite(key string, err error) {
	s.stats.recordDropped()
	s.log.Warn("cache write dropped", zap.String("key", key), zap.Error(err))
}

// evict removes one policy-selected victim batch from the memory tier.
// Caller holds s.mu.
func (s *Service) evict(ctx context.Context, b Backend, policy Policy, maxSize int) {
	var entries []Entry
	_ = b.ScanAll(ctx, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	removed := 0
	for _, key := range victims(policy, entries, maxSize) {
		if found, err := b.Delete(ctx, key); err == nil && found {
			removed++
		}
	}
	s.stats.recordEvictions(removed)
}

// Get reads a value. Absent, expired, and unreadable entries are all
// misses; expired entries are lazily deleted by the backend during the
// read. Backend read failures degrade to a miss with a warning rather
// than surfacing an error.
func (s *Service) Get(ctx context.Context, key string) (bool, any, error) {
	ctx, span := startSpan(ctx, "cache.get", key)
	defer span.End()

	s.mu.Lock()
	b, err := s.backendLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, nil, err
	}
	k := s.namespacedLocked(key)
	s.mu.Unlock()

	it, found, err := b.Read(ctx, k)
	if err != nil {
		s.stats.recordMiss()
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false, nil, nil
	}
	if !found {
		s.stats.recordMiss()
		return false, nil, nil
	}
	s.stats.recordHit()
	return true, it.Value, nil
}

// Remove deletes a key. Removing an absent key is a silent no-op.
func (s *Service) Remove(ctx context.Context, key string) error {
	ctx, span := startSpan(ctx, "cache.remove", key)
	defer span.End()

	s.mu.Lock()
	b, err := s.backendLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	k := s.namespacedLocked(key)
	s.mu.Unlock()

	found, err := b.Delete(ctx, k)
	if err != nil {
		s.log.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if found {
		s.stats.recordDelete(1)
	}
	return nil
}

// Clear empties the active tier and zeroes the statistics. It is not
// atomic with respect to concurrent Sets; a racing Set may or may not
// survive.
func (s *Service) Clear(ctx context.Context) error {
	ctx, span := startSpan(ctx, "cache.clear", "")
	defer span.End()

	s.mu.Lock()
	b, err := s.backendLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := b.Clear(ctx); err != nil {
		s.log.Warn("cache clear failed", zap.Error(err))
	}
	s.stats.reset()
	return nil
}

// Stats returns a snapshot of accumulated counters.
func (s *Service) Stats() Stats {
	return s.stats.snapshot()
}

// Configure merges option deltas into the running configuration. A
// storage change lazily initializes the new tier before its first use;
// items in the previous tier are not migrated and remain orphaned there
// until they expire. Downgrade markers survive reconfiguration.
func (s *Service) Configure(opts ...Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	o := s.opts
	o.apply(opts)
	if err := o.validate(); err != nil {
		return err
	}

	backendChange := o.Storage != s.opts.Storage ||
		o.Namespace != s.opts.Namespace ||
		o.SQLitePath != s.opts.SQLitePath ||
		o.RedisURL != s.opts.RedisURL ||
		o.redisClient != s.opts.redisClient
	// s.log is deliberately not rebuilt: it is read without the lock on
	// hot paths, so it stays immutable after New.
	s.opts = o
	if backendChange {
		s.active = nil
	}
	return nil
}

// Close stops the pruner and closes every backend this service opened.
// Safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = nil
	opened := s.opened
	s.opened = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	var firstErr error
	for _, b := range opened {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
