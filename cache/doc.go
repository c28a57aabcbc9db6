// Package cache provides a backend-agnostic cache service that stores
// time-limited values across three storage tiers behind one facade.
//
// # Service
//
// A [Service] is explicitly constructed and passed to callers; there is
// no package-level singleton. It exposes six operations — [Service.Set],
// [Service.Get], [Service.Remove], [Service.Clear], [Service.Prune],
// [Service.Stats] — plus [Service.Configure] for applying option deltas
// at runtime. Every operation takes a context so callers never need
// tier-aware code paths: the in-process tiers resolve immediately, the
// transactional tier may suspend.
//
// # Tiers
//
// Three tiers implement the [Backend] capability set (read, write,
// delete, scan-all):
//
//   - [StorageMemory] — an in-process map guarded by a mutex. Fastest
//     option with zero serialization overhead; the only tier with a hard
//     size bound (MaxSize plus eviction). Lost on process restart.
//
//   - [StoragePersistent] — a SQLite database using [modernc.org/sqlite]
//     (pure Go, no CGO). Values are serialized to msgpack and stored as
//     BLOBs with an xxhash64 checksum. Survives restarts. Writes the
//     store rejects are retried once after a prune and otherwise dropped;
//     the cache is advisory, so a dropped write is counted and logged,
//     not surfaced.
//
//   - [StorageTransactional] — Redis using [github.com/redis/go-redis/v9],
//     initialized lazily on first use. Items live in hashes with a native
//     TTL; scans use a SCAN cursor. If initialization fails (no client or
//     URL configured, or the server is unreachable) the service
//     permanently downgrades to the persistent tier, logged once.
//
// The fallback order is transactional → persistent → memory, and a
// downgrade is one-directional for the lifetime of the service.
//
// # Expiry
//
// Every item carries an expiry instant (CreatedAt + TTL). Expired items
// are deleted lazily when a read finds them, and by a background pruner
// that sweeps the active tier on a fixed interval (default one minute,
// also callable on demand via [Service.Prune]). Sweeps collect expired
// keys from a metadata snapshot and delete them one at a time so they
// interleave with traffic.
//
// # Eviction
//
// When the memory tier is at capacity, a batch of victims — ten percent
// of capacity, at least one — is selected by the configured [Policy]
// ([LRU], [FIFO], or [LFU]) and removed before the insert proceeds.
// Victim selection is a pure function over an entry-metadata snapshot;
// ties break on key order so it is deterministic.
//
// # Statistics
//
// [Service.Stats] reports hits, misses, current size, the extremal
// creation times of stored items, and counters for evictions, pruned
// entries, and dropped writes. hits+misses equals the number of Gets
// since the last [Service.Clear], which zeroes all counters.
//
// # Errors
//
// A missing key is not an error: Get reports found=false and Remove is
// an idempotent no-op. Corrupt entries (checksum or decode failure) are
// deleted and reported as misses. Backend failures degrade to "item not
// cached" with a warning log; only [ErrClosed] reaches callers of a
// closed service.
//
// # Typed access
//
// [GetAs] wraps Get with type safety:
//
//	found, user, err := cache.GetAs[User](ctx, svc, "user:123")
//
// For the memory tier it is a direct type assertion; for persisted tiers
// it decodes the stored msgpack bytes.
//
// [Exec] is a cache-aside helper combining lookup and population, with
// concurrent loads for the same key collapsed onto a single invoke:
//
//	found, user, err := cache.Exec(ctx, cache.CacheConfig{Key: "user:123"}, svc,
//	    func(ctx context.Context) (User, bool, error) {
//	        user, err := queries.GetUser(ctx, id)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return User{}, false, nil // not found — won't be cached
//	        }
//	        return user, true, err
//	    },
//	)
//
// # Configuration
//
// Options follow the functional-option pattern with defaults matching
// common use: persistent storage, 30 minute TTL, "app-cache" namespace,
// 1000-entry memory bound, LRU eviction. [OptionsFromEnv] and
// [OptionsFromFile] translate TIERCACHE_* environment variables and YAML
// files into options for processes configured externally.
package cache
