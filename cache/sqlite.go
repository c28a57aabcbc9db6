package cache

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"
)

// sqliteBackend is the persistent key-value tier. Values are msgpack
// bytes stored as BLOBs alongside their metadata and an xxhash64
// checksum. A checksum mismatch on read deletes the row and reports a
// miss. Rows are scoped to the Service namespace so multiple instances
// can share one database file.
type sqliteBackend struct {
	db        *sql.DB
	namespace string
	timeout   time.Duration
	once      sync.Once
}

var _ Backend = (*sqliteBackend)(nil)

func newSQLiteBackend(ctx context.Context, path, namespace string, timeout time.Duration) (*sqliteBackend, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode keeps readers unblocked during sweeps and writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cache_items (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		checksum INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		last_access_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// Index on expires_at for efficient sweeps.
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cache_items_expires_at ON cache_items(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteBackend{db: db, namespace: namespace, timeout: timeout}, nil
}

func (b *sqliteBackend) Kind() Storage { return StoragePersistent }

func (b *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.timeout)
}

// likePattern matches every key in this backend's namespace. LIKE
// metacharacters in the namespace are escaped so user-chosen namespaces
// cannot widen the match.
func (b *sqliteBackend) likePattern() string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(b.namespace) + ":%"
}

func (b *sqliteBackend) Read(ctx context.Context, key string) (*Item, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()

	var data []byte
	var checksum, createdAt, expiresAt, lastAccessAt int64
	var accessCount uint64
	err := b.db.QueryRowContext(qctx,
		`SELECT value, checksum, created_at, expires_at, last_access_at, access_count
		 FROM cache_items WHERE key = ?`, key,
	).Scan(&data, &checksum, &createdAt, &expiresAt, &lastAccessAt, &accessCount)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	if expiresAt < now.UnixNano() {
		// Lazy delete of the expired row.
		_, _ = b.db.ExecContext(qctx, `DELETE FROM cache_items WHERE key = ?`, key)
		return nil, false, nil
	}

	if int64(xxhash.Sum64(data)) != checksum {
		// Corrupt at rest: forced delete-and-miss.
		_, _ = b.db.ExecContext(qctx, `DELETE FROM cache_items WHERE key = ?`, key)
		return nil, false, nil
	}

	_, _ = b.db.ExecContext(qctx,
		`UPDATE cache_items SET access_count = access_count + 1, last_access_at = ? WHERE key = ?`,
		now.UnixNano(), key)

	return &Item{
		Value:          data,
		CreatedAt:      time.Unix(0, createdAt),
		ExpiresAt:      time.Unix(0, expiresAt),
		LastAccessedAt: now,
		AccessCount:    accessCount + 1,
	}, true, nil
}

func (b *sqliteBackend) Write(ctx context.Context, key string, item *Item) (bool, error) {
	data, sum, err := encodeValue(item.Value)
	if err != nil {
		return false, err
	}

	qctx, cancel := b.queryCtx(ctx)
	defer cancel()

	var exists bool
	if err := b.db.QueryRowContext(qctx,
		`SELECT EXISTS(SELECT 1 FROM cache_items WHERE key = ?)`, key,
	).Scan(&exists); err != nil {
		return false, err
	}

	_, err = b.db.ExecContext(qctx,
		`INSERT INTO cache_items (key, value, checksum, created_at, expires_at, last_access_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_access_at = excluded.last_access_at,
			access_count = excluded.access_count`,
		key, data, int64(sum),
		item.CreatedAt.UnixNano(), item.ExpiresAt.UnixNano(), item.LastAccessedAt.UnixNano(),
		item.AccessCount,
	)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	result, err := b.db.ExecContext(qctx, `DELETE FROM cache_items WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (b *sqliteBackend) ScanAll(ctx context.Context, visit func(Entry) bool) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	rows, err := b.db.QueryContext(qctx,
		`SELECT key, created_at, expires_at, last_access_at, access_count
		 FROM cache_items WHERE key LIKE ? ESCAPE '\'`, b.likePattern())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var createdAt, expiresAt, lastAccessAt int64
		var accessCount uint64
		if err := rows.Scan(&key, &createdAt, &expiresAt, &lastAccessAt, &accessCount); err != nil {
			return err
		}
		e := Entry{
			Key:            key,
			CreatedAt:      time.Unix(0, createdAt),
			ExpiresAt:      time.Unix(0, expiresAt),
			LastAccessedAt: time.Unix(0, lastAccessAt),
			AccessCount:    accessCount,
		}
		if !visit(e) {
			return nil
		}
	}
	return rows.Err()
}

func (b *sqliteBackend) Len(ctx context.Context) (int, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var n int
	err := b.db.QueryRowContext(qctx,
		`SELECT COUNT(*) FROM cache_items WHERE key LIKE ? ESCAPE '\'`, b.likePattern(),
	).Scan(&n)
	return n, err
}

func (b *sqliteBackend) Clear(ctx context.Context) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	_, err := b.db.ExecContext(qctx,
		`DELETE FROM cache_items WHERE key LIKE ? ESCAPE '\'`, b.likePattern())
	return err
}

func (b *sqliteBackend) Close() error {
	var dbErr error
	b.once.Do(func() {
		dbErr = b.db.Close()
	})
	return dbErr
}
