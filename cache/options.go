package cache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTTL is the expiry applied to entries stored without an
	// explicit TTL.
	DefaultTTL = 30 * time.Minute
	// DefaultNamespace prefixes keys so instances sharing a physical
	// store stay isolated.
	DefaultNamespace = "app-cache"
	// DefaultMaxSize bounds the memory tier; other tiers ignore it.
	DefaultMaxSize = 1000
	// DefaultPruneInterval is how often the background sweep runs.
	DefaultPruneInterval = time.Minute
	// DefaultQueryTimeout is the per-operation timeout for I/O-backed
	// tiers (SQLite, Redis). Prevents indefinite hangs on slow or
	// unresponsive storage.
	DefaultQueryTimeout = 5 * time.Second
)

// Options is the resolved configuration of a Service. Build it with
// Option funcs; a zero field keeps its default.
type Options struct {
	Storage       Storage
	TTL           time.Duration
	Namespace     string
	MaxSize       int
	Eviction      Policy
	SQLitePath    string
	RedisURL      string
	PruneInterval time.Duration
	QueryTimeout  time.Duration

	logger      *zap.Logger
	redisClient *redis.Client
	backend     Backend // test seam
}

// Option configures a Service.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Storage:       StoragePersistent,
		TTL:           DefaultTTL,
		Namespace:     DefaultNamespace,
		MaxSize:       DefaultMaxSize,
		Eviction:      LRU,
		PruneInterval: DefaultPruneInterval,
		QueryTimeout:  DefaultQueryTimeout,
		logger:        zap.NewNop(),
	}
}

func (o *Options) apply(opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
}

func (o *Options) validate() error {
	if !o.Storage.valid() {
		return fmt.Errorf("cache: unknown storage kind %q", o.Storage)
	}
	if !o.Eviction.valid() {
		return fmt.Errorf("cache: unknown eviction policy %q", o.Eviction)
	}
	if o.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", o.TTL)
	}
	if o.MaxSize < 0 {
		return fmt.Errorf("cache: max size must not be negative, got %d", o.MaxSize)
	}
	if o.Namespace == "" {
		return fmt.Errorf("cache: namespace must not be empty")
	}
	return nil
}

// WithStorage selects the storage tier. Defaults to StoragePersistent.
func WithStorage(s Storage) Option {
	return func(o *Options) { o.Storage = s }
}

// WithTTL sets the default expiry for entries stored without an explicit
// TTL. Defaults to DefaultTTL (30 minutes).
func WithTTL(d time.Duration) Option {
	return func(o *Options) { o.TTL = d }
}

// WithNamespace sets the key prefix isolating this instance from others
// sharing a physical store. Defaults to DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithMaxSize bounds the memory tier's entry count; zero means
// unbounded. Only the memory tier enforces it. Defaults to
// DefaultMaxSize (1000).
func WithMaxSize(n int) Option {
	return func(o *Options) { o.MaxSize = n }
}

// WithEviction selects the policy used when the memory tier is at
// capacity. Defaults to LRU.
func WithEviction(p Policy) Option {
	return func(o *Options) { o.Eviction = p }
}

// WithSQLitePath sets the database file for the persistent tier. Empty
// or ":memory:" uses an in-memory database.
func WithSQLitePath(path string) Option {
	return func(o *Options) { o.SQLitePath = path }
}

// WithRedisURL sets the connection URL for the transactional tier. The
// client is created (and owned) by the Service on first use.
func WithRedisURL(url string) Option {
	return func(o *Options) { o.RedisURL = url }
}

// WithRedisClient injects an existing client for the transactional
// tier. The caller owns the client lifecycle. Takes precedence over
// WithRedisURL.
func WithRedisClient(client *redis.Client) Option {
	return func(o *Options) { o.redisClient = client }
}

// WithPruneInterval sets how often the background sweep removes expired
// entries. Defaults to DefaultPruneInterval (60s). Read at construction;
// Configure cannot change a running ticker.
func WithPruneInterval(d time.Duration) Option {
	return func(o *Options) { o.PruneInterval = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed tiers.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Options) { o.QueryTimeout = d }
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// withBackend pins the active backend, bypassing tier resolution. Test
// seam for facade failure paths.
func withBackend(b Backend) Option {
	return func(o *Options) { o.backend = b }
}

// OptionsFromEnv reads TIERCACHE_* environment variables into Options.
// Unset variables keep their defaults; malformed values are skipped.
// Durations accept extended syntax like "1d12h" via str2duration.
//
//	TIERCACHE_STORAGE        memory | persistent | transactional
//	TIERCACHE_TTL            duration
//	TIERCACHE_NAMESPACE      string
//	TIERCACHE_MAX_SIZE       integer
//	TIERCACHE_EVICTION       lru | fifo | lfu
//	TIERCACHE_SQLITE_PATH    file path
//	TIERCACHE_REDIS_URL      redis://...
//	TIERCACHE_PRUNE_INTERVAL duration
func OptionsFromEnv() []Option {
	var opts []Option
	if v := os.Getenv("TIERCACHE_STORAGE"); v != "" {
		opts = append(opts, WithStorage(Storage(strings.ToLower(v))))
	}
	if v := os.Getenv("TIERCACHE_TTL"); v != "" {
		if d, err := str2duration.ParseDuration(v); err == nil {
			opts = append(opts, WithTTL(d))
		}
	}
	if v := os.Getenv("TIERCACHE_NAMESPACE"); v != "" {
		opts = append(opts, WithNamespace(v))
	}
	if v := os.Getenv("TIERCACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts = append(opts, WithMaxSize(n))
		}
	}
	if v := os.Getenv("TIERCACHE_EVICTION"); v != "" {
		opts = append(opts, WithEviction(Policy(strings.ToLower(v))))
	}
	if v := os.Getenv("TIERCACHE_SQLITE_PATH"); v != "" {
		opts = append(opts, WithSQLitePath(v))
	}
	if v := os.Getenv("TIERCACHE_REDIS_URL"); v != "" {
		opts = append(opts, WithRedisURL(v))
	}
	if v := os.Getenv("TIERCACHE_PRUNE_INTERVAL"); v != "" {
		if d, err := str2duration.ParseDuration(v); err == nil {
			opts = append(opts, WithPruneInterval(d))
		}
	}
	return opts
}

type fileOptions struct {
	Storage       string `yaml:"storage"`
	TTL           string `yaml:"ttl"`
	Namespace     string `yaml:"namespace"`
	MaxSize       *int   `yaml:"max_size"`
	Eviction      string `yaml:"eviction"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisURL      string `yaml:"redis_url"`
	PruneInterval string `yaml:"prune_interval"`
}

// OptionsFromFile reads a YAML config file into Options. Absent fields
// keep their defaults; malformed durations are an error.
func OptionsFromFile(path string) ([]Option, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fo fileOptions
	if err := yaml.Unmarshal(buf, &fo); err != nil {
		return nil, fmt.Errorf("cache: parsing %s: %w", path, err)
	}

	var opts []Option
	if fo.Storage != "" {
		opts = append(opts, WithStorage(Storage(strings.ToLower(fo.Storage))))
	}
	if fo.TTL != "" {
		d, err := str2duration.ParseDuration(fo.TTL)
		if err != nil {
			return nil, fmt.Errorf("cache: parsing ttl %q: %w", fo.TTL, err)
		}
		opts = append(opts, WithTTL(d))
	}
	if fo.Namespace != "" {
		opts = append(opts, WithNamespace(fo.Namespace))
	}
	if fo.MaxSize != nil {
		opts = append(opts, WithMaxSize(*fo.MaxSize))
	}
	if fo.Eviction != "" {
		opts = append(opts, WithEviction(Policy(strings.ToLower(fo.Eviction))))
	}
	if fo.SQLitePath != "" {
		opts = append(opts, WithSQLitePath(fo.SQLitePath))
	}
	if fo.RedisURL != "" {
		opts = append(opts, WithRedisURL(fo.RedisURL))
	}
	if fo.PruneInterval != "" {
		d, err := str2duration.ParseDuration(fo.PruneInterval)
		if err != nil {
			return nil, fmt.Errorf("cache: parsing prune_interval %q: %w", fo.PruneInterval, err)
		}
		opts = append(opts, WithPruneInterval(d))
	}
	return opts, nil
}
