package forumcache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/goforj/forumcache/cachecore"
)

const (
	defaultCacheTTL              = 120 * time.Second
	defaultNamespace             = "forum"
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultLockTimeout           = 2 * time.Second
	defaultSQLTable              = "forum_cache"
	defaultNATSBucket            = "forum_cache"
	defaultDynamoTable           = "forum_cache"
	defaultDynamoRegion          = "us-east-1"
	sentinelFileName             = "index.cache"

	// MaxLevel is the highest cache enable level.
	MaxLevel = 3
)

func defaultCacheDir() string {
	return filepath.Join(os.TempDir(), "forum-cache")
}

// Config describes the cache of one installation. It is usually loaded from
// the installation's YAML settings with LoadConfig.
type Config struct {
	// Enable is the cache level: 0 disables caching, 1-3 permit progressively
	// more expensive items to be cached.
	Enable int `yaml:"enable"`

	// Accelerator names the preferred driver. Legacy names such as
	// "filesystem" and "apcu" are accepted.
	Accelerator string `yaml:"accelerator"`

	// CacheDir is where the file driver keeps entries.
	CacheDir string `yaml:"cache_dir"`

	// DefaultTTL is used when a write provides ttl <= 0.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// BoardURL and the sentinel mtime feed the key prefix.
	BoardURL string `yaml:"board_url"`

	// Prefix, when set, replaces the derived prefix.
	Prefix string `yaml:"prefix"`

	// Sentinel is touched to invalidate every prefixed key.
	Sentinel string `yaml:"sentinel"`

	// SettingsFile is the prefix fingerprint fallback when the sentinel is absent.
	SettingsFile string `yaml:"settings_file"`

	// Namespace scopes keys on backends shared with other applications.
	Namespace string `yaml:"namespace"`

	// Debug records per-operation statistics on the store.
	Debug bool `yaml:"debug"`

	// LockTimeout bounds file lock waits.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// MemoryCleanupInterval controls in-process cache eviction.
	MemoryCleanupInterval time.Duration `yaml:"memory_cleanup_interval"`

	RedisAddr     string      `yaml:"redis_addr"`
	RedisPassword string      `yaml:"redis_password"`
	RedisDB       int         `yaml:"redis_db"`
	RedisClient   RedisClient `yaml:"-"`

	MemcachedAddresses []string `yaml:"memcached_addresses"`

	SQLDriverName string `yaml:"sql_driver"`
	SQLDSN        string `yaml:"sql_dsn"`
	SQLTable      string `yaml:"sql_table"`

	NATSURL      string       `yaml:"nats_url"`
	NATSBucket   string       `yaml:"nats_bucket"`
	NATSKeyValue NATSKeyValue `yaml:"-"`

	// The DynamoDB driver is only attempted when an endpoint, a table or a
	// client is configured.
	DynamoRegion   string    `yaml:"dynamo_region"`
	DynamoEndpoint string    `yaml:"dynamo_endpoint"`
	DynamoTable    string    `yaml:"dynamo_table"`
	DynamoClient   DynamoAPI `yaml:"-"`

	Clock cachecore.Clock `yaml:"-"`
}

// DefaultConfig returns a config with caching enabled at level 1 on the
// file driver.
func DefaultConfig() Config {
	return Config{Enable: 1}.withDefaults()
}

func (c Config) withDefaults() Config {
	c.Enable = clampLevel(c.Enable)
	if c.Accelerator == "" {
		c.Accelerator = string(cachecore.DriverFile)
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultCacheTTL
	}
	if c.Sentinel == "" {
		c.Sentinel = filepath.Join(c.CacheDir, sentinelFileName)
	}
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if len(c.MemcachedAddresses) == 0 {
		c.MemcachedAddresses = []string{"127.0.0.1:11211"}
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.NATSBucket == "" {
		c.NATSBucket = defaultNATSBucket
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	if c.Clock == nil {
		c.Clock = cachecore.SystemClock
	}
	return c
}

func (c Config) base() cachecore.BaseConfig {
	return cachecore.BaseConfig{
		DefaultTTL: c.DefaultTTL,
		Namespace:  c.Namespace,
		Sentinel:   c.Sentinel,
		Clock:      c.Clock,
	}
}

// StoreOptions translates the config into options for NewStore.
func (c Config) StoreOptions() []StoreOption {
	c = c.withDefaults()
	opts := []StoreOption{
		WithLevel(c.Enable),
		WithDefaultTTL(c.DefaultTTL),
		WithDebug(c.Debug),
		WithClock(c.Clock),
		WithPrefixSource(c.BoardURL, c.Sentinel, c.SettingsFile),
	}
	if c.Prefix != "" {
		opts = append(opts, WithPrefix(c.Prefix))
	}
	return opts
}

// LoadConfig reads a YAML settings file. Keys absent from the file keep the
// values of DefaultConfig, and SettingsFile defaults to path.
func LoadConfig(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "read cache config %s", path)
	}
	cfg := Config{Enable: 1}
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "decode cache config %s", path)
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = path
	}
	return cfg.withDefaults(), nil
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

func newRedisClientFromConfig(cfg Config) RedisClient {
	if cfg.RedisClient != nil {
		return cfg.RedisClient
	}
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
