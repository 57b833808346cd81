package forumcache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/goforj/forumcache/cachecore"
)

// MemoryDriver is an in-process cache with native expiry and a background
// janitor. Entries do not outlive the process.
type MemoryDriver struct {
	cache *gocache.Cache
	base  cachecore.BaseConfig
}

// NewMemoryDriver creates an in-process driver.
// @group Drivers
func NewMemoryDriver(cfg Config) *MemoryDriver {
	cfg = cfg.withDefaults()
	return &MemoryDriver{
		cache: gocache.New(cfg.DefaultTTL, cfg.MemoryCleanupInterval),
		base:  cfg.base(),
	}
}

func (d *MemoryDriver) ID() cachecore.DriverID { return cachecore.DriverMemory }

func (d *MemoryDriver) IsSupported(context.Context) bool { return d.cache != nil }

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (d *MemoryDriver) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, ok := d.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	item, ok := raw.(memoryItem)
	if !ok {
		return nil, false, nil
	}
	// go-cache expires on the wall clock; honour the configured clock too.
	if d.base.Now().After(item.expiresAt) {
		d.cache.Delete(key)
		return nil, false, nil
	}
	return cloneBytes(item.value), true, nil
}

func (d *MemoryDriver) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		d.cache.Delete(key)
		return nil
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	d.cache.Set(key, memoryItem{value: cloneBytes(value), expiresAt: d.base.Now().Add(ttl)}, ttl)
	return nil
}

func (d *MemoryDriver) Delete(_ context.Context, key string) error {
	d.cache.Delete(key)
	return nil
}

func (d *MemoryDriver) Clear(_ context.Context, match string) error {
	if match == "" {
		d.cache.Flush()
		return nil
	}
	for key := range d.cache.Items() {
		if strings.HasPrefix(key, match) {
			d.cache.Delete(key)
		}
	}
	return nil
}

func (d *MemoryDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}
