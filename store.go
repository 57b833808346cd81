package forumcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/goforj/forumcache/cachecore"
	"github.com/goforj/forumcache/events"
)

// prefixRefreshInterval bounds how stale the derived prefix may be when the
// sentinel is touched by another process.
const prefixRefreshInterval = time.Second

// Store wraps the active driver with prefixing, JSON encoding, default TTLs,
// enable-level gating, debug statistics and event hooks. Driver failures
// never reach the caller: reads degrade to misses and writes to false.
type Store struct {
	driver cachecore.Driver
	cfg    StoreConfig
	stats  *Stats

	mu        sync.Mutex
	prefix    string
	derivedAt time.Time
}

// NewStore creates a store over driver. A nil driver means no cache is
// available: reads miss and writes report false.
// @group Store
//
// Example: file-backed store
//
//	ctx := context.Background()
//	cfg := forumcache.DefaultConfig()
//	driver := forumcache.NewFileDriver(cfg)
//	store := forumcache.NewStore(driver, cfg.StoreOptions()...)
//	_, _ = store.Set(ctx, "board:1", map[string]any{"name": "General"}, 0)
//	v, ok := store.Get(ctx, "board:1")
//	fmt.Println(ok, v) // true map[name:General]
func NewStore(driver cachecore.Driver, opts ...StoreOption) *Store {
	cfg := StoreConfig{Level: 1}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	cfg = cfg.withDefaults()
	if driver == nil {
		driver = newNullDriver()
	}
	s := &Store{
		driver: driver,
		cfg:    cfg,
		stats:  &Stats{},
	}
	s.refreshPrefix()
	return s
}

// Driver returns the active driver.
func (s *Store) Driver() cachecore.Driver { return s.driver }

// DriverID reports the active driver identifier.
func (s *Store) DriverID() cachecore.DriverID { return s.driver.ID() }

// Level returns the cache enable level.
func (s *Store) Level() int { return s.cfg.Level }

// Enabled reports whether caching is on and a real driver is attached.
func (s *Store) Enabled() bool {
	return s.cfg.Level > 0 && s.driver.ID() != cachecore.DriverNull
}

// DefaultTTL returns the TTL applied when writes pass ttl <= 0.
func (s *Store) DefaultTTL() time.Duration { return s.cfg.DefaultTTL }

// Events returns the dispatcher carrying this store's hooks, if any.
func (s *Store) Events() *events.Dispatcher { return s.cfg.Events }

// Stats returns the debug statistics collected so far.
func (s *Store) Stats() StatsSnapshot { return s.stats.Snapshot() }

// ResetStats clears debug statistics.
func (s *Store) ResetStats() { s.stats.Reset() }

// Prefix returns the installation prefix applied to every key.
func (s *Store) Prefix() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Prefix == "" && s.now().Sub(s.derivedAt) >= prefixRefreshInterval {
		s.derivePrefixLocked()
	}
	return s.prefix
}

func (s *Store) refreshPrefix() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derivePrefixLocked()
}

func (s *Store) derivePrefixLocked() {
	s.derivedAt = s.now()
	if s.cfg.Prefix != "" {
		s.prefix = s.cfg.Prefix
		return
	}
	s.prefix = DerivePrefix(s.cfg.BoardURL, s.cfg.Sentinel, s.cfg.SettingsFile)
}

// Get returns the decoded value stored under key. Objects decode to
// map[string]any, arrays to []any and numbers to float64.
// @group Store
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	start := s.now()
	if !s.Enabled() {
		s.observe(ctx, "get", key, false, nil, start)
		return nil, false
	}
	full := s.Prefix() + key

	lookup := events.NewCacheLookup(key, full)
	s.cfg.Events.Dispatch(ctx, lookup)
	if v, ok := lookup.Value(); ok {
		s.record(key, "get", 0, start, false)
		s.observe(ctx, "get", key, true, nil, start)
		return s.fetched(ctx, key, v, true)
	}

	body, ok, err := s.driver.Get(ctx, full)
	if err != nil {
		s.absorb(ctx, "get", key, err)
		ok = false
	}
	var value any
	if ok {
		if decodeErr := json.Unmarshal(body, &value); decodeErr != nil {
			s.absorb(ctx, "decode", key, decodeErr)
			err, ok = decodeErr, false
		}
		ok = ok && value != nil
	}
	s.record(key, "get", len(body), start, !ok)
	s.observe(ctx, "get", key, ok, err, start)
	if ok {
		for _, cb := range lookup.Callbacks() {
			cb(ctx, value)
		}
	}
	return s.fetched(ctx, key, value, ok)
}

func (s *Store) fetched(ctx context.Context, key string, value any, hit bool) (any, bool) {
	if !s.cfg.Events.HasListeners(events.EventCacheFetched) {
		return value, hit
	}
	ev := &events.CacheFetched{Key: key, Value: value, Hit: hit}
	s.cfg.Events.Dispatch(ctx, ev)
	return ev.Value, ev.Value != nil
}

// GetOr returns the value for key, or def on a miss.
// @group Store
func (s *Store) GetOr(ctx context.Context, key string, def any) any {
	if v, ok := s.Get(ctx, key); ok {
		return v
	}
	return def
}

// Has reports whether key currently holds a value.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Set stores value under key for ttl; ttl <= 0 uses the default TTL and a
// nil value deletes the key. The only error is ErrInvalidValue, returned
// before anything is written. The bool reports whether the backend accepted
// the write.
// @group Store
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	start := s.now()
	if err := CheckCacheable(value); err != nil {
		invalid := s.invalid(key, value, err)
		s.observe(ctx, "set", key, false, invalid, start)
		return false, invalid
	}
	if !s.Enabled() {
		s.observe(ctx, "set", key, false, nil, start)
		return false, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	write := &events.CacheWrite{Key: key, Value: value, TTL: ttl, Deleted: isNilValue(value)}
	s.cfg.Events.Dispatch(ctx, write)
	value, ttl = write.Value, write.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	var body []byte
	if !isNilValue(value) {
		var err error
		body, err = json.Marshal(value)
		if err != nil {
			invalid := s.invalid(key, value, err)
			s.observe(ctx, "set", key, false, invalid, start)
			return false, invalid
		}
	}

	err := s.driver.Set(ctx, s.Prefix()+key, body, ttl)
	s.record(key, "put", len(body), start, false)
	s.observe(ctx, "set", key, false, err, start)
	if err != nil {
		s.absorb(ctx, "set", key, err)
		return false, nil
	}
	return true, nil
}

// Delete removes key.
// @group Store
func (s *Store) Delete(ctx context.Context, key string) bool {
	start := s.now()
	if !s.Enabled() {
		return false
	}
	err := s.driver.Delete(ctx, s.Prefix()+key)
	s.record(key, "delete", 0, start, false)
	s.observe(ctx, "delete", key, false, err, start)
	if err != nil {
		s.absorb(ctx, "delete", key, err)
		return false
	}
	return true
}

// Clear removes entries whose key starts with scope. An empty scope removes
// everything the driver owns and also invalidates the installation prefix.
// @group Store
func (s *Store) Clear(ctx context.Context, scope string) bool {
	start := s.now()
	match := ""
	if scope != "" {
		match = s.Prefix() + scope
	}
	err := s.driver.Clear(ctx, match)
	if err != nil {
		s.absorb(ctx, "clear", scope, err)
	}
	if scope == "" {
		if invErr := s.driver.InvalidateCache(ctx); invErr != nil {
			s.absorb(ctx, "invalidate", scope, invErr)
		}
		s.refreshPrefix()
	}
	s.observe(ctx, "clear", scope, false, err, start)
	s.cfg.Events.Dispatch(ctx, &events.CacheClear{Scope: scope, OK: err == nil})
	return err == nil
}

// InvalidateCache touches the installation sentinel so every key written
// under the current prefix becomes unreachable.
// @group Store
func (s *Store) InvalidateCache(ctx context.Context) bool {
	start := s.now()
	err := s.driver.InvalidateCache(ctx)
	if err != nil {
		s.absorb(ctx, "invalidate", "", err)
	}
	s.refreshPrefix()
	s.observe(ctx, "invalidate", "", false, err, start)
	return err == nil
}

func (s *Store) invalid(key string, value any, cause error) error {
	err := errors.Wrapf(ErrInvalidValue, errors.CodeInvalidInput, "cannot cache %T: %v", value, cause)
	return errors.WithContext(err, "key", key)
}

func (s *Store) absorb(ctx context.Context, op, key string, err error) {
	if errors.Is(err, errNotStored) {
		return
	}
	s.cfg.Logger.DebugContext(ctx, "cache operation degraded",
		"op", op,
		"key", key,
		"driver", string(s.driver.ID()),
		"error", err,
	)
}

func (s *Store) record(key, op string, size int, start time.Time, miss bool) {
	if !s.cfg.Debug {
		return
	}
	s.stats.record(OpRecord{Key: key, Op: op, Size: size, Elapsed: s.now().Sub(start)}, miss)
}

func (s *Store) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if s.cfg.Observer == nil {
		return
	}
	s.cfg.Observer.OnCacheOp(ctx, op, key, hit, err, s.now().Sub(start), s.driver.ID())
}

func (s *Store) now() time.Time { return s.cfg.Clock.Now() }
