package forumcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goforj/forumcache/cachecore"
	"github.com/goforj/forumcache/events"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *FileDriver, *fakeClock) {
	t.Helper()
	cfg, clock := testConfigWithClock(t)
	driver := NewFileDriver(cfg)
	return NewStore(driver, append(cfg.StoreOptions(), opts...)...), driver, clock
}

type failingDriver struct{ err error }

func (d failingDriver) ID() cachecore.DriverID { return "failing" }

func (d failingDriver) IsSupported(context.Context) bool { return true }

func (d failingDriver) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, d.err
}

func (d failingDriver) Set(context.Context, string, []byte, time.Duration) error {
	return d.err
}

func (d failingDriver) Delete(context.Context, string) error { return d.err }

func (d failingDriver) Clear(context.Context, string) error { return d.err }

func (d failingDriver) InvalidateCache(context.Context) error { return d.err }

func TestStoreSetGetDecodesJSONShapes(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	type board struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if ok, err := store.Set(ctx, "board:1", board{ID: 1, Name: "General"}, 0); err != nil || !ok {
		t.Fatalf("set struct: ok=%v err=%v", ok, err)
	}
	v, ok := store.Get(ctx, "board:1")
	if !ok {
		t.Fatalf("expected hit")
	}
	m, isMap := v.(map[string]any)
	if !isMap || m["name"] != "General" || m["id"] != float64(1) {
		t.Fatalf("unexpected decoded value %#v", v)
	}

	if _, err := store.Set(ctx, "ids", []int{3, 4}, 0); err != nil {
		t.Fatalf("set slice: %v", err)
	}
	v, _ = store.Get(ctx, "ids")
	if list, ok := v.([]any); !ok || len(list) != 2 || list[1] != float64(4) {
		t.Fatalf("unexpected list %#v", v)
	}

	if _, err := store.Set(ctx, "flag", false, 0); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if v, ok := store.Get(ctx, "flag"); !ok || v != false {
		t.Fatalf("false must round-trip as a hit, got %v ok=%v", v, ok)
	}
}

func TestStoreDefaultTTLExpires(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t, WithDefaultTTL(30*time.Second))

	if _, err := store.Set(ctx, "online", 12, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(29 * time.Second)
	if !store.Has(ctx, "online") {
		t.Fatalf("expected value before default ttl")
	}
	clock.Advance(2 * time.Second)
	if store.Has(ctx, "online") {
		t.Fatalf("expected value to expire after default ttl")
	}

	if _, err := store.Set(ctx, "short", 1, 5*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(6 * time.Second)
	if store.Has(ctx, "short") {
		t.Fatalf("explicit ttl ignored")
	}
}

func TestStoreNilValueDeletes(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	for _, nilValue := range []any{nil, map[string]any(nil), []string(nil), (*int)(nil)} {
		if _, err := store.Set(ctx, "k", "v", 0); err != nil {
			t.Fatalf("set: %v", err)
		}
		ok, err := store.Set(ctx, "k", nilValue, 0)
		if err != nil || !ok {
			t.Fatalf("delete via %T: ok=%v err=%v", nilValue, ok, err)
		}
		if store.Has(ctx, "k") {
			t.Fatalf("expected %T to delete the key", nilValue)
		}
	}
}

func TestStoreRejectsUncacheableValues(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	if _, err := store.Set(ctx, "k", "kept", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	cases := map[string]any{
		"func":       func() {},
		"chan":       make(chan int),
		"complex":    complex(1, 2),
		"struct key": map[struct{ A int }]int{{A: 1}: 1},
		"nested":     struct{ Fn func() }{},
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := store.Set(ctx, "k", value, 0)
			if ok || !errors.Is(err, ErrInvalidValue) {
				t.Fatalf("expected ErrInvalidValue, got ok=%v err=%v", ok, err)
			}
		})
	}
	if v, _ := store.Get(ctx, "k"); v != "kept" {
		t.Fatalf("rejected write must not touch the stored value, got %v", v)
	}
}

func TestStoreLevelZeroDisablesReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	store, driver, _ := newTestStore(t)
	if _, err := store.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	off := NewStore(driver, WithLevel(0), WithPrefix(store.Prefix()))
	if off.Enabled() {
		t.Fatalf("level 0 store reports enabled")
	}
	if _, ok := off.Get(ctx, "k"); ok {
		t.Fatalf("disabled store must miss")
	}
	if ok, err := off.Set(ctx, "other", "v", 0); ok || err != nil {
		t.Fatalf("disabled set: ok=%v err=%v", ok, err)
	}
	if off.Delete(ctx, "k") {
		t.Fatalf("disabled delete reported success")
	}
	if !store.Has(ctx, "k") {
		t.Fatalf("disabled store must not delete")
	}
	if !off.Clear(ctx, "k") {
		t.Fatalf("clear runs regardless of level")
	}
	if store.Has(ctx, "k") {
		t.Fatalf("expected clear to remove key")
	}
}

func TestStoreRejectsNestedUncacheableValuesWhenDisabled(t *testing.T) {
	ctx := context.Background()
	_, driver, _ := newTestStore(t)
	stores := map[string]*Store{
		"level 0":     NewStore(driver, WithLevel(0)),
		"null driver": NewStore(nil),
	}
	for name, store := range stores {
		ok, err := store.Set(ctx, "k", map[string]any{"f": func() {}}, 0)
		if ok || !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("%s: expected ErrInvalidValue, got ok=%v err=%v", name, ok, err)
		}
	}
}

func TestStoreLevelIsClamped(t *testing.T) {
	store := NewStore(nil, WithLevel(9))
	if store.Level() != MaxLevel {
		t.Fatalf("expected level %d, got %d", MaxLevel, store.Level())
	}
	store = NewStore(nil, WithLevel(-1))
	if store.Level() != 0 {
		t.Fatalf("expected level 0, got %d", store.Level())
	}
}

func TestStoreWithoutDriverRunsUncached(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if store.DriverID() != DriverNull || store.Enabled() {
		t.Fatalf("expected null driver, got %s enabled=%v", store.DriverID(), store.Enabled())
	}
	if ok, err := store.Set(ctx, "k", "v", 0); ok || err != nil {
		t.Fatalf("null set: ok=%v err=%v", ok, err)
	}
	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatalf("null get must miss")
	}
	if !store.InvalidateCache(ctx) {
		t.Fatalf("null invalidate must succeed")
	}
}

func TestStoreAbsorbsDriverFailures(t *testing.T) {
	ctx := context.Background()
	store := NewStore(failingDriver{err: errors.New("backend down")}, WithPrefix("p-"))

	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatalf("failing get must miss")
	}
	if ok, err := store.Set(ctx, "k", "v", 0); ok || err != nil {
		t.Fatalf("failing set: ok=%v err=%v", ok, err)
	}
	if store.Delete(ctx, "k") {
		t.Fatalf("failing delete reported success")
	}
	if store.Clear(ctx, "") {
		t.Fatalf("failing clear reported success")
	}
	if store.InvalidateCache(ctx) {
		t.Fatalf("failing invalidate reported success")
	}
}

func TestStoreScopedClear(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	for _, key := range []string{"users:1", "users:2", "boards:1"} {
		if _, err := store.Set(ctx, key, key, 0); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	before := store.Prefix()
	if !store.Clear(ctx, "users:") {
		t.Fatalf("clear failed")
	}
	if store.Has(ctx, "users:1") || store.Has(ctx, "users:2") {
		t.Fatalf("scoped keys survived")
	}
	if !store.Has(ctx, "boards:1") {
		t.Fatalf("keys outside the scope were removed")
	}
	if store.Prefix() != before {
		t.Fatalf("scoped clear must keep the prefix")
	}
}

func TestStoreFullClearRotatesPrefix(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	if _, err := store.Set(ctx, "k", 1, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	before := store.Prefix()
	if !store.Clear(ctx, "") {
		t.Fatalf("clear failed")
	}
	if store.Prefix() == before {
		t.Fatalf("expected new prefix after full clear")
	}
	if store.Has(ctx, "k") {
		t.Fatalf("expected key to be gone")
	}
}

func TestStoreInvalidateCacheRetiresKeys(t *testing.T) {
	ctx := context.Background()
	store, driver, _ := newTestStore(t)
	if _, err := store.Set(ctx, "k", 1, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	old := store.Prefix()
	if !store.InvalidateCache(ctx) {
		t.Fatalf("invalidate failed")
	}
	if store.Prefix() == old {
		t.Fatalf("prefix unchanged after invalidate")
	}
	if store.Has(ctx, "k") {
		t.Fatalf("key written under old prefix still visible")
	}
	if _, ok, _ := driver.Get(ctx, old+"k"); !ok {
		t.Fatalf("invalidate must not delete entries")
	}
}

func TestStorePrefixFollowsExternalSentinelTouch(t *testing.T) {
	cfg, clock := testConfigWithClock(t)
	store := NewStore(NewFileDriver(cfg), cfg.StoreOptions()...)
	before := store.Prefix()

	if err := TouchSentinel(cfg.Sentinel, time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if store.Prefix() != before {
		t.Fatalf("prefix refreshed before the refresh interval")
	}
	clock.Advance(prefixRefreshInterval)
	if store.Prefix() == before {
		t.Fatalf("prefix not refreshed after the sentinel moved")
	}
}

func TestStoreFixedPrefix(t *testing.T) {
	store, _, _ := newTestStore(t, WithPrefix("fixed-"))
	if store.Prefix() != "fixed-" {
		t.Fatalf("expected fixed prefix, got %q", store.Prefix())
	}
	if !store.InvalidateCache(context.Background()) || store.Prefix() != "fixed-" {
		t.Fatalf("fixed prefix must survive invalidation")
	}
}

func TestStoreDebugStats(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, WithDebug(true))

	_, _ = store.Set(ctx, "a", "value", 0)
	store.Get(ctx, "a")
	store.Get(ctx, "missing")
	store.Delete(ctx, "a")

	snap := store.Stats()
	if snap.Count != 4 || snap.MissCount != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.Hits[0].Op != "put" || snap.Hits[0].Size != len(`"value"`) {
		t.Fatalf("unexpected first record %+v", snap.Hits[0])
	}
	if len(snap.Misses) != 1 || snap.Misses[0].Key != "missing" {
		t.Fatalf("unexpected misses %+v", snap.Misses)
	}

	store.ResetStats()
	if snap := store.Stats(); snap.Count != 0 || len(snap.Hits) != 0 {
		t.Fatalf("reset left %+v", snap)
	}
}

func TestStoreStatsOffByDefault(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	_, _ = store.Set(ctx, "a", 1, 0)
	store.Get(ctx, "a")
	if snap := store.Stats(); snap.Count != 0 {
		t.Fatalf("stats recorded without debug: %+v", snap)
	}
}

func TestStoreObserver(t *testing.T) {
	ctx := context.Background()
	type call struct {
		op  string
		key string
		hit bool
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	obs := ObserverFunc(func(_ context.Context, op, key string, hit bool, _ error, _ time.Duration, driver cachecore.DriverID) {
		if driver != DriverFile {
			t.Errorf("unexpected driver %s", driver)
		}
		mu.Lock()
		calls = append(calls, call{op, key, hit})
		mu.Unlock()
	})
	store, _, _ := newTestStore(t, WithObserver(obs))

	_, _ = store.Set(ctx, "a", 1, 0)
	store.Get(ctx, "a")
	store.Get(ctx, "b")
	store.Clear(ctx, "a")

	want := []call{{"set", "a", false}, {"get", "a", true}, {"get", "b", false}, {"clear", "a", false}}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: want %+v got %+v", i, want[i], calls[i])
		}
	}
}

func TestStoreWriteEventCanRewriteValue(t *testing.T) {
	ctx := context.Background()
	dispatcher := events.NewDispatcher()
	dispatcher.SubscribeFunc(events.EventCachePut, func(_ context.Context, e events.Event) {
		w := e.(*events.CacheWrite)
		if w.Key == "motd" {
			w.Value = "rewritten"
			w.TTL = time.Second
		}
	}, 0)
	store, _, clock := newTestStore(t, WithEvents(dispatcher))

	_, _ = store.Set(ctx, "motd", "original", time.Hour)
	if v, _ := store.Get(ctx, "motd"); v != "rewritten" {
		t.Fatalf("expected rewritten value, got %v", v)
	}
	clock.Advance(2 * time.Second)
	if store.Has(ctx, "motd") {
		t.Fatalf("listener ttl not applied")
	}
}

func TestStoreFetchedEventCanReplaceValue(t *testing.T) {
	ctx := context.Background()
	dispatcher := events.NewDispatcher()
	dispatcher.SubscribeFunc(events.EventCacheFetched, func(_ context.Context, e events.Event) {
		f := e.(*events.CacheFetched)
		if !f.Hit {
			f.Value = "fallback"
		}
	}, 0)
	store, _, _ := newTestStore(t, WithEvents(dispatcher))

	if v, ok := store.Get(ctx, "absent"); !ok || v != "fallback" {
		t.Fatalf("expected listener value, got %v ok=%v", v, ok)
	}
}

func TestStoreClearEvent(t *testing.T) {
	ctx := context.Background()
	dispatcher := events.NewDispatcher()
	var got []events.CacheClear
	dispatcher.SubscribeFunc(events.EventCacheClear, func(_ context.Context, e events.Event) {
		got = append(got, *e.(*events.CacheClear))
	}, 0)
	store, _, _ := newTestStore(t, WithEvents(dispatcher))

	store.Clear(ctx, "users")
	store.Clear(ctx, "")
	if len(got) != 2 || got[0].Scope != "users" || !got[0].OK || got[1].Scope != "" {
		t.Fatalf("unexpected clear events %+v", got)
	}
}

func TestStoreCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	driver := NewMemoryDriver(cfg)
	store := NewStore(driver, WithPrefix("p-"))
	if err := driver.Set(ctx, "p-bad", []byte("{not json"), time.Minute); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	if _, ok := store.Get(ctx, "bad"); ok {
		t.Fatalf("undecodable entry must miss")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := NewStore(NewMemoryDriver(cfg), cfg.StoreOptions()...)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Set(ctx, "shared", i*j, 0)
				store.Get(ctx, "shared")
			}
		}(i)
	}
	wg.Wait()
	if !store.Has(ctx, "shared") {
		t.Fatalf("expected final value")
	}
}
