// Package cachefake provides an in-memory cache with call assertions for
// tests of code that depends on *forumcache.Store.
package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/forumcache"
	"github.com/goforj/forumcache/cachecore"
)

// Op identifies a driver operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpDelete     Op = "delete"
	OpClear      Op = "clear"
	OpInvalidate Op = "invalidate"
)

// Fake exposes a store over an in-memory driver plus assertion helpers.
// Keys are recorded as the store passes them to the driver, so they carry
// the store prefix; use Fake.Key to build them.
type Fake struct {
	store  *forumcache.Store
	counts map[Op]map[string]int
	mu     sync.Mutex
}

// New creates a Fake. The store is enabled at the highest level with a
// fixed prefix so recorded keys are predictable; opts are applied after.
func New(opts ...forumcache.StoreOption) *Fake {
	driver := &countingDriver{inner: forumcache.NewMemoryDriver(forumcache.DefaultConfig())}
	f := &Fake{counts: make(map[Op]map[string]int)}
	driver.onCount = f.record
	base := []forumcache.StoreOption{
		forumcache.WithLevel(forumcache.MaxLevel),
		forumcache.WithPrefix("fake-"),
	}
	f.store = forumcache.NewStore(driver, append(base, opts...)...)
	return f
}

// Store returns the store to inject into code under test.
func (f *Fake) Store() *forumcache.Store { return f.store }

// Key returns the driver-level key for a logical store key.
func (f *Fake) Key(key string) string { return f.store.Prefix() + key }

// Reset clears recorded counts.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies the logical key was touched by op the expected
// number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures the logical key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op on the logical key.
func (f *Fake) Count(op Op, key string) int {
	driverKey := f.Key(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op][driverKey]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) record(op Op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
}

// countingDriver wraps a driver to record calls.
type countingDriver struct {
	inner   cachecore.Driver
	onCount func(Op, string)
}

func (d *countingDriver) ID() cachecore.DriverID { return d.inner.ID() }

func (d *countingDriver) IsSupported(ctx context.Context) bool { return d.inner.IsSupported(ctx) }

func (d *countingDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	d.bump(OpGet, key)
	return d.inner.Get(ctx, key)
}

func (d *countingDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	op := OpSet
	if value == nil {
		op = OpDelete
	}
	d.bump(op, key)
	return d.inner.Set(ctx, key, value, ttl)
}

func (d *countingDriver) Delete(ctx context.Context, key string) error {
	d.bump(OpDelete, key)
	return d.inner.Delete(ctx, key)
}

func (d *countingDriver) Clear(ctx context.Context, match string) error {
	d.bump(OpClear, match)
	return d.inner.Clear(ctx, match)
}

// InvalidateCache only records the call. The fake pins its prefix, so there
// is no sentinel to touch.
func (d *countingDriver) InvalidateCache(context.Context) error {
	d.bump(OpInvalidate, "")
	return nil
}

func (d *countingDriver) bump(op Op, key string) {
	if d.onCount != nil {
		d.onCount(op, key)
	}
}
