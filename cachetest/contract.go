package cachetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

// Options configures shared driver contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur when
	// Advance is nil.
	TTLWait time.Duration
	// Advance moves the driver's clock forward. When set, expiry is checked
	// without sleeping.
	Advance func(time.Duration)
	// SkipCloneCheck disables the "get returns a cloned value" assertion.
	SkipCloneCheck bool
	// SkipScopedClear is for drivers whose Clear ignores the match and
	// removes everything.
	SkipScopedClear bool
	// SkipTTL disables the expiry check for drivers with coarse native expiry.
	SkipTTL bool
}

// Driver is the contract exercised by RunDriverContract.
type Driver = cachecore.Driver

// RunDriverContract runs a backend-agnostic driver contract suite. Values are
// JSON documents, as written by forumcache.Store.
func RunDriverContract(t *testing.T, driver Driver, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Second
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 2500 * time.Millisecond
	}

	ctx := context.Background()
	scope := sanitize(caseName) + "-"
	key := func(s string) string { return scope + s }

	if !driver.IsSupported(ctx) {
		t.Fatalf("driver %s reports unsupported", driver.ID())
	}

	// Set/Get round-trip.
	if err := driver.Set(ctx, key("alpha"), []byte(`{"name":"General"}`), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := driver.Get(ctx, key("alpha"))
	if err != nil || !ok || string(body) != `{"name":"General"}` {
		t.Fatalf("unexpected get result: ok=%v body=%q err=%v", ok, string(body), err)
	}
	if !opts.SkipCloneCheck {
		body[0] = 'X'
		body2, ok2, err2 := driver.Get(ctx, key("alpha"))
		if err2 != nil || !ok2 || string(body2) != `{"name":"General"}` {
			t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
		}
	}

	// Overwrite.
	if err := driver.Set(ctx, key("alpha"), []byte(`[1,2,3]`), time.Minute); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if body, ok, err := driver.Get(ctx, key("alpha")); err != nil || !ok || string(body) != `[1,2,3]` {
		t.Fatalf("expected overwritten value; ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Keys outside the usual alphabet.
	odd := key("topic:42/reply 7?ä*")
	if err := driver.Set(ctx, odd, []byte(`"odd"`), time.Minute); err != nil {
		t.Fatalf("set odd key failed: %v", err)
	}
	if body, ok, err := driver.Get(ctx, odd); err != nil || !ok || string(body) != `"odd"` {
		t.Fatalf("odd key round-trip failed: ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Nil value deletes.
	if err := driver.Set(ctx, key("alpha"), nil, time.Minute); err != nil {
		t.Fatalf("set nil failed: %v", err)
	}
	if _, ok, err := driver.Get(ctx, key("alpha")); err != nil || ok {
		t.Fatalf("expected nil set to delete; ok=%v err=%v", ok, err)
	}

	// Delete, including a missing key.
	if err := driver.Set(ctx, key("a"), []byte(`1`), time.Minute); err != nil {
		t.Fatalf("set a failed: %v", err)
	}
	if err := driver.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := driver.Get(ctx, key("a")); err != nil || ok {
		t.Fatalf("expected key a deleted; ok=%v err=%v", ok, err)
	}
	if err := driver.Delete(ctx, key("never-set")); err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}

	// TTL expiry.
	if !opts.SkipTTL {
		if err := driver.Set(ctx, key("ttl"), []byte(`"v"`), ttl); err != nil {
			t.Fatalf("set ttl failed: %v", err)
		}
		if _, ok, err := driver.Get(ctx, key("ttl")); err != nil || !ok {
			t.Fatalf("expected fresh ttl key visible; ok=%v err=%v", ok, err)
		}
		if opts.Advance != nil {
			// drivers may store expiry with second precision
			opts.Advance(ttl + 2*time.Second)
			if _, ok, err := driver.Get(ctx, key("ttl")); err != nil || ok {
				t.Fatalf("expected ttl expiry; ok=%v err=%v", ok, err)
			}
		} else if err := waitForMiss(ctx, driver, key("ttl"), wait); err != nil {
			t.Fatalf("expected ttl expiry: %v", err)
		}
	}

	// Scoped clear.
	for _, k := range []string{"users:1", "users:2", "boards:1"} {
		if err := driver.Set(ctx, key(k), []byte(`true`), time.Minute); err != nil {
			t.Fatalf("set %s failed: %v", k, err)
		}
	}
	if err := driver.Clear(ctx, key("users:")); err != nil {
		t.Fatalf("scoped clear failed: %v", err)
	}
	for _, k := range []string{"users:1", "users:2"} {
		if _, ok, err := driver.Get(ctx, key(k)); err != nil || ok {
			t.Fatalf("expected %s cleared; ok=%v err=%v", k, ok, err)
		}
	}
	if !opts.SkipScopedClear {
		if _, ok, err := driver.Get(ctx, key("boards:1")); err != nil || !ok {
			t.Fatalf("expected boards:1 to survive scoped clear; ok=%v err=%v", ok, err)
		}
	}

	// Full clear.
	if err := driver.Set(ctx, key("flush"), []byte(`"x"`), time.Minute); err != nil {
		t.Fatalf("set flush failed: %v", err)
	}
	if err := driver.Clear(ctx, ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	for _, k := range []string{"flush", "boards:1"} {
		if _, ok, err := driver.Get(ctx, key(k)); err != nil || ok {
			t.Fatalf("expected clear to remove %s; ok=%v err=%v", k, ok, err)
		}
	}

	if err := driver.InvalidateCache(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
}

func waitForMiss(ctx context.Context, driver Driver, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := driver.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	_, ok, err := driver.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
