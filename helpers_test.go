package forumcache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by a config and its drivers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.Sentinel = ""
	cfg = cfg.withDefaults()
	cfg.BoardURL = "https://forum.example.org"
	return cfg
}

func testConfigWithClock(t *testing.T) (Config, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := testConfig(t)
	cfg.Clock = clock
	return cfg, clock
}
