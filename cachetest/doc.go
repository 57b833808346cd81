// Package cachetest provides a reusable contract suite for cache drivers.
//
// Custom drivers registered with forumcache.Registry can run it from their
// own tests.
//
// Example pattern:
//
//	func TestRedisDriverContract(t *testing.T) {
//		cfg := forumcache.DefaultConfig()
//		cfg.RedisAddr = addr
//		driver := forumcache.NewRedisDriver(cfg)
//
//		// Namespace keys per test and tune TTL waits for backend semantics.
//		cachetest.RunDriverContract(t, driver, cachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  2500 * time.Millisecond,
//		})
//	}
//
// Drivers with an injectable clock can skip the sleep:
//
//	clock := &fakeClock{now: time.Now()}
//	cfg.Clock = clock
//	cachetest.RunDriverContract(t, forumcache.NewFileDriver(cfg), cachetest.Options{
//		Advance: clock.Advance,
//	})
package cachetest
