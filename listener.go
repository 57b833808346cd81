package forumcache

import (
	"context"
	"time"

	"github.com/goforj/forumcache/events"
)

// frontLookupKey marks a context already inside a front store lookup.
type frontLookupKey struct{ front *Store }

// NewLookupListener answers cache lookups from a front store, typically a
// memory-backed store in front of a shared remote driver. Lookups the front
// store cannot answer register a callback that copies the value read from
// the backing driver into the front store for ttl. The front store may share
// the dispatcher the listener is subscribed on; its own lookups are not
// answered by the listener again.
// @group Store
//
// Example: memory in front of redis
//
//	dispatcher := events.NewDispatcher()
//	front := forumcache.NewStore(forumcache.NewMemoryDriver(cfg))
//	dispatcher.Subscribe(events.EventCacheLookup, forumcache.NewLookupListener(front, time.Minute), 10)
//	store := forumcache.NewStore(redisDriver, forumcache.WithEvents(dispatcher))
func NewLookupListener(front *Store, ttl time.Duration) events.Listener {
	return events.ListenerFunc(func(ctx context.Context, e events.Event) {
		lookup, ok := e.(*events.CacheLookup)
		if !ok || front == nil {
			return
		}
		guard := frontLookupKey{front: front}
		if ctx.Value(guard) != nil {
			return
		}
		ctx = context.WithValue(ctx, guard, true)
		if v, hit := front.Get(ctx, lookup.FullKey); hit {
			lookup.SetValue(v)
			return
		}
		lookup.AddCallback(func(ctx context.Context, value any) {
			_, _ = front.Set(ctx, lookup.FullKey, value, ttl)
		})
	})
}
