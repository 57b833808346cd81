package forumcache

import (
	"context"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

// Observer receives events for cache operations.
// It is called by Store after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.DriverID)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.DriverID)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.DriverID) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

// Observers fans one operation out to several observers.
type Observers []Observer

// OnCacheOp implements Observer.
func (o Observers) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.DriverID) {
	for _, obs := range o {
		if obs != nil {
			obs.OnCacheOp(ctx, op, key, hit, err, dur, driver)
		}
	}
}
