package forumcache

import (
	"context"
	"time"

	"github.com/goforj/forumcache/events"
)

// Producer computes a value together with the instant it stops being valid.
type Producer[T any] func(ctx context.Context) (T, time.Time, error)

type cacheBlock[T any] struct {
	Data    T     `json:"data"`
	Expires int64 `json:"expires"`
}

// QuickGet returns the cached block for key or recomputes it with produce.
// The block is recomputed when caching is off, when the store level is below
// level, on a miss, or when the stored expiry has passed. A fresh result is
// cached until the expiry the producer declared; results that are already
// expired are returned but not cached.
// @group Store
//
// Example: cache an expensive board index
//
//	boards, err := forumcache.QuickGet(ctx, store, "board_index", 2,
//		func(ctx context.Context) ([]string, time.Time, error) {
//			return loadBoards(ctx), time.Now().Add(5 * time.Minute), nil
//		})
func QuickGet[T any](ctx context.Context, s *Store, key string, level int, produce Producer[T]) (T, error) {
	before := events.NewQuickGetBefore(key, level)
	s.cfg.Events.Dispatch(ctx, before)
	key, level = before.Key, before.Level

	cacheable := s.Enabled() && s.Level() >= level
	data, found := quickLookup[T](ctx, s, key, cacheable)
	if !found {
		var (
			expires time.Time
			err     error
		)
		data, expires, err = produce(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		if ttl := expires.Sub(s.now()); cacheable && ttl > 0 {
			block := cacheBlock[T]{Data: data, Expires: expires.Unix()}
			if _, setErr := s.Set(ctx, key, block, ttl); setErr != nil {
				s.absorb(ctx, "quick_get", key, setErr)
			}
		}
	}

	after := events.NewQuickGetAfter(key, level, data)
	s.cfg.Events.Dispatch(ctx, after)
	if v, ok := after.Data.(T); ok {
		data = v
	}
	return data, nil
}

func quickLookup[T any](ctx context.Context, s *Store, key string, cacheable bool) (T, bool) {
	var zero T
	if !cacheable {
		return zero, false
	}
	raw, ok := s.Get(ctx, key)
	if !ok {
		return zero, false
	}
	block, err := convertJSON[cacheBlock[T]](raw)
	if err != nil {
		s.absorb(ctx, "quick_get", key, err)
		return zero, false
	}
	if block.Expires != 0 && block.Expires < s.now().Unix() {
		return zero, false
	}
	return block.Data, true
}

// GetJSON decodes the value under key into T.
// @group Store
func GetJSON[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return zero, false, nil
	}
	out, err := convertJSON[T](raw)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// Remember returns the value under key, computing and storing it for ttl on
// a miss. Backend failures do not fail the call; an uncacheable result is
// returned together with ErrInvalidValue.
// @group Store
func Remember[T any](ctx context.Context, s *Store, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if v, ok, err := GetJSON[T](ctx, s, key); err == nil && ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if _, err := s.Set(ctx, key, v, ttl); err != nil {
		return v, err
	}
	return v, nil
}
