package forumcache

import (
	"context"
	"errors"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

var errNotStored = errors.New("cache: no driver available")

// nullDriver stands in when caching is unavailable. Reads miss and writes
// report errNotStored, which the store absorbs silently.
type nullDriver struct{}

func newNullDriver() cachecore.Driver { return nullDriver{} }

func (nullDriver) ID() cachecore.DriverID { return cachecore.DriverNull }

func (nullDriver) IsSupported(context.Context) bool { return true }

func (nullDriver) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (nullDriver) Set(_ context.Context, _ string, value []byte, _ time.Duration) error {
	if value == nil {
		return nil
	}
	return errNotStored
}

func (nullDriver) Delete(context.Context, string) error { return nil }

func (nullDriver) Clear(context.Context, string) error { return nil }

func (nullDriver) InvalidateCache(context.Context) error { return nil }
