package forumcache

import "github.com/goforj/forumcache/cachecore"

// Driver is the backing store contract. See cachecore.Driver.
type Driver = cachecore.Driver

// DriverID identifies a cache backend.
type DriverID = cachecore.DriverID

const (
	DriverNull      = cachecore.DriverNull
	DriverFile      = cachecore.DriverFile
	DriverMemory    = cachecore.DriverMemory
	DriverRedis     = cachecore.DriverRedis
	DriverMemcached = cachecore.DriverMemcached
	DriverSQL       = cachecore.DriverSQL
	DriverNATS      = cachecore.DriverNATS
	DriverDynamo    = cachecore.DriverDynamo
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// touchBaseSentinel bumps the sentinel configured for a driver. Drivers
// without a sentinel have nothing to invalidate.
func touchBaseSentinel(base cachecore.BaseConfig) error {
	if base.Sentinel == "" {
		return nil
	}
	return TouchSentinel(base.Sentinel, base.Now())
}

// namespacedKey scopes key on backends shared with other applications.
func namespacedKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
