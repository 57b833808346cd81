package forumcache

import (
	"context"
	"slices"
	"sync"

	"github.com/goforj/forumcache/cachecore"
)

// DriverFactory builds a driver from the installation config. Returning an
// error marks the driver as unsupported for this installation.
type DriverFactory func(ctx context.Context, cfg Config) (cachecore.Driver, error)

// Registry maps driver identifiers to factories. Iteration follows
// registration order so detection is deterministic.
type Registry struct {
	mu        sync.RWMutex
	ids       []cachecore.DriverID
	factories map[cachecore.DriverID]DriverFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[cachecore.DriverID]DriverFactory)}
}

// DefaultRegistry returns a registry holding every built-in driver, file
// first.
// @group Drivers
//
// Example: add a custom backend
//
//	reg := forumcache.DefaultRegistry()
//	reg.Register("custom", func(ctx context.Context, cfg forumcache.Config) (forumcache.Driver, error) {
//		return newCustomDriver(cfg), nil
//	})
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(cachecore.DriverFile, func(_ context.Context, cfg Config) (cachecore.Driver, error) {
		return NewFileDriver(cfg), nil
	})
	r.Register(cachecore.DriverMemory, func(_ context.Context, cfg Config) (cachecore.Driver, error) {
		return NewMemoryDriver(cfg), nil
	})
	r.Register(cachecore.DriverRedis, func(_ context.Context, cfg Config) (cachecore.Driver, error) {
		return NewRedisDriver(cfg), nil
	})
	r.Register(cachecore.DriverMemcached, func(_ context.Context, cfg Config) (cachecore.Driver, error) {
		return NewMemcachedDriver(cfg), nil
	})
	r.Register(cachecore.DriverSQL, func(ctx context.Context, cfg Config) (cachecore.Driver, error) {
		return NewSQLDriver(ctx, cfg)
	})
	r.Register(cachecore.DriverNATS, func(_ context.Context, cfg Config) (cachecore.Driver, error) {
		return NewNATSDriver(cfg)
	})
	r.Register(cachecore.DriverDynamo, func(ctx context.Context, cfg Config) (cachecore.Driver, error) {
		return NewDynamoDriver(ctx, cfg)
	})
	return r
}

// Register adds or replaces the factory for id. A replaced driver keeps its
// original position.
func (r *Registry) Register(id cachecore.DriverID, factory DriverFactory) {
	id = cachecore.NormalizeDriverID(string(id))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; !ok {
		r.ids = append(r.ids, id)
	}
	r.factories[id] = factory
}

// Lookup returns the factory registered for id.
func (r *Registry) Lookup(id cachecore.DriverID) (DriverFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[cachecore.NormalizeDriverID(string(id))]
	return f, ok
}

// IDs returns registered identifiers in registration order.
func (r *Registry) IDs() []cachecore.DriverID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ids)
}
