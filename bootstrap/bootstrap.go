// Package bootstrap wires the cache services of an installation into a
// service container.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goforj/forumcache"
	"github.com/goforj/forumcache/container"
	"github.com/goforj/forumcache/events"
	"github.com/goforj/forumcache/metrics"
)

// Service names registered by New.
const (
	ServiceConfig          = "config"
	ServiceLogger          = "logger"
	ServiceEvents          = "events"
	ServiceMetricsRegistry = "metrics.registry"
	ServiceCacheRegistry   = "cache.registry"
	ServiceCacheSelector   = "cache.selector"
	ServiceCacheObserver   = "cache.observer"
	ServiceCache           = "cache"

	AliasCacheStore       = "cache.store"
	AliasEventsDispatcher = "events.dispatcher"
)

const metricsNamespace = "forum"

type options struct {
	logger      *slog.Logger
	registerer  prometheus.Registerer
	registry    *forumcache.Registry
	definitions []container.Config
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger shared by every service.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer sets where cache metrics are registered. By default a
// fresh registry is created and exposed as "metrics.registry".
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDriverRegistry replaces the built-in driver registry.
func WithDriverRegistry(r *forumcache.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithDefinitions merges extra service definitions after the built-in ones.
func WithDefinitions(cfg container.Config) Option {
	return func(o *options) { o.definitions = append(o.definitions, cfg) }
}

// New returns a container holding the cache services for cfg.
//
// Example:
//
//	cfg, err := forumcache.LoadConfig("/var/www/forum/cache.yaml")
//	if err != nil {
//		return err
//	}
//	c, err := bootstrap.New(cfg, bootstrap.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	store, err := container.Get[*forumcache.Store](ctx, c, bootstrap.AliasCacheStore)
func New(cfg forumcache.Config, opts ...Option) (*container.Container, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	services := map[string]any{
		ServiceConfig: cfg,
		ServiceLogger: o.logger,
	}
	if o.registerer == nil {
		reg := prometheus.NewRegistry()
		services[ServiceMetricsRegistry] = reg
		o.registerer = reg
	}

	c, err := container.New(container.Config{
		Services: services,
		Factories: map[string]container.Factory{
			ServiceEvents:        container.FactoryFunc(newDispatcher),
			ServiceCacheRegistry: registryFactory(o.registry),
			ServiceCacheSelector: container.FactoryFunc(newSelector),
			ServiceCacheObserver: observerFactory(o.registerer),
			ServiceCache:         container.FactoryFunc(newCacheStore),
		},
		Aliases: map[string]string{
			AliasCacheStore:       ServiceCache,
			AliasEventsDispatcher: ServiceEvents,
		},
	}, container.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	for _, def := range o.definitions {
		if err := c.Configure(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newDispatcher(ctx context.Context, c *container.Container, _ string, _ container.Options) (any, error) {
	logger, err := container.Get[*slog.Logger](ctx, c, ServiceLogger)
	if err != nil {
		return nil, err
	}
	return events.NewDispatcher(events.WithLogger(logger)), nil
}

func registryFactory(r *forumcache.Registry) container.Factory {
	return container.FactoryFunc(func(context.Context, *container.Container, string, container.Options) (any, error) {
		if r != nil {
			return r, nil
		}
		return forumcache.DefaultRegistry(), nil
	})
}

func newSelector(ctx context.Context, c *container.Container, _ string, _ container.Options) (any, error) {
	cfg, err := container.Get[forumcache.Config](ctx, c, ServiceConfig)
	if err != nil {
		return nil, err
	}
	logger, err := container.Get[*slog.Logger](ctx, c, ServiceLogger)
	if err != nil {
		return nil, err
	}
	registry, err := container.Get[*forumcache.Registry](ctx, c, ServiceCacheRegistry)
	if err != nil {
		return nil, err
	}
	dispatcher, err := container.Get[*events.Dispatcher](ctx, c, ServiceEvents)
	if err != nil {
		return nil, err
	}
	return forumcache.NewSelector(cfg,
		forumcache.WithRegistry(registry),
		forumcache.WithSelectorLogger(logger),
		forumcache.WithSelectorEvents(dispatcher),
	), nil
}

func observerFactory(reg prometheus.Registerer) container.Factory {
	return container.FactoryFunc(func(context.Context, *container.Container, string, container.Options) (any, error) {
		return metrics.NewObserver(reg, metricsNamespace), nil
	})
}

// newCacheStore builds the store on the selected driver. An installation
// without a usable driver still gets a store; it simply never hits.
func newCacheStore(ctx context.Context, c *container.Container, _ string, _ container.Options) (any, error) {
	cfg, err := container.Get[forumcache.Config](ctx, c, ServiceConfig)
	if err != nil {
		return nil, err
	}
	logger, err := container.Get[*slog.Logger](ctx, c, ServiceLogger)
	if err != nil {
		return nil, err
	}
	selector, err := container.Get[*forumcache.Selector](ctx, c, ServiceCacheSelector)
	if err != nil {
		return nil, err
	}
	dispatcher, err := container.Get[*events.Dispatcher](ctx, c, ServiceEvents)
	if err != nil {
		return nil, err
	}
	observer, err := container.Get[forumcache.Observer](ctx, c, ServiceCacheObserver)
	if err != nil {
		return nil, err
	}

	driver, err := selector.Select(ctx, "", true)
	if err != nil {
		return nil, err
	}
	opts := append(cfg.StoreOptions(),
		forumcache.WithLogger(logger),
		forumcache.WithEvents(dispatcher),
		forumcache.WithObserver(observer),
	)
	return forumcache.NewStore(driver, opts...), nil
}
