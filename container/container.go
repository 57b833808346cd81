// Package container resolves named services through factories and alias
// chains, building each service at most once.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds service definitions. Configure merges it into a container.
type Config struct {
	// Services are pre-built instances.
	Services map[string]any
	// Factories build a service on first request.
	Factories map[string]Factory
	// Aliases map a name onto another name.
	Aliases map[string]string
	// Invokables expand into a factory plus an alias.
	Invokables map[string]Invokable
	// Delegators decorate the creation of the named service, in order.
	Delegators map[string][]Delegator
}

// Container maps names to lazily built, shared instances.
type Container struct {
	mu         sync.RWMutex
	services   map[string]any
	factories  map[string]Factory
	aliases    map[string]string
	resolved   map[string]string
	delegators map[string][]Delegator
	requested  map[string]struct{}

	builds singleflight.Group
	logger *slog.Logger
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger that records service creation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a container configured with cfg.
//
// Example:
//
//	c, err := container.New(container.Config{
//		Factories: map[string]container.Factory{
//			"cache": container.FactoryFunc(newCacheStore),
//		},
//		Aliases: map[string]string{"cache.store": "cache"},
//	})
//	store, err := container.Get[*forumcache.Store](ctx, c, "cache.store")
func New(cfg Config, opts ...Option) (*Container, error) {
	c := &Container{
		services:   make(map[string]any),
		factories:  make(map[string]Factory),
		aliases:    make(map[string]string),
		resolved:   make(map[string]string),
		delegators: make(map[string][]Delegator),
		requested:  make(map[string]struct{}),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure merges cfg into the container. Nothing is applied when any
// definition is rejected: redefining a name that already holds an instance,
// or giving an alias name a service or factory (and the reverse), fails
// with ErrModificationNotAllowed and an alias cycle fails with
// ErrCyclicAlias naming the chain.
func (c *Container) Configure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateLocked(cfg); err != nil {
		return err
	}

	factories := maps.Clone(c.factories)
	aliases := maps.Clone(c.aliases)
	for _, name := range slices.Sorted(maps.Keys(cfg.Invokables)) {
		inv := cfg.Invokables[name]
		target := inv.Type
		if target == "" {
			target = name
		}
		factories[target] = inv.factory()
		if target != name {
			aliases[name] = target
		}
	}
	maps.Copy(factories, cfg.Factories)
	maps.Copy(aliases, cfg.Aliases)

	resolved, err := resolveAliases(aliases)
	if err != nil {
		return err
	}

	maps.Copy(c.services, cfg.Services)
	c.factories = factories
	c.aliases = aliases
	c.resolved = resolved
	for name, ds := range cfg.Delegators {
		c.delegators[name] = append(c.delegators[name], ds...)
	}
	return nil
}

func (c *Container) validateLocked(cfg Config) error {
	var names []string
	names = append(names, slices.Collect(maps.Keys(cfg.Services))...)
	names = append(names, slices.Collect(maps.Keys(cfg.Aliases))...)
	names = append(names, slices.Collect(maps.Keys(cfg.Delegators))...)
	for name, f := range cfg.Factories {
		if f == nil {
			return invalidDefinition(name, "nil factory")
		}
		names = append(names, name)
	}
	for name, inv := range cfg.Invokables {
		if inv.New == nil {
			return invalidDefinition(name, "invokable without constructor")
		}
		names = append(names, name)
		if inv.Type != "" {
			names = append(names, inv.Type)
		}
	}
	for name, target := range cfg.Aliases {
		if target == "" {
			return invalidDefinition(name, "empty alias target")
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if c.lockedLocked(name) {
			return modificationNotAllowed(name)
		}
	}
	return c.checkKindsLocked(cfg)
}

// checkKindsLocked rejects a name defined both as an alias and as a service
// or factory, counting existing definitions and those in cfg.
func (c *Container) checkKindsLocked(cfg Config) error {
	concrete := make(map[string]struct{})
	aliases := make(map[string]struct{})
	for name := range cfg.Services {
		concrete[name] = struct{}{}
	}
	for name := range cfg.Factories {
		concrete[name] = struct{}{}
	}
	for name := range cfg.Aliases {
		aliases[name] = struct{}{}
	}
	for name, inv := range cfg.Invokables {
		if inv.Type == "" || inv.Type == name {
			concrete[name] = struct{}{}
			continue
		}
		concrete[inv.Type] = struct{}{}
		aliases[name] = struct{}{}
	}

	for _, name := range slices.Sorted(maps.Keys(concrete)) {
		_, existing := c.aliases[name]
		_, pending := aliases[name]
		if existing || pending {
			return kindConflict(name, "an alias")
		}
	}
	for _, name := range slices.Sorted(maps.Keys(aliases)) {
		if _, ok := c.services[name]; ok {
			return kindConflict(name, "a service")
		}
		if _, ok := c.factories[name]; ok {
			return kindConflict(name, "a factory")
		}
	}
	return nil
}

// lockedLocked reports whether name holds an instance or has been handed
// out by Get.
func (c *Container) lockedLocked(name string) bool {
	if _, ok := c.services[name]; ok {
		return true
	}
	_, ok := c.requested[name]
	return ok
}

// resolveAliases walks every alias to its terminal name. Chains are
// flattened to a single hop; a chain that revisits a name is a cycle.
func resolveAliases(aliases map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(aliases))
	for _, start := range slices.Sorted(maps.Keys(aliases)) {
		if _, done := resolved[start]; done {
			continue
		}
		var path []string
		seen := make(map[string]int)
		cur := start
		for {
			if terminal, ok := resolved[cur]; ok {
				cur = terminal
				break
			}
			next, isAlias := aliases[cur]
			if !isAlias {
				break
			}
			if i, ok := seen[cur]; ok {
				return nil, cyclicAlias(append(slices.Clone(path[i:]), cur))
			}
			seen[cur] = len(path)
			path = append(path, cur)
			cur = next
		}
		for _, name := range path {
			resolved[name] = cur
		}
	}
	return resolved, nil
}

// Resolve returns the terminal name for name.
func (c *Container) Resolve(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(name)
}

func (c *Container) resolveLocked(name string) string {
	if target, ok := c.resolved[name]; ok {
		return target
	}
	return name
}

// Get returns the shared instance for name, building it on first request.
// Aliases share the instance of their terminal name. Concurrent first
// requests wait for a single build.
//
// A factory that requests its own service must pass on the context it
// received so the cycle is reported as ErrCircularDependency.
func (c *Container) Get(ctx context.Context, name string) (any, error) {
	c.mu.RLock()
	resolved := c.resolveLocked(name)
	v, ok := c.services[resolved]
	c.mu.RUnlock()
	if ok {
		c.markRequested(name, resolved)
		return v, nil
	}

	if chain, cyclic := buildCycle(ctx, resolved); cyclic {
		return nil, circularDependency(chain)
	}

	v, err, _ := c.builds.Do(resolved, func() (any, error) {
		c.mu.RLock()
		existing, ok := c.services[resolved]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}
		obj, err := c.create(ctx, resolved, nil)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.services[resolved]; ok {
			return existing, nil
		}
		c.services[resolved] = obj
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	c.markRequested(name, resolved)
	return v, nil
}

func (c *Container) markRequested(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		c.requested[name] = struct{}{}
	}
}

// Build creates a new, unshared instance of name with opts.
func (c *Container) Build(ctx context.Context, name string, opts Options) (any, error) {
	resolved := c.Resolve(name)
	if chain, cyclic := buildCycle(ctx, resolved); cyclic {
		return nil, circularDependency(chain)
	}
	return c.create(ctx, resolved, opts)
}

// Has reports whether name resolves to a service or a factory.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resolved := c.resolveLocked(name)
	if _, ok := c.services[resolved]; ok {
		return true
	}
	_, ok := c.factories[resolved]
	return ok
}

// Names lists every registered service, factory and alias name.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := make(map[string]struct{}, len(c.services)+len(c.factories)+len(c.aliases))
	for name := range c.services {
		set[name] = struct{}{}
	}
	for name := range c.factories {
		set[name] = struct{}{}
	}
	for name := range c.aliases {
		set[name] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// SetService registers a pre-built instance.
func (c *Container) SetService(name string, service any) error {
	return c.Configure(Config{Services: map[string]any{name: service}})
}

// SetFactory registers the factory for name.
func (c *Container) SetFactory(name string, factory Factory) error {
	return c.Configure(Config{Factories: map[string]Factory{name: factory}})
}

// SetAlias makes alias resolve to target.
func (c *Container) SetAlias(alias, target string) error {
	return c.Configure(Config{Aliases: map[string]string{alias: target}})
}

// SetInvokable registers an invokable under name.
func (c *Container) SetInvokable(name string, inv Invokable) error {
	return c.Configure(Config{Invokables: map[string]Invokable{name: inv}})
}

// AddDelegator appends a delegator for name.
func (c *Container) AddDelegator(name string, d Delegator) error {
	return c.Configure(Config{Delegators: map[string][]Delegator{name: {d}}})
}

func (c *Container) create(ctx context.Context, name string, opts Options) (obj any, err error) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	delegators := slices.Clone(c.delegators[name])
	c.mu.RUnlock()
	if !ok {
		return nil, notFound(name)
	}

	ctx = withBuilding(ctx, name)
	creator := func(ctx context.Context) (any, error) {
		return factory.Create(ctx, c, name, opts)
	}
	for _, d := range delegators {
		next := creator
		creator = func(ctx context.Context) (any, error) {
			return d.Delegate(ctx, c, name, next, opts)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, notCreated(name, fmt.Errorf("panic: %v", r))
		}
	}()
	start := time.Now()
	obj, err = creator(ctx)
	if err != nil {
		return nil, notCreated(name, err)
	}
	c.logger.DebugContext(ctx, "service created", "service", name, "elapsed", time.Since(start))
	return obj, nil
}

type buildingKey struct{}

func withBuilding(ctx context.Context, name string) context.Context {
	chain, _ := ctx.Value(buildingKey{}).([]string)
	return context.WithValue(ctx, buildingKey{}, append(slices.Clone(chain), name))
}

// buildCycle reports the chain of in-progress builds when name is already
// being built further up ctx.
func buildCycle(ctx context.Context, name string) ([]string, bool) {
	chain, _ := ctx.Value(buildingKey{}).([]string)
	i := slices.Index(chain, name)
	if i < 0 {
		return nil, false
	}
	return append(slices.Clone(chain[i:]), name), true
}
