package forumcache

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmgilman/go/errors"

	"github.com/goforj/forumcache/cachecore"
	"github.com/goforj/forumcache/events"
)

// Selector picks the driver an installation runs on. Driver instances are
// built at most once per selector, so repeated selection and detection do
// not reconnect.
type Selector struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	events   *events.Dispatcher

	mu        sync.Mutex
	active    cachecore.Driver
	instances map[cachecore.DriverID]cachecore.Driver
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithRegistry replaces the default driver registry.
func WithRegistry(r *Registry) SelectorOption {
	return func(s *Selector) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithSelectorLogger sets the logger used for fallback warnings.
func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSelectorEvents attaches the dispatcher that receives driver detection
// events.
func WithSelectorEvents(d *events.Dispatcher) SelectorOption {
	return func(s *Selector) { s.events = d }
}

// NewSelector creates a selector for cfg.
// @group Drivers
//
// Example: pick the configured accelerator
//
//	cfg := forumcache.DefaultConfig()
//	cfg.Accelerator = "redis"
//	sel := forumcache.NewSelector(cfg)
//	driver, err := sel.Select(ctx, "", true)
//	if err != nil {
//		return err
//	}
//	store := forumcache.NewStore(driver, cfg.StoreOptions()...)
func NewSelector(cfg Config, opts ...SelectorOption) *Selector {
	s := &Selector{
		cfg:       cfg.withDefaults(),
		registry:  DefaultRegistry(),
		logger:    slog.New(slog.DiscardHandler),
		instances: make(map[cachecore.DriverID]cachecore.Driver),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect lists the registered drivers that are supported here, in
// registration order. Listeners of the detect event may drop or add
// entries; ids missing from the registry are removed.
// @group Drivers
func (s *Selector) Detect(ctx context.Context) []cachecore.DriverID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectLocked(ctx)
}

func (s *Selector) detectLocked(ctx context.Context) []cachecore.DriverID {
	var supported []cachecore.DriverID
	for _, id := range s.registry.IDs() {
		if _, ok := s.supportedLocked(ctx, id); ok {
			supported = append(supported, id)
		}
	}
	ev := &events.DriversDetect{Drivers: supported}
	s.events.Dispatch(ctx, ev)
	return slices.DeleteFunc(ev.Drivers, func(id cachecore.DriverID) bool {
		_, ok := s.registry.Lookup(id)
		return !ok
	})
}

// Select returns the driver to use. It returns nil without error when
// caching is disabled or no driver is usable; callers then run uncached.
//
// An override must name a registered driver that Detect reports, otherwise
// an error wrapping ErrDriverUnavailable is returned. Without an override
// the configured accelerator is used, falling back once to the file driver
// when fallback is allowed. The first successful selection is reused by
// later calls without an override.
// @group Drivers
func (s *Selector) Select(ctx context.Context, override cachecore.DriverID, fallback bool) (cachecore.Driver, error) {
	if s.cfg.Enable == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if override == "" {
		if s.active != nil {
			return s.active, nil
		}
		return s.selectLocked(ctx, cachecore.NormalizeDriverID(s.cfg.Accelerator), fallback), nil
	}

	id := cachecore.NormalizeDriverID(string(override))
	if _, ok := s.registry.Lookup(id); !ok {
		err := errors.Wrapf(ErrDriverUnavailable, errors.CodeNotFound, "cache driver %q is not registered", id)
		return nil, errors.WithContext(err, "driver", string(id))
	}
	d, ok := s.supportedLocked(ctx, id)
	if !ok || !slices.Contains(s.detectLocked(ctx), id) {
		err := errors.Wrapf(ErrDriverUnavailable, errors.CodeUnavailable, "cache driver %q is not supported", id)
		return nil, errors.WithContext(err, "driver", string(id))
	}
	s.active = d
	return d, nil
}

func (s *Selector) selectLocked(ctx context.Context, id cachecore.DriverID, fallback bool) cachecore.Driver {
	if d, ok := s.supportedLocked(ctx, id); ok {
		s.active = d
		return d
	}
	if fallback && id != cachecore.DriverFile {
		s.logger.WarnContext(ctx, "cache driver unsupported, falling back",
			"driver", string(id),
			"fallback", string(cachecore.DriverFile),
		)
		return s.selectLocked(ctx, cachecore.DriverFile, false)
	}
	s.logger.WarnContext(ctx, "no cache driver available", "driver", string(id))
	return nil
}

// supportedLocked builds id on first use and reports whether it is usable.
// A factory error counts as unsupported.
func (s *Selector) supportedLocked(ctx context.Context, id cachecore.DriverID) (cachecore.Driver, bool) {
	d, ok := s.instances[id]
	if !ok {
		factory, registered := s.registry.Lookup(id)
		if !registered {
			return nil, false
		}
		built, err := factory(ctx, s.cfg)
		if err != nil {
			s.logger.DebugContext(ctx, "cache driver unavailable", "driver", string(id), "error", err)
			return nil, false
		}
		d = built
		s.instances[id] = d
	}
	if d == nil || !d.IsSupported(ctx) {
		return nil, false
	}
	return d, true
}
