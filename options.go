package forumcache

import (
	"log/slog"
	"time"

	"github.com/goforj/forumcache/cachecore"
	"github.com/goforj/forumcache/events"
)

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	// Level is the cache enable level. Zero disables every operation.
	Level int

	// DefaultTTL is used when a call provides ttl <= 0.
	DefaultTTL time.Duration

	// Prefix replaces the derived installation prefix when set.
	Prefix string

	// BoardURL, Sentinel and SettingsFile feed prefix derivation.
	BoardURL     string
	Sentinel     string
	SettingsFile string

	// Debug records per-operation statistics.
	Debug bool

	Logger   *slog.Logger
	Observer Observer
	Events   *events.Dispatcher
	Clock    cachecore.Clock
}

func (c StoreConfig) withDefaults() StoreConfig {
	c.Level = clampLevel(c.Level)
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultCacheTTL
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = cachecore.SystemClock
	}
	return c
}

// StoreOption mutates StoreConfig when constructing a store.
type StoreOption func(StoreConfig) StoreConfig

// WithLevel sets the cache enable level (0-3).
func WithLevel(level int) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Level = level
		return cfg
	}
}

// WithDefaultTTL overrides the fallback TTL used when ttl <= 0.
func WithDefaultTTL(ttl time.Duration) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DefaultTTL = ttl
		return cfg
	}
}

// WithPrefix pins the key prefix instead of deriving it.
func WithPrefix(prefix string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithPrefixSource sets the inputs of prefix derivation.
func WithPrefixSource(boardURL, sentinel, settingsFile string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.BoardURL = boardURL
		cfg.Sentinel = sentinel
		cfg.SettingsFile = settingsFile
		return cfg
	}
}

// WithDebug toggles debug statistics.
func WithDebug(enabled bool) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Debug = enabled
		return cfg
	}
}

// WithLogger sets the logger used for absorbed driver failures.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithObserver attaches an observer to receive operation events.
func WithObserver(o Observer) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Observer = o
		return cfg
	}
}

// WithEvents attaches the dispatcher that carries cache hooks.
func WithEvents(d *events.Dispatcher) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Events = d
		return cfg
	}
}

// WithClock overrides the time source.
func WithClock(clock cachecore.Clock) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Clock = clock
		return cfg
	}
}
