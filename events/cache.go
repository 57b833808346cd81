package events

import (
	"context"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

// Cache event names.
const (
	EventCacheLookup    = "cache.get.before"
	EventCacheFetched   = "cache.get.after"
	EventCachePut       = "cache.put"
	EventCacheClear     = "cache.clear"
	EventQuickGetBefore = "cache.quick_get.before"
	EventQuickGetAfter  = "cache.quick_get.after"
	EventDriversDetect  = "cache.drivers.detect"
)

// LookupCallback receives the value a store read from its driver after a
// lookup that no listener answered.
type LookupCallback func(ctx context.Context, value any)

// CacheLookup is dispatched before a store consults its driver. A listener
// answering the lookup with a non-nil value stops propagation and the driver
// is skipped.
type CacheLookup struct {
	Key       string
	FullKey   string
	value     any
	callbacks []LookupCallback
}

// NewCacheLookup creates a lookup for the logical key and its prefixed form.
func NewCacheLookup(key, fullKey string) *CacheLookup {
	return &CacheLookup{Key: key, FullKey: fullKey}
}

func (e *CacheLookup) EventName() string { return EventCacheLookup }

// SetValue answers the lookup.
func (e *CacheLookup) SetValue(v any) { e.value = v }

// Value returns the answer, if any.
func (e *CacheLookup) Value() (any, bool) { return e.value, e.value != nil }

// AddCallback registers fn to run with the value later read from the driver.
func (e *CacheLookup) AddCallback(fn LookupCallback) {
	if fn != nil {
		e.callbacks = append(e.callbacks, fn)
	}
}

// Callbacks returns registered callbacks in registration order.
func (e *CacheLookup) Callbacks() []LookupCallback { return e.callbacks }

func (e *CacheLookup) IsPropagationStopped() bool { return e.value != nil }

// CacheFetched is dispatched after a read. Listeners may replace Value.
type CacheFetched struct {
	Key   string
	Value any
	Hit   bool
}

func (e *CacheFetched) EventName() string { return EventCacheFetched }

// CacheWrite is dispatched before a value is written or deleted. Listeners
// may adjust Value and TTL.
type CacheWrite struct {
	Key     string
	Value   any
	TTL     time.Duration
	Deleted bool
}

func (e *CacheWrite) EventName() string { return EventCachePut }

// CacheClear announces a clear of the given scope ("" for everything).
type CacheClear struct {
	Scope string
	OK    bool
}

func (e *CacheClear) EventName() string { return EventCacheClear }

// QuickGet wraps the read-or-compute helper. The before event may rewrite
// Key and Level; the after event may post-process Data.
type QuickGet struct {
	name  string
	Key   string
	Level int
	Data  any
}

// NewQuickGetBefore builds the event dispatched ahead of a quick get.
func NewQuickGetBefore(key string, level int) *QuickGet {
	return &QuickGet{name: EventQuickGetBefore, Key: key, Level: level}
}

// NewQuickGetAfter builds the event dispatched once data is resolved.
func NewQuickGetAfter(key string, level int, data any) *QuickGet {
	return &QuickGet{name: EventQuickGetAfter, Key: key, Level: level, Data: data}
}

func (e *QuickGet) EventName() string { return e.name }

// DriversDetect carries the supported driver list. Listeners may drop
// entries to forbid a backend on this installation.
type DriversDetect struct {
	Drivers []cachecore.DriverID
}

func (e *DriversDetect) EventName() string { return EventDriversDetect }
