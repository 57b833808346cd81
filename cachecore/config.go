package cachecore

import "time"

// BaseConfig contains shared, backend-agnostic driver configuration.
type BaseConfig struct {
	// DefaultTTL applies when a write carries ttl <= 0.
	DefaultTTL time.Duration
	// Namespace scopes keys on backends shared with other applications.
	Namespace string
	// Sentinel is the file touched by InvalidateCache.
	Sentinel string
	Clock    Clock
}

// Now returns the configured clock's time, falling back to the wall clock.
func (c BaseConfig) Now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// Clock abstracts time so expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
