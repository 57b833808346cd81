package forumcache

import "errors"

var (
	// ErrInvalidValue is returned by Store.Set for values that cannot be
	// represented as JSON.
	ErrInvalidValue = errors.New("cache: value is not cacheable")

	// ErrDriverUnavailable reports an explicit driver override that is not
	// registered or not supported on this installation.
	ErrDriverUnavailable = errors.New("cache: driver unavailable")

	errClientUnavailable = errors.New("cache: backend client unavailable")
)
