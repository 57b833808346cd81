package container

import (
	"context"

	"github.com/jmgilman/go/errors"
)

// Get returns the shared instance for name as T.
func Get[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	v, err := c.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		err := errors.Wrapf(ErrUnexpectedType, errors.CodeInvalidInput,
			"service %q is %T, not %T", name, v, zero)
		return zero, errors.WithContext(err, "service", name)
	}
	return out, nil
}

// MustGet is Get for bootstrap code where a missing service is fatal.
func MustGet[T any](ctx context.Context, c *Container, name string) T {
	v, err := Get[T](ctx, c, name)
	if err != nil {
		panic(err)
	}
	return v
}
