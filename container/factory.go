package container

import "context"

// Options are passed to factories by Build. Get always passes nil.
type Options map[string]any

// Factory creates the service registered under name.
type Factory interface {
	Create(ctx context.Context, c *Container, name string, opts Options) (any, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, c *Container, name string, opts Options) (any, error)

// Create implements Factory.
func (f FactoryFunc) Create(ctx context.Context, c *Container, name string, opts Options) (any, error) {
	return f(ctx, c, name, opts)
}

// Creator produces the instance a delegator decorates.
type Creator func(ctx context.Context) (any, error)

// Delegator decorates the creation of a service. It may call next to obtain
// the undecorated instance and wrap it, or replace it altogether.
type Delegator interface {
	Delegate(ctx context.Context, c *Container, name string, next Creator, opts Options) (any, error)
}

// DelegatorFunc adapts a function to the Delegator interface.
type DelegatorFunc func(ctx context.Context, c *Container, name string, next Creator, opts Options) (any, error)

// Delegate implements Delegator.
func (f DelegatorFunc) Delegate(ctx context.Context, c *Container, name string, next Creator, opts Options) (any, error) {
	return f(ctx, c, name, next, opts)
}

// Invokable registers a type that needs no collaborators. Type names the
// factory registration; when it differs from the configured name, the
// configured name becomes an alias of Type.
type Invokable struct {
	Type string
	New  func(opts Options) (any, error)
}

func (inv Invokable) factory() Factory {
	return FactoryFunc(func(_ context.Context, _ *Container, _ string, opts Options) (any, error) {
		return inv.New(opts)
	})
}
