package container

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrServiceNotFound reports a name that resolves to neither a service
	// nor a factory.
	ErrServiceNotFound = stderrors.New("container: service not found")

	// ErrServiceNotCreated wraps a factory failure.
	ErrServiceNotCreated = stderrors.New("container: service not created")

	// ErrCyclicAlias reports an alias chain that leads back to itself.
	ErrCyclicAlias = stderrors.New("container: cyclic alias")

	// ErrCircularDependency reports a factory that, directly or through
	// other factories, requests the service it is building.
	ErrCircularDependency = stderrors.New("container: circular dependency")

	// ErrModificationNotAllowed reports a redefinition of a name whose
	// instance has already been handed out.
	ErrModificationNotAllowed = stderrors.New("container: modification not allowed")

	// ErrUnexpectedType reports a service that is not of the requested type.
	ErrUnexpectedType = stderrors.New("container: unexpected service type")
)

func notFound(name string) error {
	err := errors.Wrapf(ErrServiceNotFound, errors.CodeNotFound,
		"unable to resolve service %q to a factory", name)
	return errors.WithContext(err, "service", name)
}

func notCreated(name string, cause error) error {
	err := errors.Wrapf(fmt.Errorf("%w: %w", ErrServiceNotCreated, cause), errors.CodeInternal,
		"service %q could not be created", name)
	return errors.WithContext(err, "service", name)
}

func cyclicAlias(chain []string) error {
	err := errors.Wrapf(ErrCyclicAlias, errors.CodeInvalidConfig,
		"alias cycle %s", strings.Join(chain, " -> "))
	return errors.WithContext(err, "chain", chain)
}

func circularDependency(chain []string) error {
	err := errors.Wrapf(ErrCircularDependency, errors.CodeInvalidConfig,
		"dependency cycle %s", strings.Join(chain, " -> "))
	return errors.WithContext(err, "chain", chain)
}

func modificationNotAllowed(name string) error {
	err := errors.Wrapf(ErrModificationNotAllowed, errors.CodeConflict,
		"service %q already exists in the container and cannot be replaced", name)
	return errors.WithContext(err, "service", name)
}

func kindConflict(name, existing string) error {
	err := errors.Wrapf(ErrModificationNotAllowed, errors.CodeConflict,
		"service %q is already defined as %s", name, existing)
	return errors.WithContext(err, "service", name)
}

func invalidDefinition(name, reason string) error {
	return errors.WithContext(errors.Newf(errors.CodeInvalidConfig,
		"invalid definition for %q: %s", name, reason), "service", name)
}
