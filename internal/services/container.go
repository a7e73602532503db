// Package services provides scoped service containers used for dependency
// injection in the worker.
//
// A Container belongs to one scope (global, session or request) and holds
// factories for the services that scope owns. Factories are creators in the
// container's own registry node, so registering the same service twice in
// one scope is a registration conflict. Each service is created at most once
// per scope. Lookups that miss fall back to the parent scope, and closing a
// scope only releases what that scope created.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/registry"
)

var (
	// ErrServiceNotFound is returned when no scope in the chain provides a type.
	ErrServiceNotFound = errors.New("service not found")
	// ErrScopeClosed is returned by lookups on a closed container.
	ErrScopeClosed = errors.New("scope closed")
	// ErrDependencyCycle is returned when a factory depends on itself.
	ErrDependencyCycle = errors.New("dependency cycle")
)

var typeOfError = reflect.TypeFor[error]()

// Lookup resolves services by type.
type Lookup interface {
	Get(t reflect.Type) (any, error)
}

// Stopper is implemented by services with a context-aware shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Get resolves a service of type T from l.
func Get[T any](l Lookup) (T, error) {
	var zero T
	v, err := l.Get(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		if v == nil {
			return zero, nil
		}
		return zero, fmt.Errorf("service %s resolved to %T", reflect.TypeFor[T](), v)
	}
	return typed, nil
}

type slot struct {
	done  chan struct{}
	stack []reflect.Type
	value any
	err   error
}

// Container is one service scope. It is safe for concurrent use.
type Container struct {
	name   string
	parent Lookup
	node   *registry.Node
	added  map[reflect.Type]bool

	mu     sync.Mutex
	slots  map[reflect.Type]*slot
	owned  []any
	closed bool
}

// Name returns the scope's display name.
func (c *Container) Name() string { return c.name }

// Parent returns the parent lookup, or nil.
func (c *Container) Parent() Lookup { return c.parent }

// Get returns the service of type t, creating it in this scope if this scope
// provides it, otherwise delegating to the parent.
func (c *Container) Get(t reflect.Type) (any, error) {
	return c.get(t, nil)
}

func (c *Container) get(t reflect.Type, stack []reflect.Type) (any, error) {
	if slices.Contains(stack, t) {
		return nil, fmt.Errorf("%w in scope %s: %s", ErrDependencyCycle, c.name, formatStack(append(slices.Clone(stack), t)))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrScopeClosed, c.name)
	}
	if s, ok := c.slots[t]; ok {
		c.mu.Unlock()
		<-s.done
		return s.value, s.err
	}
	if c.node == nil || !c.node.HasLocal(registry.Key{Type: t}) {
		c.mu.Unlock()
		return c.fromParent(t)
	}
	s := &slot{done: make(chan struct{}), stack: append(slices.Clone(stack), t)}
	if c.slots == nil {
		c.slots = make(map[reflect.Type]*slot)
	}
	c.slots[t] = s
	c.mu.Unlock()

	v, err := c.create(t)

	c.mu.Lock()
	var orphan any
	switch {
	case err != nil:
		delete(c.slots, t)
	case c.added[t]:
	case c.closed:
		// closed while the factory ran
		orphan, v = v, nil
		err = fmt.Errorf("%w: %s", ErrScopeClosed, c.name)
	default:
		c.owned = append(c.owned, v)
	}
	s.value, s.err = v, err
	c.mu.Unlock()
	close(s.done)

	if orphan != nil {
		_ = release(orphan)
	}
	return v, err
}

func (c *Container) create(t reflect.Type) (any, error) {
	v, _, err := c.node.ResolveLocal(t)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", c.name, err)
	}
	return v, nil
}

// stackFor returns the resolution path recorded on t's pending slot.
func (c *Container) stackFor(t reflect.Type) []reflect.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[t]; ok {
		return s.stack
	}
	return []reflect.Type{t}
}

func (c *Container) fromParent(t reflect.Type) (any, error) {
	if c.parent == nil {
		return nil, fmt.Errorf("%w: %s (scope %s)", ErrServiceNotFound, t, c.name)
	}
	return c.parent.Get(t)
}

// Close releases the services this scope created, newest first. Instances
// passed to Registration.Add and services of parent scopes are left alone.
// Close is idempotent and safe on a partially built container.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()

	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		if err := release(owned[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Warn("Scope closed with errors", logfields.Scope(c.name), "count", len(errs))
	}
	return errors.Join(errs...)
}

func release(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closing %T panicked: %v", v, r)
		}
	}()
	switch s := v.(type) {
	case Stopper:
		return s.Stop(context.Background())
	case io.Closer:
		return s.Close()
	}
	return nil
}

func formatStack(stack []reflect.Type) string {
	names := make([]string, len(stack))
	for i, t := range stack {
		names[i] = t.String()
	}
	return strings.Join(names, " -> ")
}
