package services

import (
	"errors"
	"fmt"
	"reflect"

	"git.home.luguber.info/inful/actionworker/internal/registry"
)

// Scope names used for the standard container hierarchy.
const (
	ScopeGlobal  = "global"
	ScopeSession = "session"
	ScopeRequest = "request"
)

// Builder assembles a Container.
type Builder struct {
	name      string
	parent    Lookup
	providers []func(*Registration)
}

// NewBuilder starts a container with the given display name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Parent sets the lookup consulted when this scope does not provide a type.
func (b *Builder) Parent(p Lookup) *Builder {
	b.parent = p
	return b
}

// Provider adds a registration callback. Callbacks run in order during Build.
func (b *Builder) Provider(fn func(*Registration)) *Builder {
	b.providers = append(b.providers, fn)
	return b
}

// Build runs the providers and returns the container. Registration errors
// from all providers are joined.
func (b *Builder) Build() (*Container, error) {
	c := &Container{
		name:   b.name,
		parent: b.parent,
		node:   registry.New(nil),
		added:  make(map[reflect.Type]bool),
		slots:  make(map[reflect.Type]*slot),
	}
	r := &Registration{c: c}
	for _, fn := range b.providers {
		fn(r)
	}
	if err := errors.Join(r.errs...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("build scope %s: %w", b.name, err)
	}
	return c, nil
}

// Registration records the services a scope provides.
type Registration struct {
	c    *Container
	errs []error
}

// Scope returns the container being built, so a scope can register itself
// as a Lookup for the services it creates.
func (r *Registration) Scope() Lookup { return r.c }

// Add registers an existing instance under t. The scope does not close it.
func (r *Registration) Add(t reflect.Type, instance any) {
	if instance != nil && !reflect.TypeOf(instance).AssignableTo(t) {
		r.errs = append(r.errs, fmt.Errorf("%w: %T is not assignable to %s", registry.ErrInvalidCreatorSignature, instance, t))
		return
	}
	if r.register(t, func(Lookup) (any, error) { return instance, nil }) {
		r.c.added[t] = true
	}
}

// Provide registers a factory for t. The factory runs at most once per scope
// and receives a lookup rooted at this scope.
func (r *Registration) Provide(t reflect.Type, factory func(Lookup) (any, error)) {
	r.register(t, factory)
}

func (r *Registration) register(t reflect.Type, factory func(Lookup) (any, error)) bool {
	c := r.c
	fnType := reflect.FuncOf(nil, []reflect.Type{t, typeOfError}, false)
	creator := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		v, err := factory(resolver{c: c, stack: c.stackFor(t)})
		if err == nil && v != nil && !reflect.TypeOf(v).AssignableTo(t) {
			err = fmt.Errorf("factory for %s returned %T", t, v)
		}
		out := reflect.New(t).Elem()
		if err == nil && v != nil {
			out.Set(reflect.ValueOf(v))
		}
		errOut := reflect.New(typeOfError).Elem()
		if err != nil {
			errOut.Set(reflect.ValueOf(&err).Elem())
		}
		return []reflect.Value{out, errOut}
	})
	if err := c.node.Register(fmt.Sprintf("%s:%s", c.name, t), creator.Interface()); err != nil {
		r.errs = append(r.errs, err)
		return false
	}
	return true
}

// Add registers instance under T.
func Add[T any](r *Registration, instance T) {
	r.Add(reflect.TypeFor[T](), instance)
}

// Provide registers a typed factory for T.
func Provide[T any](r *Registration, factory func(Lookup) (T, error)) {
	r.Provide(reflect.TypeFor[T](), func(l Lookup) (any, error) {
		return factory(l)
	})
}

// resolver is the lookup handed to factories. It carries the resolution path
// so cycles inside one scope are reported instead of deadlocking.
type resolver struct {
	c     *Container
	stack []reflect.Type
}

func (r resolver) Get(t reflect.Type) (any, error) {
	return r.c.get(t, r.stack)
}
