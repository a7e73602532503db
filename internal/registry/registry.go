package registry

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// MaxArity is the largest number of type arguments a creator may accept.
const MaxArity = 2

var (
	// ErrRegistrationConflict is returned when a node already holds a creator for a key.
	ErrRegistrationConflict = errors.New("creator already registered")
	// ErrInvalidCreatorSignature is returned for creators the registry cannot call.
	ErrInvalidCreatorSignature = errors.New("invalid creator signature")
)

var (
	typeOfType  = reflect.TypeFor[reflect.Type]()
	typeOfError = reflect.TypeFor[error]()
)

// Key identifies a creator by the type it produces and the number of type arguments it takes.
type Key struct {
	Type  reflect.Type
	Arity int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.Arity)
}

type entry struct {
	name       string
	fn         reflect.Value
	returnsErr bool
}

// Node is one level of the registry hierarchy. It is safe for concurrent use.
type Node struct {
	mu      sync.RWMutex
	parent  *Node
	entries map[Key]entry
}

// New creates a node. A nil parent makes it a root.
func New(parent *Node) *Node {
	return &Node{
		parent:  parent,
		entries: make(map[Key]entry),
	}
}

// Child creates a node whose lookups fall back to n.
func (n *Node) Child() *Node {
	return New(n)
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Register validates fn and stores it under its (result type, arity) key.
// Only this node is checked for conflicts; a parent entry with the same key is shadowed.
func (n *Node) Register(name string, fn any) error {
	key, e, err := inspect(name, fn)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.entries[key]; ok {
		return fmt.Errorf("%w: %s for %s (existing %s)", ErrRegistrationConflict, name, key, existing.name)
	}
	n.entries[key] = e
	return nil
}

// MustRegister is Register for static wiring where a failure is a programming error.
func (n *Node) MustRegister(name string, fn any) {
	if err := n.Register(name, fn); err != nil {
		panic(err)
	}
}

// HasLocal reports whether this node, ignoring parents, holds a creator for key.
func (n *Node) HasLocal(key Key) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.entries[key]
	return ok
}

// Keys lists the keys registered on this node in a stable order.
func (n *Node) Keys() []Key {
	n.mu.RLock()
	keys := make([]Key, 0, len(n.entries))
	for k := range n.entries {
		keys = append(keys, k)
	}
	n.mu.RUnlock()

	slices.SortFunc(keys, func(a, b Key) int {
		if c := strings.Compare(a.Type.String(), b.Type.String()); c != 0 {
			return c
		}
		return a.Arity - b.Arity
	})
	return keys
}

// Resolve invokes the nearest creator for (t, len(args)), walking up the
// parent chain on a miss. found is false when no node in the chain has a
// creator; that is not an error. Each call invokes the creator again.
func (n *Node) Resolve(t reflect.Type, args ...reflect.Type) (any, bool, error) {
	key := Key{Type: t, Arity: len(args)}
	for node := n; node != nil; node = node.parent {
		if e, ok := node.lookup(key); ok {
			v, err := e.call(key, args)
			return v, true, err
		}
	}
	return nil, false, nil
}

// ResolveLocal is Resolve without the parent fallback.
func (n *Node) ResolveLocal(t reflect.Type, args ...reflect.Type) (any, bool, error) {
	key := Key{Type: t, Arity: len(args)}
	e, ok := n.lookup(key)
	if !ok {
		return nil, false, nil
	}
	v, err := e.call(key, args)
	return v, true, err
}

// NewInstance resolves a value of type T from n.
func NewInstance[T any](n *Node, args ...reflect.Type) (T, bool, error) {
	var zero T
	v, found, err := n.Resolve(reflect.TypeFor[T](), args...)
	if !found || err != nil {
		return zero, found, err
	}
	typed, ok := v.(T)
	if !ok {
		// nil interface or pointer results
		return zero, true, nil
	}
	return typed, true, nil
}

func (n *Node) lookup(key Key) (entry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[key]
	return e, ok
}

func (e entry) call(key Key, args []reflect.Type) (any, error) {
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(typeOfType)
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	out := e.fn.Call(in)
	if e.returnsErr && !out[1].IsNil() {
		return nil, fmt.Errorf("create %s via %s: %w", key, e.name, out[1].Interface().(error))
	}
	return out[0].Interface(), nil
}

func inspect(name string, fn any) (Key, entry, error) {
	if fn == nil {
		return Key{}, entry{}, fmt.Errorf("%w: %s is nil", ErrInvalidCreatorSignature, name)
	}
	v := reflect.ValueOf(fn)
	ft := v.Type()
	if ft.Kind() != reflect.Func {
		return Key{}, entry{}, fmt.Errorf("%w: %s is %s, not a function", ErrInvalidCreatorSignature, name, ft)
	}
	if v.IsNil() {
		return Key{}, entry{}, fmt.Errorf("%w: %s is a nil function", ErrInvalidCreatorSignature, name)
	}
	if ft.IsVariadic() {
		return Key{}, entry{}, fmt.Errorf("%w: %s is variadic", ErrInvalidCreatorSignature, name)
	}
	if ft.NumIn() > MaxArity {
		return Key{}, entry{}, fmt.Errorf("%w: %s takes %d parameters, at most %d allowed", ErrInvalidCreatorSignature, name, ft.NumIn(), MaxArity)
	}
	for i := range ft.NumIn() {
		if ft.In(i) != typeOfType {
			return Key{}, entry{}, fmt.Errorf("%w: %s parameter %d is %s, want reflect.Type", ErrInvalidCreatorSignature, name, i, ft.In(i))
		}
	}

	returnsErr := false
	switch ft.NumOut() {
	case 0:
		return Key{}, entry{}, fmt.Errorf("%w: %s returns nothing", ErrInvalidCreatorSignature, name)
	case 1:
	case 2:
		if ft.Out(1) != typeOfError {
			return Key{}, entry{}, fmt.Errorf("%w: %s second result is %s, want error", ErrInvalidCreatorSignature, name, ft.Out(1))
		}
		returnsErr = true
	default:
		return Key{}, entry{}, fmt.Errorf("%w: %s returns %d values", ErrInvalidCreatorSignature, name, ft.NumOut())
	}
	if ft.Out(0) == typeOfError {
		return Key{}, entry{}, fmt.Errorf("%w: %s only returns an error", ErrInvalidCreatorSignature, name)
	}

	return Key{Type: ft.Out(0), Arity: ft.NumIn()}, entry{name: name, fn: v, returnsErr: returnsErr}, nil
}
