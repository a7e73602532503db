// Package managed provides the built-in managed object types that actions
// obtain from a registry node: properties, list and map properties, and file
// collections.
package managed

import (
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
)

// Property holds at most one value assignable to its element type.
type Property struct {
	mu    sync.RWMutex
	elem  reflect.Type
	value any
	set   bool
}

// NewProperty is the arity-1 creator for *Property.
func NewProperty(elem reflect.Type) *Property {
	return &Property{elem: elem}
}

// ElementType returns the declared element type.
func (p *Property) ElementType() reflect.Type { return p.elem }

// Set stores v after checking it against the element type.
func (p *Property) Set(v any) error {
	if err := checkAssignable("property", p.elem, v); err != nil {
		return err
	}
	p.mu.Lock()
	p.value, p.set = v, true
	p.mu.Unlock()
	return nil
}

// Get returns the value and whether one has been set.
func (p *Property) Get() (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.set
}

// ListProperty holds an ordered list of values of one element type.
type ListProperty struct {
	mu     sync.RWMutex
	elem   reflect.Type
	values []any
}

// NewListProperty is the arity-1 creator for *ListProperty.
func NewListProperty(elem reflect.Type) *ListProperty {
	return &ListProperty{elem: elem}
}

// ElementType returns the declared element type.
func (l *ListProperty) ElementType() reflect.Type { return l.elem }

// Add appends values, rejecting the whole call if any value has the wrong type.
func (l *ListProperty) Add(values ...any) error {
	for _, v := range values {
		if err := checkAssignable("list property", l.elem, v); err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.values = append(l.values, values...)
	l.mu.Unlock()
	return nil
}

// Values returns a copy of the list.
func (l *ListProperty) Values() []any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.values)
}

// MapProperty holds key/value pairs of declared key and value types.
type MapProperty struct {
	mu      sync.RWMutex
	keyType reflect.Type
	valType reflect.Type
	keys    []any
	entries map[any]any
}

// NewMapProperty is the arity-2 creator for *MapProperty.
func NewMapProperty(key, value reflect.Type) (*MapProperty, error) {
	if key != nil && !key.Comparable() {
		return nil, fmt.Errorf("map property key type %s is not comparable", key)
	}
	return &MapProperty{keyType: key, valType: value, entries: make(map[any]any)}, nil
}

// Types returns the declared key and value types.
func (m *MapProperty) Types() (reflect.Type, reflect.Type) { return m.keyType, m.valType }

// Put stores value under key.
func (m *MapProperty) Put(key, value any) error {
	if key == nil {
		return fmt.Errorf("map property key is nil")
	}
	if err := checkAssignable("map property key", m.keyType, key); err != nil {
		return err
	}
	if err := checkAssignable("map property value", m.valType, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.entries[key] = value
	return nil
}

// Get returns the value stored under key.
func (m *MapProperty) Get(key any) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m *MapProperty) Keys() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.keys)
}

// FileCollection is an ordered set of absolute file paths resolved against a base directory.
type FileCollection struct {
	mu    sync.RWMutex
	base  string
	files []string
}

// NewFileCollection creates a collection resolving relative paths against base.
func NewFileCollection(base string) *FileCollection {
	return &FileCollection{base: base}
}

// BaseDir returns the directory relative paths are resolved against.
func (c *FileCollection) BaseDir() string { return c.base }

// From adds paths, resolving relative ones. Duplicates are ignored.
func (c *FileCollection) From(paths ...string) *FileCollection {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		if !filepath.IsAbs(p) && c.base != "" {
			p = filepath.Join(c.base, p)
		}
		p = filepath.Clean(p)
		if !slices.Contains(c.files, p) {
			c.files = append(c.files, p)
		}
	}
	return c
}

// Files returns the collected paths.
func (c *FileCollection) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.files)
}

func checkAssignable(what string, want reflect.Type, v any) error {
	if want == nil {
		return nil
	}
	if v == nil {
		switch want.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return nil
		}
		return fmt.Errorf("%s of %s cannot hold nil", what, want)
	}
	if got := reflect.TypeOf(v); !got.AssignableTo(want) {
		return fmt.Errorf("%s of %s cannot hold %s", what, want, got)
	}
	return nil
}
