package isolation

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Symbol is a named, loadable unit known to the worker process.
type Symbol struct {
	// Name is the qualified name, "<package>.<Ident>".
	Name   string
	Module string
	Type   reflect.Type
	// New is an optional constructor used by constructor injection.
	New any
}

// Package returns the qualifier before the last dot.
func (s Symbol) Package() string {
	return packageOf(s.Name)
}

func packageOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return ""
}

// Catalog is the set of symbols linked into the worker process.
type Catalog struct {
	mu      sync.RWMutex
	symbols map[string]Symbol
}

// NewCatalog creates a catalog holding symbols.
func NewCatalog(symbols ...Symbol) (*Catalog, error) {
	c := &Catalog{symbols: make(map[string]Symbol, len(symbols))}
	for _, s := range symbols {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a symbol. Names must be unique.
func (c *Catalog) Add(s Symbol) error {
	if s.Name == "" {
		return fmt.Errorf("symbol name is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.symbols[s.Name]; exists {
		return fmt.Errorf("symbol %s already in catalog", s.Name)
	}
	c.symbols[s.Name] = s
	return nil
}

// Lookup returns the symbol with the given name.
func (c *Catalog) Lookup(name string) (Symbol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.symbols[name]
	return s, ok
}

// Names lists all symbol names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.symbols))
	for n := range c.symbols {
		names = append(names, n)
	}
	c.mu.RUnlock()
	slices.Sort(names)
	return names
}
