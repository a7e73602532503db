package isolation

import (
	"errors"
	"fmt"
	"slices"
)

// LinkageError reports a symbol that a loader cannot see.
type LinkageError struct {
	Symbol string
	Loader string
	Reason string
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("linkage error: %s not visible from loader %s: %s", e.Symbol, e.Loader, e.Reason)
}

// IsLinkageError reports whether err wraps a LinkageError.
func IsLinkageError(err error) bool {
	var le *LinkageError
	return errors.As(err, &le)
}

// Loader resolves symbols by qualified name.
type Loader interface {
	Name() string
	Load(name string) (Symbol, error)
}

// BootstrapName is the name of the loader that sees the whole catalog.
const BootstrapName = "bootstrap"

type bootstrapLoader struct {
	catalog *Catalog
}

func (l *bootstrapLoader) Name() string { return BootstrapName }

func (l *bootstrapLoader) Load(name string) (Symbol, error) {
	s, ok := l.catalog.Lookup(name)
	if !ok {
		return Symbol{}, &LinkageError{Symbol: name, Loader: BootstrapName, Reason: "unknown symbol"}
	}
	return s, nil
}

type filterLoader struct {
	name     string
	parent   Loader
	packages []string
	symbols  []string
}

func (l *filterLoader) Name() string { return l.name }

func (l *filterLoader) Load(name string) (Symbol, error) {
	if !l.allows(name) {
		return Symbol{}, &LinkageError{Symbol: name, Loader: l.name, Reason: "not in allow list"}
	}
	return l.parent.Load(name)
}

func (l *filterLoader) allows(name string) bool {
	if slices.Contains(l.symbols, name) {
		return true
	}
	pkg := packageOf(name)
	for _, p := range l.packages {
		if pkg == p || (len(pkg) > len(p) && pkg[:len(p)] == p && pkg[len(p)] == '/') {
			return true
		}
	}
	return false
}

type modulesLoader struct {
	name    string
	parent  Loader
	catalog *Catalog
	modules []string
}

func (l *modulesLoader) Name() string { return l.name }

// Load asks the parent first and falls back to the loader's own modules.
func (l *modulesLoader) Load(name string) (Symbol, error) {
	s, parentErr := l.parent.Load(name)
	if parentErr == nil {
		return s, nil
	}
	if !IsLinkageError(parentErr) {
		return Symbol{}, parentErr
	}
	if s, ok := l.catalog.Lookup(name); ok && slices.Contains(l.modules, s.Module) {
		return s, nil
	}
	return Symbol{}, &LinkageError{Symbol: name, Loader: l.name, Reason: fmt.Sprintf("not provided by modules %v", l.modules)}
}
