package isolation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Kind selects flat or hierarchical isolation.
type Kind string

const (
	KindFlat         Kind = "flat"
	KindHierarchical Kind = "hierarchical"
)

// LoaderKind selects the behavior of one loader in a hierarchical chain.
type LoaderKind string

const (
	LoaderFilter  LoaderKind = "filter"
	LoaderModules LoaderKind = "modules"
)

// LoaderSpec describes one loader. Filter loaders use the allow lists,
// module loaders use Modules.
type LoaderSpec struct {
	Name          string     `json:"name" yaml:"name"`
	Kind          LoaderKind `json:"kind" yaml:"kind"`
	AllowPackages []string   `json:"allowPackages,omitempty" yaml:"allow_packages,omitempty"`
	AllowSymbols  []string   `json:"allowSymbols,omitempty" yaml:"allow_symbols,omitempty"`
	Modules       []string   `json:"modules,omitempty" yaml:"modules,omitempty"`
}

// Structure describes the isolation an action runs under. The zero value is flat.
type Structure struct {
	Kind    Kind         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Loaders []LoaderSpec `json:"loaders,omitempty" yaml:"loaders,omitempty"`
}

// Flat returns the structure with full visibility of the worker's catalog.
func Flat() Structure {
	return Structure{Kind: KindFlat}
}

// Hierarchical returns a structure applying loaders in order, the first one
// wrapping the bootstrap loader.
func Hierarchical(loaders ...LoaderSpec) Structure {
	return Structure{Kind: KindHierarchical, Loaders: loaders}
}

// IsFlat reports whether s grants full visibility.
func (s Structure) IsFlat() bool {
	return s.Kind == "" || s.Kind == KindFlat
}

// Validate checks that the structure can be built.
func (s Structure) Validate() error {
	switch s.Kind {
	case "", KindFlat:
		if len(s.Loaders) > 0 {
			return fmt.Errorf("flat isolation cannot declare loaders")
		}
		return nil
	case KindHierarchical:
	default:
		return fmt.Errorf("unknown isolation kind %q", s.Kind)
	}
	if len(s.Loaders) == 0 {
		return fmt.Errorf("hierarchical isolation needs at least one loader")
	}
	// the bootstrap loader sees the whole catalog
	if s.Loaders[0].Kind != LoaderFilter {
		return fmt.Errorf("first loader %s must be a filter loader", s.Loaders[0].Name)
	}
	for i, l := range s.Loaders {
		if l.Name == "" {
			return fmt.Errorf("loader %d has no name", i)
		}
		switch l.Kind {
		case LoaderFilter:
			if len(l.Modules) > 0 {
				return fmt.Errorf("filter loader %s cannot declare modules", l.Name)
			}
		case LoaderModules:
			if len(l.Modules) == 0 {
				return fmt.Errorf("modules loader %s declares no modules", l.Name)
			}
		default:
			return fmt.Errorf("loader %s has unknown kind %q", l.Name, l.Kind)
		}
	}
	return nil
}

// Fingerprint identifies the structure by content. Allow lists and module
// lists are order-insensitive; loader order is significant.
func (s Structure) Fingerprint() string {
	canon := Structure{Kind: s.Kind}
	if canon.Kind == "" {
		canon.Kind = KindFlat
	}
	for _, l := range s.Loaders {
		c := LoaderSpec{
			Name:          l.Name,
			Kind:          l.Kind,
			AllowPackages: sortedCopy(l.AllowPackages),
			AllowSymbols:  sortedCopy(l.AllowSymbols),
			Modules:       sortedCopy(l.Modules),
		}
		canon.Loaders = append(canon.Loaders, c)
	}
	data, err := json.Marshal(canon)
	if err != nil {
		// only strings and slices of strings
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseStructure decodes a YAML (or JSON) isolation structure.
func ParseStructure(data []byte) (Structure, error) {
	var s Structure
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Structure{}, fmt.Errorf("parse isolation structure: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Structure{}, err
	}
	return s, nil
}

// LoadStructure reads an isolation structure file.
func LoadStructure(path string) (Structure, error) {
	// #nosec G304 - path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return Structure{}, fmt.Errorf("read isolation structure: %w", err)
	}
	return ParseStructure(data)
}
