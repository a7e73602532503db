// Package normalization maps loosely written configuration values onto
// typed enumerations.
package normalization

import (
	"fmt"
	"slices"
	"strings"
)

// Normalizer converts case- and whitespace-insensitive strings to T.
type Normalizer[T comparable] struct {
	values   map[string]T
	fallback T
	keys     []string
}

// NewNormalizer creates a normalizer for values. Unrecognized input
// normalizes to fallback.
func NewNormalizer[T comparable](values map[string]T, fallback T) *Normalizer[T] {
	n := &Normalizer[T]{values: make(map[string]T, len(values)), fallback: fallback}
	for k, v := range values {
		key := clean(k)
		n.values[key] = v
		n.keys = append(n.keys, key)
	}
	slices.Sort(n.keys)
	return n
}

// Normalize returns the value for raw, or the fallback.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[clean(raw)]; ok {
		return v
	}
	return n.fallback
}

// Parse returns the value for raw, or an error listing the valid keys. Empty
// input parses to the fallback.
func (n *Normalizer[T]) Parse(field, raw string) (T, error) {
	if clean(raw) == "" {
		return n.fallback, nil
	}
	if v, ok := n.values[clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %s", field, raw, strings.Join(n.keys, ", "))
}

// Keys returns the accepted spellings, sorted.
func (n *Normalizer[T]) Keys() []string {
	return slices.Clone(n.keys)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
