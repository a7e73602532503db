package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// ErrUnknownArgType is returned when no serializer is registered for a type.
var ErrUnknownArgType = errors.New("unknown argument type")

// Serializer converts request arguments of one type to and from JSON.
type Serializer interface {
	Encode(v any) (json.RawMessage, error)
	Decode(data json.RawMessage) (any, error)
}

// JSONSerializer encodes T with encoding/json and decodes into a *T.
type JSONSerializer[T any] struct{}

func (JSONSerializer[T]) Encode(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (JSONSerializer[T]) Decode(data json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Serializers maps argument type names to serializers.
type Serializers struct {
	mu      sync.RWMutex
	discard bool
	byName  map[string]Serializer
	byType  map[reflect.Type]string
}

// NewSerializers creates an empty set.
func NewSerializers() *Serializers {
	return &Serializers{
		byName: make(map[string]Serializer),
		byType: make(map[reflect.Type]string),
	}
}

// DiscardSerializers returns a set that decodes every argument to nil. A
// session that failed to initialize uses it so incoming requests are
// consumed without interpretation.
func DiscardSerializers() *Serializers {
	s := NewSerializers()
	s.discard = true
	return s
}

// Add registers ser for values of type t under name.
func (s *Serializers) Add(name string, t reflect.Type, ser Serializer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("serializer %s already registered", name)
	}
	if existing, ok := s.byType[t]; ok {
		return fmt.Errorf("type %s already registered as %s", t, existing)
	}
	s.byName[name] = ser
	s.byType[t] = name
	return nil
}

// Register adds a JSON serializer for *T and T under name.
func Register[T any](s *Serializers, name string) error {
	if err := s.Add(name, reflect.TypeFor[*T](), JSONSerializer[T]{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.byType[reflect.TypeFor[T]()] = name
	s.mu.Unlock()
	return nil
}

// Encode returns the registered name and payload for v.
func (s *Serializers) Encode(v any) (string, json.RawMessage, error) {
	if v == nil {
		return "", nil, nil
	}
	s.mu.RLock()
	name, ok := s.byType[reflect.TypeOf(v)]
	var ser Serializer
	if ok {
		ser = s.byName[name]
	}
	s.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownArgType, v)
	}
	data, err := ser.Encode(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return name, data, nil
}

// Decode reconstructs an argument from its wire form.
func (s *Serializers) Decode(name string, data json.RawMessage) (any, error) {
	if s.discard || name == "" {
		return nil, nil
	}
	s.mu.RLock()
	ser, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArgType, name)
	}
	v, err := ser.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

// Names lists registered type names, sorted.
func (s *Serializers) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
