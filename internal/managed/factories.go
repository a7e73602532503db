package managed

import (
	"reflect"

	"git.home.luguber.info/inful/actionworker/internal/registry"
)

// CapabilityName is the capability under which the built-in factories are declared.
const CapabilityName = "ManagedObjectFactory"

// Factories is the registry provider for the built-in managed types. Its
// members are not marked individually; they qualify through the capability
// markers.
type Factories struct {
	// BaseDir roots the default file collection.
	BaseDir string
}

func (f Factories) Members() []registry.Member {
	return []registry.Member{
		{Name: "property", Fn: NewProperty},
		{Name: "listProperty", Fn: NewListProperty},
		{Name: "mapProperty", Fn: NewMapProperty},
		{Name: "fileCollection", Fn: f.fileCollection},
	}
}

func (f Factories) Capabilities() []registry.Capability {
	return []registry.Capability{{
		Name: CapabilityName,
		Markers: []registry.Marker{
			registry.MarkerFor[func(reflect.Type) *Property]("property"),
			registry.MarkerFor[func(reflect.Type) *ListProperty]("listProperty"),
			registry.MarkerFor[func(reflect.Type, reflect.Type) (*MapProperty, error)]("mapProperty"),
			registry.MarkerFor[func() *FileCollection]("fileCollection"),
		},
	}}
}

func (f Factories) fileCollection() *FileCollection {
	return NewFileCollection(f.BaseDir)
}

// NewRoot creates a root registry node holding the built-in factories.
func NewRoot(baseDir string) (*registry.Node, error) {
	n := registry.New(nil)
	if err := registry.Discover(n, Factories{BaseDir: baseDir}); err != nil {
		return nil, err
	}
	return n, nil
}

// ScopeFiles registers a file collection creator rooted at baseDir on n,
// shadowing any inherited one.
func ScopeFiles(n *registry.Node, baseDir string) error {
	return n.Register("scopedFileCollection", func() *FileCollection {
		return NewFileCollection(baseDir)
	})
}
