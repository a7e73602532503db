package registry

import (
	"fmt"
	"reflect"
)

// Member is a candidate creator offered by a Provider.
type Member struct {
	Name string
	Fn   any
	// Marked declares the member a creator directly.
	Marked bool
}

// Marker declares, on a capability, that members with this name and
// signature are creators.
type Marker struct {
	Name      string
	Signature reflect.Type
}

// MarkerFor builds a Marker whose signature is the function type F.
func MarkerFor[F any](name string) Marker {
	return Marker{Name: name, Signature: reflect.TypeFor[F]()}
}

// Capability is a named contract a provider claims to fulfil.
type Capability struct {
	Name    string
	Markers []Marker
}

// Provider exposes the members and capabilities that Discover inspects.
type Provider interface {
	Members() []Member
	Capabilities() []Capability
}

// Discover registers every qualifying member of p on n. A member qualifies
// when it is marked itself or when one of p's capabilities carries a marker
// with the same name and signature. The first registration failure aborts
// discovery and is returned.
func Discover(n *Node, p Provider) error {
	caps := p.Capabilities()
	for _, m := range p.Members() {
		if !qualifies(m, caps) {
			continue
		}
		if err := n.Register(m.Name, m.Fn); err != nil {
			return fmt.Errorf("discover %T: %w", p, err)
		}
	}
	return nil
}

func qualifies(m Member, caps []Capability) bool {
	if m.Marked {
		return true
	}
	if m.Fn == nil {
		return false
	}
	sig := reflect.TypeOf(m.Fn)
	for _, c := range caps {
		for _, mk := range c.Markers {
			if mk.Name == m.Name && mk.Signature == sig {
				return true
			}
		}
	}
	return false
}

// Static is a Provider backed by fixed slices.
type Static struct {
	MemberList     []Member
	CapabilityList []Capability
}

func (s Static) Members() []Member          { return s.MemberList }
func (s Static) Capabilities() []Capability { return s.CapabilityList }
