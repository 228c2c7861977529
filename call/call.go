// Package call defines call descriptors: the static contract (name, input shape,
// output shape) shared by the client and the server.
package call

import (
	"errors"
	"fmt"

	"treemap/schema"
)

// ErrDuplicateCall is returned when two descriptors share a name.
var ErrDuplicateCall = errors.New("call: duplicate call name")

// Info is the type-erased view of a descriptor.
type Info interface {
	CallName() string
	InputSchema() schema.Schema
	OutputSchema() schema.Schema
}

// Descriptor is the contract of one call taking I and returning O.
// Descriptors are values; define them once and share them.
type Descriptor[I, O any] struct {
	Name string
	In   schema.Codec[I]
	Out  schema.Codec[O]
}

// New returns a descriptor for the call name.
func New[I, O any](name string, in schema.Codec[I], out schema.Codec[O]) Descriptor[I, O] {
	return Descriptor[I, O]{Name: name, In: in, Out: out}
}

func (d Descriptor[I, O]) CallName() string { return d.Name }

func (d Descriptor[I, O]) InputSchema() schema.Schema { return d.In.Schema() }

func (d Descriptor[I, O]) OutputSchema() schema.Schema { return d.Out.Schema() }

func (d Descriptor[I, O]) String() string {
	return fmt.Sprintf("%s(%s) -> %s", d.Name, d.In.Schema(), d.Out.Schema())
}

// Catalog is an ordered set of descriptors with unique names.
type Catalog struct {
	order  []Info
	byName map[string]Info
}

// NewCatalog builds a catalog, rejecting duplicate or empty names.
func NewCatalog(infos ...Info) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Info, len(infos))}
	for _, info := range infos {
		name := info.CallName()
		if name == "" {
			return nil, fmt.Errorf("call: empty call name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, name)
		}
		c.byName[name] = info
		c.order = append(c.order, info)
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level declarations.
func MustCatalog(infos ...Info) *Catalog {
	c, err := NewCatalog(infos...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (Info, bool) {
	info, ok := c.byName[name]
	return info, ok
}

// Names returns call names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.order))
	for _, info := range c.order {
		names = append(names, info.CallName())
	}
	return names
}
