// Package opctx implements the per-request OperationContext: an ordered set of
// at most one container of each kind, carried in every message envelope.
package opctx

import (
	"encoding/json"
	"sort"

	"github.com/morezero/cim-broker/pkg/wire"
)

// Container is one kind of context entry. The set of kinds is closed; each
// kind occupies a fixed slot in the wire encoding.
type Container interface {
	// Name identifies the container kind. Inserting a container replaces any
	// container of the same name.
	Name() string
	layout() []wire.Field
}

// Context holds containers by name. The zero value is an empty context.
type Context struct {
	containers map[string]Container
}

// New returns a context holding cs.
func New(cs ...Container) Context {
	var c Context
	for _, ct := range cs {
		c.Insert(ct)
	}
	return c
}

// Insert adds ct, replacing a container of the same kind.
func (c *Context) Insert(ct Container) {
	if c.containers == nil {
		c.containers = make(map[string]Container, len(slots))
	}
	c.containers[ct.Name()] = ct
}

// Get returns the container with the given name.
func (c Context) Get(name string) (Container, bool) {
	ct, ok := c.containers[name]
	return ct, ok
}

func (c Context) Contains(name string) bool {
	_, ok := c.containers[name]
	return ok
}

func (c *Context) Remove(name string) { delete(c.containers, name) }

func (c Context) Len() int { return len(c.containers) }

// Names returns the names of the held containers in slot order.
func (c Context) Names() []string {
	names := make([]string, 0, len(c.containers))
	for name := range c.containers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return slotIndex[names[i]] < slotIndex[names[j]] })
	return names
}

// Clone returns a context with its own container map. Containers are shared.
func (c Context) Clone() Context {
	var out Context
	for _, ct := range c.containers {
		out.Insert(ct)
	}
	return out
}

// Get returns the container of type T, for example Get[*ProviderID](ctx).
func Get[T Container](c Context) (T, bool) {
	var zero T
	ct, ok := c.containers[zero.Name()]
	if !ok {
		return zero, false
	}
	t, ok := ct.(T)
	return t, ok
}

// Put writes one presence byte per slot, in slot order, each followed by the
// container's fields when present.
func Put(w *wire.Writer, c Context) {
	for _, s := range slots {
		ct, ok := c.containers[s.name]
		w.PutPresent(ok)
		if ok {
			wire.PutFields(w, ct.layout())
		}
	}
}

// Read decodes a context written by Put.
func Read(r *wire.Reader) (Context, bool) {
	var c Context
	for _, s := range slots {
		present, ok := r.GetPresent()
		if !ok {
			return Context{}, false
		}
		if !present {
			continue
		}
		ct := s.create()
		if !wire.GetFields(r, ct.layout()) {
			return Context{}, false
		}
		c.Insert(ct)
	}
	return c, true
}

// Field adapts a context to a message layout.
func Field(p *Context) wire.Field { return wire.Of(p, Put, Read) }

// MarshalJSON renders the containers keyed by name.
func (c Context) MarshalJSON() ([]byte, error) {
	if c.containers == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.containers)
}
