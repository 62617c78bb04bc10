package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const catalogLogPrefix = "provider:catalog"

// ErrNoCapability is returned when a registered value implements no provider interface.
var ErrNoCapability = errors.New("provider: value implements no provider interface")

type key struct {
	module   string
	provider string
}

// Catalog holds the provider implementations available to a process, keyed
// by module and provider name.
type Catalog struct {
	mu        sync.RWMutex
	providers map[key]any
}

func NewCatalog() *Catalog {
	return &Catalog{providers: make(map[key]any)}
}

// Register adds p as provider name of module, replacing any earlier entry.
func (c *Catalog) Register(module, name string, p any) error {
	if !implementsAny(p) {
		return fmt.Errorf("%s - register %s/%s (%T): %w", catalogLogPrefix, module, name, p, ErrNoCapability)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[key{module, name}] = p
	return nil
}

func (c *Catalog) Lookup(module, name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[key{module, name}]
	return p, ok
}

// Providers returns the sorted provider names registered for module.
func (c *Catalog) Providers(module string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for k := range c.providers {
		if k.module == module {
			names = append(names, k.provider)
		}
	}
	sort.Strings(names)
	return names
}

// Modules returns the sorted names of modules with at least one provider.
func (c *Catalog) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for k := range c.providers {
		if !seen[k.module] {
			seen[k.module] = true
			names = append(names, k.module)
		}
	}
	sort.Strings(names)
	return names
}
