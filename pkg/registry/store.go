package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/morezero/cim-broker/pkg/cim"
)

// Consumer binds an indication handler destination to the provider that
// consumes indications exported to it.
type Consumer struct {
	Destination string `json:"destination"`
	Module      string `json:"module"`
	Provider    string `json:"provider"`
}

// Store persists provider registrations. Lookups return nil, nil for absent
// entries.
type Store interface {
	GetModule(ctx context.Context, name string) (*cim.ProviderModule, error)
	ListModules(ctx context.Context) ([]cim.ProviderModule, error)
	ModuleNamesForGroup(ctx context.Context, group string) ([]string, error)
	UpsertModule(ctx context.Context, m cim.ProviderModule) error
	UpsertProvider(ctx context.Context, p cim.Provider) error
	// UpdateModuleStatus applies cim.ApplyStatus atomically and returns the
	// updated module.
	UpdateModuleStatus(ctx context.Context, name string, remove, add []uint16) (*cim.ProviderModule, error)
	LookupIndicationConsumer(ctx context.Context, destination string) (*Consumer, error)
	UpsertIndicationConsumer(ctx context.Context, c Consumer) error
	Ping(ctx context.Context) error
}

// MemoryStore is a Store held in process memory, used when no database is
// configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	modules   map[string]cim.ProviderModule
	providers map[string][]string
	consumers map[string]Consumer
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:   make(map[string]cim.ProviderModule),
		providers: make(map[string][]string),
		consumers: make(map[string]Consumer),
	}
}

func cloneModule(m cim.ProviderModule) *cim.ProviderModule {
	m.OperationalStatus = append([]uint16{}, m.OperationalStatus...)
	return &m
}

func (s *MemoryStore) GetModule(_ context.Context, name string) (*cim.ProviderModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	if !ok {
		return nil, nil
	}
	return cloneModule(m), nil
}

func (s *MemoryStore) ListModules(_ context.Context) ([]cim.ProviderModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cim.ProviderModule, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, *cloneModule(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ModuleNamesForGroup(_ context.Context, group string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, m := range s.modules {
		if m.ModuleGroupName == group {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) UpsertModule(_ context.Context, m cim.ProviderModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.Name] = *cloneModule(m)
	return nil
}

func (s *MemoryStore) UpsertProvider(_ context.Context, p cim.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.providers[p.ProviderModuleName] {
		if n == p.Name {
			return nil
		}
	}
	s.providers[p.ProviderModuleName] = append(s.providers[p.ProviderModuleName], p.Name)
	return nil
}

func (s *MemoryStore) UpdateModuleStatus(_ context.Context, name string, remove, add []uint16) (*cim.ProviderModule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	if !ok {
		return nil, nil
	}
	m.OperationalStatus = cim.ApplyStatus(m.OperationalStatus, remove, add)
	s.modules[name] = m
	return cloneModule(m), nil
}

func (s *MemoryStore) LookupIndicationConsumer(_ context.Context, destination string) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consumers[destination]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) UpsertIndicationConsumer(_ context.Context, c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[c.Destination] = c
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
