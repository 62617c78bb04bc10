// Package registry is the provider registration manager: it owns the
// persisted provider modules, providers and indication consumer bindings,
// and publishes module lifecycle alerts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/cim-broker/pkg/bootstrap"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/events"
)

const logPrefix = "registry:registry"

var (
	// ErrModuleNotFound is returned for an unregistered provider module.
	ErrModuleNotFound = errors.New("registry: provider module not found")
	// ErrConsumerNotFound is returned when no consumer is bound to a destination.
	ErrConsumerNotFound = errors.New("registry: indication consumer not found")
)

// Manager mediates every read and status mutation of provider modules.
type Manager struct {
	store     Store
	publisher events.AlertPublisher
	now       func() time.Time
}

// NewManagerParams holds parameters for NewManager.
type NewManagerParams struct {
	Store     Store
	Publisher events.AlertPublisher
}

// NewManager creates a Manager. A nil store is an empty MemoryStore and a nil
// publisher discards alerts.
func NewManager(params NewManagerParams) *Manager {
	store := params.Store
	if store == nil {
		store = NewMemoryStore()
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Manager{store: store, publisher: pub, now: time.Now}
}

// GetModule returns a copy of the named module.
func (m *Manager) GetModule(ctx context.Context, name string) (cim.ProviderModule, error) {
	pm, err := m.store.GetModule(ctx, name)
	if err != nil {
		return cim.ProviderModule{}, fmt.Errorf("%s - get module %s: %w", logPrefix, name, err)
	}
	if pm == nil {
		return cim.ProviderModule{}, fmt.Errorf("%s - %s: %w", logPrefix, name, ErrModuleNotFound)
	}
	return *pm, nil
}

// GetModuleInstance returns the PG_ProviderModule instance of the named module.
func (m *Manager) GetModuleInstance(ctx context.Context, name string) (*cim.Instance, error) {
	pm, err := m.GetModule(ctx, name)
	if err != nil {
		return nil, err
	}
	return pm.Instance(), nil
}

// ListModules returns every registered module ordered by name.
func (m *Manager) ListModules(ctx context.Context) ([]cim.ProviderModule, error) {
	mods, err := m.store.ListModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - list modules: %w", logPrefix, err)
	}
	return mods, nil
}

// UpdateProviderModuleStatus removes the statuses in remove, appends those in
// add, persists the result and returns the new OperationalStatus.
func (m *Manager) UpdateProviderModuleStatus(ctx context.Context, name string, remove, add []uint16) ([]uint16, error) {
	pm, err := m.store.UpdateModuleStatus(ctx, name, remove, add)
	if err != nil {
		return nil, fmt.Errorf("%s - update status of %s: %w", logPrefix, name, err)
	}
	if pm == nil {
		return nil, fmt.Errorf("%s - update status of %s: %w", logPrefix, name, ErrModuleNotFound)
	}
	slog.Debug(fmt.Sprintf("%s - %s OperationalStatus now %v", logPrefix, name, pm.OperationalStatus))
	return pm.OperationalStatus, nil
}

// ProviderModuleNamesForGroup returns the modules of a module group.
func (m *Manager) ProviderModuleNamesForGroup(ctx context.Context, group string) ([]string, error) {
	names, err := m.store.ModuleNamesForGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("%s - modules of group %s: %w", logPrefix, group, err)
	}
	return names, nil
}

// SendAlert publishes a lifecycle alert for module. Publish failures are
// logged and returned.
func (m *Manager) SendAlert(ctx context.Context, module cim.ProviderModule, kind events.AlertKind) error {
	alert := &events.ModuleAlert{
		Kind:      kind,
		Cause:     kind.String(),
		Module:    module,
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	if err := m.publisher.PublishAlert(ctx, alert); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s alert for %s: %v", logPrefix, kind, module.Name, err))
		return fmt.Errorf("%s - publish %s alert: %w", logPrefix, kind, err)
	}
	return nil
}

// LookupIndicationConsumer resolves a destination to the PG_Provider and
// PG_ProviderModule instances of its consumer.
func (m *Manager) LookupIndicationConsumer(ctx context.Context, destination string) (provider, module *cim.Instance, err error) {
	c, err := m.store.LookupIndicationConsumer(ctx, destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s - lookup consumer %s: %w", logPrefix, destination, err)
	}
	if c == nil {
		return nil, nil, fmt.Errorf("%s - %s: %w", logPrefix, destination, ErrConsumerNotFound)
	}
	pm, err := m.GetModule(ctx, c.Module)
	if err != nil {
		return nil, nil, err
	}
	return cim.Provider{Name: c.Provider, ProviderModuleName: c.Module}.Instance(), pm.Instance(), nil
}

// RegisterModule creates or replaces a module with its providers and sends
// the Created alert.
func (m *Manager) RegisterModule(ctx context.Context, pm cim.ProviderModule, providers ...string) error {
	if pm.Name == "" {
		return fmt.Errorf("%s - module name is required", logPrefix)
	}
	if len(pm.OperationalStatus) == 0 {
		pm.OperationalStatus = []uint16{cim.ModuleOK}
	}
	if err := m.store.UpsertModule(ctx, pm); err != nil {
		return fmt.Errorf("%s - register module %s: %w", logPrefix, pm.Name, err)
	}
	for _, p := range providers {
		if err := m.store.UpsertProvider(ctx, cim.Provider{Name: p, ProviderModuleName: pm.Name}); err != nil {
			return fmt.Errorf("%s - register provider %s/%s: %w", logPrefix, pm.Name, p, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - registered module %s with %d providers", logPrefix, pm.Name, len(providers)))
	_ = m.SendAlert(ctx, pm, events.AlertCreated)
	return nil
}

// RegisterConsumer binds an indication destination to a consumer provider.
func (m *Manager) RegisterConsumer(ctx context.Context, c Consumer) error {
	if err := m.store.UpsertIndicationConsumer(ctx, c); err != nil {
		return fmt.Errorf("%s - register consumer %s: %w", logPrefix, c.Destination, err)
	}
	return nil
}

// Seed registers the modules, providers and consumers of a bootstrap file.
func (m *Manager) Seed(ctx context.Context, rb *bootstrap.ResolvedBootstrap) error {
	byModule := make(map[string][]string)
	for _, p := range rb.Providers() {
		byModule[p.ProviderModuleName] = append(byModule[p.ProviderModuleName], p.Name)
	}
	for _, pm := range rb.Modules() {
		if err := m.RegisterModule(ctx, pm, byModule[pm.Name]...); err != nil {
			return err
		}
	}
	for _, c := range rb.Consumers() {
		if err := m.RegisterConsumer(ctx, Consumer{Destination: c.Destination, Module: c.Module, Provider: c.Provider}); err != nil {
			return err
		}
	}
	return nil
}
