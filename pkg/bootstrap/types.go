// Package bootstrap loads the YAML bootstrap file: the provider manager map
// and the provider modules, providers and indication consumers seeded into
// the registration store.
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/semver"
)

const typesLogPrefix = "bootstrap:types"

// BootstrapManager is one provider manager map entry.
type BootstrapManager struct {
	// Interface is an interface reference, e.g. "CMPI@>=2.0.0 <3.0.0".
	Interface string `yaml:"interface"`
	// Bitness is "", "32" or "64".
	Bitness string `yaml:"bitness,omitempty"`
	Path    string `yaml:"path"`
}

// BootstrapModule is a provider module registration.
type BootstrapModule struct {
	Name                  string   `yaml:"name"`
	Vendor                string   `yaml:"vendor,omitempty"`
	Version               string   `yaml:"version,omitempty"`
	InterfaceType         string   `yaml:"interfaceType"`
	InterfaceVersion      string   `yaml:"interfaceVersion"`
	Location              string   `yaml:"location,omitempty"`
	UserContext           string   `yaml:"userContext,omitempty"`
	DesignatedUserContext string   `yaml:"designatedUserContext,omitempty"`
	ModuleGroup           string   `yaml:"moduleGroup,omitempty"`
	Bitness               string   `yaml:"bitness,omitempty"`
	Disabled              bool     `yaml:"disabled,omitempty"`
	Providers             []string `yaml:"providers"`
}

// BootstrapConsumer binds an indication handler destination to the provider
// that consumes indications exported to it.
type BootstrapConsumer struct {
	Destination string `yaml:"destination"`
	Module      string `yaml:"module"`
	Provider    string `yaml:"provider"`
}

// BootstrapConfig is the root bootstrap configuration.
type BootstrapConfig struct {
	Name             string              `yaml:"name"`
	Version          string              `yaml:"version"`
	Description      string              `yaml:"description,omitempty"`
	ProviderManagers []BootstrapManager  `yaml:"providerManagers"`
	Modules          []BootstrapModule   `yaml:"modules,omitempty"`
	Consumers        []BootstrapConsumer `yaml:"consumers,omitempty"`
}

var userContexts = map[string]uint16{
	"requestor":  cim.UserContextRequestor,
	"designated": cim.UserContextDesignated,
	"privileged": cim.UserContextPrivileged,
	"cimserver":  cim.UserContextCIMServer,
}

var bitnesses = map[string]uint16{
	"":        cim.BitnessDefault,
	"default": cim.BitnessDefault,
	"32":      cim.Bitness32,
	"64":      cim.Bitness64,
}

// ParseUserContext maps a user context name to its value. An empty name is 0
// (unset, treated as privileged by routing).
func ParseUserContext(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	v, ok := userContexts[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%s - unknown user context %q", typesLogPrefix, s)
	}
	return v, nil
}

// ParseBitness maps "", "default", "32" or "64" to its value.
func ParseBitness(s string) (uint16, error) {
	v, ok := bitnesses[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%s - unknown bitness %q", typesLogPrefix, s)
	}
	return v, nil
}

// ProviderModule converts the entry to a module registration. Modules start
// OK unless marked disabled, in which case they start Stopped.
func (b BootstrapModule) ProviderModule() (cim.ProviderModule, error) {
	uc, err := ParseUserContext(b.UserContext)
	if err != nil {
		return cim.ProviderModule{}, fmt.Errorf("%s - module %s: %w", typesLogPrefix, b.Name, err)
	}
	bits, err := ParseBitness(b.Bitness)
	if err != nil {
		return cim.ProviderModule{}, fmt.Errorf("%s - module %s: %w", typesLogPrefix, b.Name, err)
	}
	status := []uint16{cim.ModuleOK}
	if b.Disabled {
		status = []uint16{cim.ModuleStopped}
	}
	return cim.ProviderModule{
		Name:                  b.Name,
		Vendor:                b.Vendor,
		Version:               b.Version,
		InterfaceType:         b.InterfaceType,
		InterfaceVersion:      b.InterfaceVersion,
		Location:              b.Location,
		UserContext:           uc,
		DesignatedUserContext: b.DesignatedUserContext,
		ModuleGroupName:       b.ModuleGroup,
		Bitness:               bits,
		OperationalStatus:     status,
	}, nil
}

// ManagerEntry converts the entry to a provider manager map entry.
func (b BootstrapManager) ManagerEntry() (semver.ManagerEntry, error) {
	ref, err := semver.ParseInterfaceRef(b.Interface)
	if err != nil {
		return semver.ManagerEntry{}, err
	}
	var bits uint16
	if b.Bitness != "" {
		if bits, err = ParseBitness(b.Bitness); err != nil {
			return semver.ManagerEntry{}, err
		}
	}
	return semver.ManagerEntry{InterfaceType: ref.Type, Range: ref.Range, Bitness: bits, Path: b.Path}, nil
}

// ResolvedBootstrap is a validated bootstrap configuration.
type ResolvedBootstrap struct {
	name      string
	version   string
	managers  *semver.ManagerMap
	modules   []cim.ProviderModule
	providers []cim.Provider
	consumers []BootstrapConsumer
}

// Name returns the bootstrap config name.
func (rb *ResolvedBootstrap) Name() string { return rb.name }

// Version returns the bootstrap config version.
func (rb *ResolvedBootstrap) Version() string { return rb.version }

// ManagerMap returns the provider manager map.
func (rb *ResolvedBootstrap) ManagerMap() *semver.ManagerMap { return rb.managers }

// Modules returns the provider modules in file order.
func (rb *ResolvedBootstrap) Modules() []cim.ProviderModule { return rb.modules }

// Providers returns every provider of every module.
func (rb *ResolvedBootstrap) Providers() []cim.Provider { return rb.providers }

// Consumers returns the indication consumer bindings.
func (rb *ResolvedBootstrap) Consumers() []BootstrapConsumer { return rb.consumers }
