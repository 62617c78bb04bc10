package bootstrap

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// LoadBootstrapConfig loads the bootstrap file. It tries paths in order:
// first any paths passed in, then BOOTSTRAP_FILE, then the default locations.
// When no file can be read the built-in default is returned.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BOOTSTRAP_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.yaml", "bootstrap.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		cfg, err := ParseBootstrapConfig(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s", logPrefix, p))
		return cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// ParseBootstrapConfig decodes YAML bootstrap content. Unknown keys are errors.
func ParseBootstrapConfig(data []byte) (*BootstrapConfig, error) {
	var cfg BootstrapConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s - decode: %w", logPrefix, err)
	}
	return &cfg, nil
}

// GetDefaultBootstrapConfig returns the built-in configuration: every known
// interface type is served by the in-process "default" provider manager.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:        "cim-broker-bootstrap",
		Version:     "1.0.0",
		Description: "Default provider manager map",
		ProviderManagers: []BootstrapManager{
			{Interface: "C++Default@2", Path: "default"},
			{Interface: "CMPI@2", Path: "default"},
		},
	}
}

// CreateResolvedBootstrap validates cfg and builds the lookup structures.
func CreateResolvedBootstrap(cfg *BootstrapConfig) (*ResolvedBootstrap, error) {
	entries := make([]semver.ManagerEntry, 0, len(cfg.ProviderManagers))
	for _, m := range cfg.ProviderManagers {
		e, err := m.ManagerEntry()
		if err != nil {
			return nil, fmt.Errorf("%s - provider manager %q: %w", logPrefix, m.Interface, err)
		}
		entries = append(entries, e)
	}
	managers, err := semver.NewManagerMap(entries)
	if err != nil {
		return nil, err
	}

	rb := &ResolvedBootstrap{name: cfg.Name, version: cfg.Version, managers: managers}
	seen := make(map[string]bool, len(cfg.Modules))
	for _, bm := range cfg.Modules {
		if bm.Name == "" {
			return nil, fmt.Errorf("%s - module without a name", logPrefix)
		}
		if seen[bm.Name] {
			return nil, fmt.Errorf("%s - module %s listed twice", logPrefix, bm.Name)
		}
		seen[bm.Name] = true
		pm, err := bm.ProviderModule()
		if err != nil {
			return nil, err
		}
		rb.modules = append(rb.modules, pm)
		for _, p := range bm.Providers {
			rb.providers = append(rb.providers, cim.Provider{Name: p, ProviderModuleName: bm.Name})
		}
	}
	for _, c := range cfg.Consumers {
		if !seen[c.Module] {
			return nil, fmt.Errorf("%s - consumer %s names unknown module %s", logPrefix, c.Destination, c.Module)
		}
		rb.consumers = append(rb.consumers, c)
	}
	return rb, nil
}

// MergeBootstrapConfigs merges an override config into a base config. Modules
// replace base modules of the same name; manager entries of the override are
// tried first.
func MergeBootstrapConfigs(base, override *BootstrapConfig) *BootstrapConfig {
	merged := *base
	merged.ProviderManagers = append(append([]BootstrapManager{}, override.ProviderManagers...), base.ProviderManagers...)

	byName := make(map[string]int, len(base.Modules))
	merged.Modules = append([]BootstrapModule{}, base.Modules...)
	for i, m := range merged.Modules {
		byName[m.Name] = i
	}
	for _, m := range override.Modules {
		if i, ok := byName[m.Name]; ok {
			merged.Modules[i] = m
			continue
		}
		byName[m.Name] = len(merged.Modules)
		merged.Modules = append(merged.Modules, m)
	}

	merged.Consumers = append(append([]BootstrapConsumer{}, base.Consumers...), override.Consumers...)
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}
