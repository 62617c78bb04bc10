package cim

// OperationalStatus values of a provider module.
const (
	ModuleOK       uint16 = 2
	ModuleDegraded uint16 = 3
	ModuleError    uint16 = 6
	ModuleStopping uint16 = 9
	ModuleStopped  uint16 = 10
)

// UserContext values of a provider module.
const (
	UserContextRequestor  uint16 = 2
	UserContextDesignated uint16 = 3
	UserContextPrivileged uint16 = 4
	UserContextCIMServer  uint16 = 5
)

// Bitness values of a provider module.
const (
	BitnessDefault uint16 = 1
	Bitness32      uint16 = 2
	Bitness64      uint16 = 3
)

const (
	NamespaceInterop    = "root/PG_InterOp"
	ClassProviderModule = "PG_ProviderModule"
	ClassProvider       = "PG_Provider"

	// ModuleGroupCIMServer is the group of modules that always load in the server process.
	ModuleGroupCIMServer = "CIMServer"
)

// PG_ProviderModule property names.
const (
	PropName                  = "Name"
	PropVendor                = "Vendor"
	PropVersion               = "Version"
	PropInterfaceType         = "InterfaceType"
	PropInterfaceVersion      = "InterfaceVersion"
	PropLocation              = "Location"
	PropUserContext           = "UserContext"
	PropDesignatedUserContext = "DesignatedUserContext"
	PropModuleGroupName       = "ModuleGroupName"
	PropBitness               = "Bitness"
	PropOperationalStatus     = "OperationalStatus"
	PropProviderModuleName    = "ProviderModuleName"
)

// ProviderModule is the routing view of a PG_ProviderModule instance.
type ProviderModule struct {
	Name                  string   `json:"name"`
	Vendor                string   `json:"vendor,omitempty"`
	Version               string   `json:"version,omitempty"`
	InterfaceType         string   `json:"interfaceType"`
	InterfaceVersion      string   `json:"interfaceVersion"`
	Location              string   `json:"location,omitempty"`
	UserContext           uint16   `json:"userContext,omitempty"`
	DesignatedUserContext string   `json:"designatedUserContext,omitempty"`
	ModuleGroupName       string   `json:"moduleGroupName,omitempty"`
	Bitness               uint16   `json:"bitness,omitempty"`
	OperationalStatus     []uint16 `json:"operationalStatus"`
}

// ModuleFromInstance reads the routing properties of a module instance.
// Missing or mistyped properties are left at their zero values.
func ModuleFromInstance(inst *Instance) ProviderModule {
	var m ProviderModule
	if inst == nil {
		return m
	}
	str := func(name string) string {
		v, _ := inst.PropertyValue(name)
		s, _ := As[string](v)
		return s
	}
	u16 := func(name string) uint16 {
		v, _ := inst.PropertyValue(name)
		n, _ := As[uint16](v)
		return n
	}
	m.Name = str(PropName)
	m.Vendor = str(PropVendor)
	m.Version = str(PropVersion)
	m.InterfaceType = str(PropInterfaceType)
	m.InterfaceVersion = str(PropInterfaceVersion)
	m.Location = str(PropLocation)
	m.UserContext = u16(PropUserContext)
	m.DesignatedUserContext = str(PropDesignatedUserContext)
	m.ModuleGroupName = str(PropModuleGroupName)
	m.Bitness = u16(PropBitness)
	if v, ok := inst.PropertyValue(PropOperationalStatus); ok {
		m.OperationalStatus, _ = As[[]uint16](v)
	}
	return m
}

// Path returns the module's instance path in the interop namespace.
func (m ProviderModule) Path() ObjectPath {
	return NewInstancePath(NamespaceInterop, ClassProviderModule,
		KeyBinding{Name: PropName, Value: m.Name, Type: KeyString})
}

// Instance builds the PG_ProviderModule instance for m.
func (m ProviderModule) Instance() *Instance {
	inst := &Instance{Path: m.Path()}
	inst.SetProperty(PropName, MustValue(m.Name))
	inst.SetProperty(PropVendor, MustValue(m.Vendor))
	inst.SetProperty(PropVersion, MustValue(m.Version))
	inst.SetProperty(PropInterfaceType, MustValue(m.InterfaceType))
	inst.SetProperty(PropInterfaceVersion, MustValue(m.InterfaceVersion))
	inst.SetProperty(PropLocation, MustValue(m.Location))
	if m.UserContext != 0 {
		inst.SetProperty(PropUserContext, MustValue(m.UserContext))
	}
	if m.DesignatedUserContext != "" {
		inst.SetProperty(PropDesignatedUserContext, MustValue(m.DesignatedUserContext))
	}
	if m.ModuleGroupName != "" {
		inst.SetProperty(PropModuleGroupName, MustValue(m.ModuleGroupName))
	}
	if m.Bitness != 0 {
		inst.SetProperty(PropBitness, MustValue(m.Bitness))
	}
	inst.SetProperty(PropOperationalStatus, MustValue(append([]uint16{}, m.OperationalStatus...)))
	return inst
}

// HasStatus reports whether the module's OperationalStatus contains s.
func (m ProviderModule) HasStatus(s uint16) bool {
	for _, v := range m.OperationalStatus {
		if v == s {
			return true
		}
	}
	return false
}

// Blocked reports whether requests to the module must be refused.
func (m ProviderModule) Blocked() bool {
	return m.HasStatus(ModuleStopped) || m.HasStatus(ModuleStopping)
}

// EffectiveUserContext returns the module's user context, defaulting to Privileged.
func (m ProviderModule) EffectiveUserContext() uint16 {
	if m.UserContext == 0 {
		return UserContextPrivileged
	}
	return m.UserContext
}

// ApplyStatus removes every status in remove and then appends each status in
// add that is not already present. It never produces duplicates.
func ApplyStatus(current, remove, add []uint16) []uint16 {
	out := make([]uint16, 0, len(current)+len(add))
	for _, s := range current {
		if !containsStatus(remove, s) && !containsStatus(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !containsStatus(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func containsStatus(list []uint16, s uint16) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Provider is the routing view of a PG_Provider registration.
type Provider struct {
	Name               string `json:"name"`
	ProviderModuleName string `json:"providerModuleName"`
}

// Instance builds the PG_Provider instance for p.
func (p Provider) Instance() *Instance {
	inst := &Instance{Path: NewInstancePath(NamespaceInterop, ClassProvider,
		KeyBinding{Name: PropProviderModuleName, Value: p.ProviderModuleName, Type: KeyString},
		KeyBinding{Name: PropName, Value: p.Name, Type: KeyString})}
	inst.SetProperty(PropProviderModuleName, MustValue(p.ProviderModuleName))
	inst.SetProperty(PropName, MustValue(p.Name))
	return inst
}

// ProviderFromInstance reads a PG_Provider instance.
func ProviderFromInstance(inst *Instance) Provider {
	var p Provider
	if inst == nil {
		return p
	}
	if v, ok := inst.PropertyValue(PropName); ok {
		p.Name, _ = As[string](v)
	}
	if v, ok := inst.PropertyValue(PropProviderModuleName); ok {
		p.ProviderModuleName, _ = As[string](v)
	}
	return p
}
