package db

import (
	"time"

	"github.com/morezero/cim-broker/pkg/cim"
)

// ProviderModuleRow represents a row in the provider_modules table.
type ProviderModuleRow struct {
	Name                  string    `json:"name"`
	Vendor                string    `json:"vendor"`
	Version               string    `json:"version"`
	InterfaceType         string    `json:"interface_type"`
	InterfaceVersion      string    `json:"interface_version"`
	Location              string    `json:"location"`
	UserContext           int32     `json:"user_context"`
	DesignatedUserContext string    `json:"designated_user_context"`
	ModuleGroupName       string    `json:"module_group_name"`
	Bitness               int32     `json:"bitness"`
	OperationalStatus     []int32   `json:"operational_status"`
	Created               time.Time `json:"created"`
	Modified              time.Time `json:"modified"`
}

// ToModule converts the row to its routing view.
func (r ProviderModuleRow) ToModule() cim.ProviderModule {
	return cim.ProviderModule{
		Name:                  r.Name,
		Vendor:                r.Vendor,
		Version:               r.Version,
		InterfaceType:         r.InterfaceType,
		InterfaceVersion:      r.InterfaceVersion,
		Location:              r.Location,
		UserContext:           uint16(r.UserContext),
		DesignatedUserContext: r.DesignatedUserContext,
		ModuleGroupName:       r.ModuleGroupName,
		Bitness:               uint16(r.Bitness),
		OperationalStatus:     fromInt32s(r.OperationalStatus),
	}
}

// ModuleRow converts a module to a row. Timestamps are left zero.
func ModuleRow(m cim.ProviderModule) ProviderModuleRow {
	return ProviderModuleRow{
		Name:                  m.Name,
		Vendor:                m.Vendor,
		Version:               m.Version,
		InterfaceType:         m.InterfaceType,
		InterfaceVersion:      m.InterfaceVersion,
		Location:              m.Location,
		UserContext:           int32(m.UserContext),
		DesignatedUserContext: m.DesignatedUserContext,
		ModuleGroupName:       m.ModuleGroupName,
		Bitness:               int32(m.Bitness),
		OperationalStatus:     toInt32s(m.OperationalStatus),
	}
}

// ProviderRow represents a row in the providers table.
type ProviderRow struct {
	ModuleName string    `json:"module_name"`
	Name       string    `json:"name"`
	Created    time.Time `json:"created"`
}

// IndicationConsumerRow represents a row in the indication_consumers table.
type IndicationConsumerRow struct {
	Destination  string    `json:"destination"`
	ModuleName   string    `json:"module_name"`
	ProviderName string    `json:"provider_name"`
	Created      time.Time `json:"created"`
}

func toInt32s(in []uint16) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(in []int32) []uint16 {
	out := make([]uint16, len(in))
	for i, v := range in {
		out[i] = uint16(v)
	}
	return out
}
