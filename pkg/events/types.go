// Package events defines provider module lifecycle alerts and their publishers.
package events

import (
	"fmt"

	"github.com/morezero/cim-broker/pkg/cim"
)

// AlertKind is the cause of a provider module alert. Values match the
// PG_ProviderModuleInstAlert AlertCause property.
type AlertKind uint16

const (
	AlertUnknown         AlertKind = 1
	AlertOther           AlertKind = 2
	AlertCreated         AlertKind = 3
	AlertDeleted         AlertKind = 4
	AlertEnabled         AlertKind = 5
	AlertDisabled        AlertKind = 6
	AlertDegraded        AlertKind = 7
	AlertFailed          AlertKind = 8
	AlertFailedRestarted AlertKind = 9
	AlertGroupChanged    AlertKind = 10
)

var alertNames = map[AlertKind]string{
	AlertUnknown:         "Unknown",
	AlertOther:           "Other",
	AlertCreated:         "Created",
	AlertDeleted:         "Deleted",
	AlertEnabled:         "Enabled",
	AlertDisabled:        "Disabled",
	AlertDegraded:        "Degraded",
	AlertFailed:          "Failed",
	AlertFailedRestarted: "FailedRestarted",
	AlertGroupChanged:    "GroupChanged",
}

func (k AlertKind) String() string {
	if n, ok := alertNames[k]; ok {
		return n
	}
	return fmt.Sprintf("AlertKind(%d)", uint16(k))
}

// ModuleAlert is published when a provider module changes state.
type ModuleAlert struct {
	Kind      AlertKind          `json:"alertCause"`
	Cause     string             `json:"cause"`
	Module    cim.ProviderModule `json:"module"`
	Timestamp string             `json:"timestamp"`
}
