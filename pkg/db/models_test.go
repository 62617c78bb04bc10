package db

import (
	"reflect"
	"testing"

	"github.com/morezero/cim-broker/pkg/cim"
)

func TestModuleRow_RoundTrip(t *testing.T) {
	m := cim.ProviderModule{
		Name:                  "OSModule",
		Vendor:                "Acme",
		Version:               "1.2.3",
		InterfaceType:         "CMPI",
		InterfaceVersion:      "2.0.0",
		Location:              "libos",
		UserContext:           cim.UserContextDesignated,
		DesignatedUserContext: "svc",
		ModuleGroupName:       "os",
		Bitness:               cim.Bitness64,
		OperationalStatus:     []uint16{cim.ModuleDegraded, cim.ModuleStopped},
	}

	row := ModuleRow(m)
	if !reflect.DeepEqual(row.OperationalStatus, []int32{3, 10}) {
		t.Errorf("db:models_test - status column = %v", row.OperationalStatus)
	}
	if got := row.ToModule(); !reflect.DeepEqual(got, m) {
		t.Errorf("db:models_test - round trip = %+v, want %+v", got, m)
	}
}

func TestModuleRow_EmptyStatus(t *testing.T) {
	row := ModuleRow(cim.ProviderModule{Name: "x"})
	if row.OperationalStatus == nil || len(row.OperationalStatus) != 0 {
		t.Errorf("db:models_test - expected empty non-nil status array, got %#v", row.OperationalStatus)
	}
}
