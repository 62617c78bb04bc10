package commsutil

import "testing"

func TestBuildAgentSubject(t *testing.T) {
	tests := []struct {
		name  string
		group string
		want  string
	}{
		{"simple", "OOPGroup", "cim.agent.req.OOPGroup"},
		{"dotted", "vendor.group", "cim.agent.req.vendor_group"},
		{"wildcards", "a*b>c", "cim.agent.req.a_b_c"},
		{"empty", "", "cim.agent.req._"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildAgentSubject(tt.group)
			if got != tt.want {
				t.Errorf("BuildAgentSubject(%q) = %q, want %q", tt.group, got, tt.want)
			}
		})
	}
}

func TestBuildAgentStatusSubject(t *testing.T) {
	got := BuildAgentStatusSubject("My Group")
	if want := "cim.agent.status.My_Group"; got != want {
		t.Errorf("BuildAgentStatusSubject = %q, want %q", got, want)
	}
}

func TestBuildAlertSubject(t *testing.T) {
	got := BuildAlertSubject(SubjectAlerts, "OperatingSystemModule")
	if want := "cim.alerts.providermodule.OperatingSystemModule"; got != want {
		t.Errorf("BuildAlertSubject = %q, want %q", got, want)
	}
}

func TestBuildAgentIndicationAndControlSubjects(t *testing.T) {
	if got, want := BuildAgentIndicationSubject("g.1"), "cim.agent.ind.g_1"; got != want {
		t.Errorf("BuildAgentIndicationSubject = %q, want %q", got, want)
	}
	if got, want := BuildAgentControlSubject("g"), "cim.agent.ctl.g"; got != want {
		t.Errorf("BuildAgentControlSubject = %q, want %q", got, want)
	}
}
