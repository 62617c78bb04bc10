package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectProviderManager   = "cim.providermanager"
	SubjectIndicationService = "cim.indicationservice"
	SubjectAlerts            = "cim.alerts.providermodule"

	// SubjectAgentStatusAll matches the heartbeat subject of every agent.
	SubjectAgentStatusAll = "cim.agent.status.*"
)

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Token turns a name into a single subject token.
func Token(name string) string {
	if name == "" {
		return "_"
	}
	return tokenReplacer.Replace(name)
}

// BuildAgentSubject builds the request subject of the provider agent serving group.
func BuildAgentSubject(group string) string {
	return fmt.Sprintf("cim.agent.req.%s", Token(group))
}

// BuildAgentStatusSubject builds the heartbeat subject of the agent serving group.
func BuildAgentStatusSubject(group string) string {
	return fmt.Sprintf("cim.agent.status.%s", Token(group))
}

// BuildAlertSubject builds the granular alert subject for a provider module.
func BuildAlertSubject(base, module string) string {
	return fmt.Sprintf("%s.%s", base, Token(module))
}

// SubjectAgentIndicationAll matches the indication subject of every agent.
const SubjectAgentIndicationAll = "cim.agent.ind.*"

// BuildAgentIndicationSubject builds the subject an agent publishes its
// providers' indications on.
func BuildAgentIndicationSubject(group string) string {
	return fmt.Sprintf("cim.agent.ind.%s", Token(group))
}

// BuildAgentControlSubject builds the subject of housekeeping commands for
// the agent serving group.
func BuildAgentControlSubject(group string) string {
	return fmt.Sprintf("cim.agent.ctl.%s", Token(group))
}
